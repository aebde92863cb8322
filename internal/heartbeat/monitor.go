package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"keepalive/internal/metrics"
)

const defaultMaxBackoff = time.Minute

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// Name labels logs and metrics ("runtime", "watcher").
	Name string
	// Interval is the expected beat cadence; Run ticks at this rate.
	Interval time.Duration
	// MissedThreshold is the number of silent intervals that mean death.
	MissedThreshold int
	// Backoff is the initial delay before a resurrection fires. Consecutive
	// deaths grow it exponentially up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Resurrect is invoked once per death, after the backoff, unless a
	// handshake arrives first.
	Resurrect func()
}

// Monitor tracks one peer's liveness from the frames it sends.
//
// Missed-beat counting is armed by the first handshake (or Arm) and disarmed
// by a bye, so a peer that said goodbye is never resurrected.
type Monitor struct {
	cfg MonitorConfig
	log *slog.Logger

	mu            sync.Mutex
	phase         ConnPhase
	armed         bool
	missed        int
	beatSinceTick bool
	backoff       *backoff.ExponentialBackOff
	pending       *time.Timer
	generation    uint64
	resurrections uint64
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MissedThreshold < 1 {
		cfg.MissedThreshold = 1
	}
	return &Monitor{
		cfg:   cfg,
		log:   slog.With("component", "heartbeat-monitor", "link", cfg.Name),
		phase: Disconnected,
		backoff: backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(cfg.Backoff),
			backoff.WithMaxInterval(cfg.MaxBackoff),
			backoff.WithMaxElapsedTime(0),
			backoff.WithRandomizationFactor(0),
		),
	}
}

// Phase returns the current link phase.
func (m *Monitor) Phase() ConnPhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Missed returns the current count of consecutive silent intervals.
func (m *Monitor) Missed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.missed
}

// Resurrections returns how many resurrections have fired.
func (m *Monitor) Resurrections() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resurrections
}

// Pending reports whether a resurrection is waiting out its backoff.
func (m *Monitor) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// Arm starts counting missed beats before any handshake, for a side that
// expects its peer to connect. A peer that never does is declared dead after
// MissedThreshold intervals.
func (m *Monitor) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = true
}

// Handshake records a hello from the peer. It arms miss counting and cancels
// any resurrection still waiting out its backoff.
func (m *Monitor) Handshake() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopPending() {
		m.log.Info("peer reconnected during backoff, resurrection cancelled")
	}
	m.armed = true
	m.missed = 0
	m.beatSinceTick = true
	if m.phase != Connected {
		m.setPhase(Connected)
	}
}

// Beat records a heartbeat frame from the peer.
func (m *Monitor) Beat() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.beatSinceTick = true
	m.missed = 0
	switch m.phase {
	case Degraded:
		m.setPhase(Connected)
	case Connected:
		m.backoff.Reset()
	}
}

// Closed records the end of the connection. An intentional close (preceded
// by bye) disarms the monitor; an unexpected one degrades the link and lets
// the miss count decide.
func (m *Monitor) Closed(intentional bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if intentional {
		m.stopPending()
		m.armed = false
		m.missed = 0
		if m.phase != Disconnected {
			m.setPhase(Disconnected)
		}
		return
	}
	if m.phase == Connected {
		m.setPhase(Degraded)
	}
}

// Tick closes one beat interval. An interval without a beat is a miss;
// reaching the threshold declares the peer dead and schedules resurrection.
func (m *Monitor) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.armed {
		return
	}
	if m.beatSinceTick {
		m.beatSinceTick = false
		return
	}
	if m.pending != nil {
		return
	}

	m.missed++
	metrics.HeartbeatMissed.WithLabelValues(m.cfg.Name).Inc()
	m.log.Debug("heartbeat missed", "missed", m.missed, "threshold", m.cfg.MissedThreshold)

	if m.phase == Connected || m.phase == Disconnected {
		m.setPhase(Degraded)
	}
	if m.missed < m.cfg.MissedThreshold {
		return
	}

	m.setPhase(Dead)
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.cfg.MaxBackoff
	}
	m.generation++
	gen := m.generation
	m.pending = time.AfterFunc(delay, func() { m.fire(gen) })
	m.log.Warn("peer declared dead, resurrection scheduled", "backoff", delay)
	m.missed = 0
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.pending == nil {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.resurrections++
	m.setPhase(Disconnected)
	m.mu.Unlock()

	metrics.Resurrections.WithLabelValues(m.cfg.Name).Inc()
	m.log.Info("resurrecting peer")
	if m.cfg.Resurrect != nil {
		m.cfg.Resurrect()
	}
}

// Run ticks every Interval until ctx is done, then drops any pending
// resurrection.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	defer m.cancelPending()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

func (m *Monitor) cancelPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopPending()
}

// stopPending drops a scheduled resurrection. A link left Dead by it returns
// to Disconnected. Callers hold m.mu.
func (m *Monitor) stopPending() bool {
	if m.pending == nil {
		return false
	}
	m.pending.Stop()
	m.pending = nil
	m.generation++
	if m.phase == Dead {
		m.setPhase(Disconnected)
	}
	return true
}

func (m *Monitor) setPhase(to ConnPhase) {
	from := m.phase
	m.phase = from.Transition(to)
	if m.phase != from {
		m.log.Debug("link phase", "from", from, "to", m.phase)
	}
}
