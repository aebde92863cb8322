// Package watchdog implements the cross-process mutual watchdog: the
// Primary and Companion processes each probe the other on a fixed cadence
// and relaunch it when it is gone.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"keepalive/config"
	"keepalive/internal/adapter/sqlite"
	"keepalive/internal/heartbeat"
	"keepalive/internal/metrics"
	"keepalive/internal/process"
	"keepalive/internal/scheduler"
	"keepalive/internal/strategy"
)

const (
	taskName      = "watchdog"
	heartbeatTask = "watchdog_heartbeat"
)

// PublishEvery is the heartbeat cadence of a watchdog probing every
// interval.
func PublishEvery(interval time.Duration) time.Duration { return interval / 4 }

// StaleAfter is the heartbeat age at which a counterpart probing every
// interval counts as gone: two missed publishes.
func StaleAfter(interval time.Duration) time.Duration { return interval / 2 }

// Prober reports whether a process with the given identity is alive.
type Prober interface {
	Alive(ctx context.Context, id process.Identity) (bool, error)
}

// Launcher starts a process. Launching an identity that is already running
// must be harmless.
type Launcher interface {
	Launch(ctx context.Context, id process.Identity) error
}

// Terminator stops a running process.
type Terminator interface {
	Terminate(ctx context.Context, id process.Identity) error
}

// Store is the part of the shared heartbeat store a watchdog uses.
type Store interface {
	PublishHeartbeat(ctx context.Context, role process.Role, rec heartbeat.Record) error
	SetStandDown(ctx context.Context, role process.Role) error
	ClearStandDown(ctx context.Context, role process.Role) error
	StandDown(ctx context.Context, role process.Role) (bool, error)
}

type Config struct {
	Self         process.Identity
	Interval     time.Duration
	ProbeTimeout time.Duration
	Scheduler    *scheduler.Scheduler
	Prober       Prober
	Launcher     Launcher
	// Terminator stops the counterpart on an intentional stop. Optional.
	Terminator Terminator
	// Store receives this process's heartbeats and stand-down markers.
	// Optional.
	Store Store
}

// Watchdog probes the counterpart of Self every Interval, delay first, and
// launches it when the probe says it is gone. A probe that errors or runs
// past ProbeTimeout counts as dead.
type Watchdog struct {
	self     process.Identity
	peer     process.Identity
	timeout  time.Duration
	sched    *scheduler.Scheduler
	prober   Prober
	launcher Launcher
	term     Terminator
	store    Store
	log      *slog.Logger

	mu        sync.Mutex
	interval  time.Duration
	task      *scheduler.Task
	heartbeat *scheduler.Task

	checks    atomic.Uint64
	launches  atomic.Uint64
	peerAlive atomic.Bool
}

func New(cfg Config) (*Watchdog, error) {
	if cfg.Self.Role.Counterpart() == "" {
		return nil, fmt.Errorf("role %q has no counterpart", cfg.Self.Role)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("watchdog interval must be positive, got %s", cfg.Interval)
	}
	if cfg.ProbeTimeout <= 0 || cfg.ProbeTimeout >= cfg.Interval {
		return nil, fmt.Errorf("probe timeout %s must be positive and shorter than the interval", cfg.ProbeTimeout)
	}
	if cfg.Scheduler == nil || cfg.Prober == nil || cfg.Launcher == nil {
		return nil, errors.New("watchdog requires a scheduler, prober and launcher")
	}
	peer := cfg.Self
	peer.Role = cfg.Self.Role.Counterpart()
	return &Watchdog{
		self:     cfg.Self,
		peer:     peer,
		interval: cfg.Interval,
		timeout:  cfg.ProbeTimeout,
		sched:    cfg.Scheduler,
		prober:   cfg.Prober,
		launcher: cfg.Launcher,
		term:     cfg.Terminator,
		store:    cfg.Store,
		log:      slog.With("component", "watchdog", "role", cfg.Self.Role, "peer", peer.Role),
	}, nil
}

// FromConfig builds the watchdog for role from cfg: the configured prober,
// the exec launcher and the PID-file terminator. store may be nil unless
// the heartbeat probe is configured.
func FromConfig(cfg config.Config, role process.Role, extra []string, sched *scheduler.Scheduler, store *sqlite.Store) (*Watchdog, error) {
	prober, err := ProberFor(cfg, store)
	if err != nil {
		return nil, err
	}
	wc := Config{
		Self:         process.Identity{Executable: cfg.Executable, Role: role, Extra: extra},
		Interval:     cfg.Watchdog.Interval,
		ProbeTimeout: cfg.Watchdog.ProbeTimeout,
		Scheduler:    sched,
		Prober:       prober,
		Launcher:     process.ExecLauncher{DataDir: cfg.DataDir},
		Terminator:   process.PIDTerminator{DataDir: cfg.DataDir},
	}
	if store != nil {
		wc.Store = store
	}
	return New(wc)
}

// ProberFor returns the prober selected by cfg.Watchdog.Probe.
func ProberFor(cfg config.Config, store *sqlite.Store) (Prober, error) {
	switch cfg.Watchdog.Probe {
	case config.ProbeHeartbeat:
		if store == nil {
			return nil, errors.New("heartbeat probe requires the shared store")
		}
		return sqlite.HeartbeatProber{Store: store, StaleAfter: StaleAfter(cfg.Watchdog.Interval)}, nil
	case config.ProbeProcess, "":
		return process.Table{}, nil
	default:
		return nil, fmt.Errorf("unknown probe %q", cfg.Watchdog.Probe)
	}
}

func (w *Watchdog) Kind() strategy.Kind { return strategy.KindDualProcess }

// Start clears this role's stand-down marker, publishes a first heartbeat
// and schedules the probe loop. With a store, heartbeats are published every
// PublishEvery(interval) so a stalled process goes stale within half an
// interval.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	interval := w.interval
	w.mu.Unlock()

	var hb *scheduler.Task
	if w.store != nil {
		if err := w.store.ClearStandDown(ctx, w.self.Role); err != nil {
			w.log.Warn("clear stand-down marker failed", "err", err)
		}
		w.publish(ctx)
		hb = w.sched.Every(heartbeatTask, PublishEvery(interval), w.publish)
	}
	task := w.sched.Every(taskName, interval, func(ctx context.Context) { w.Check(ctx) })

	w.mu.Lock()
	w.task, w.heartbeat = task, hb
	w.mu.Unlock()
	w.log.Debug("watchdog started", "interval", interval, "probe_timeout", w.timeout)
	return nil
}

// Check runs one probe-and-launch pass and reports whether the counterpart
// was found alive.
func (w *Watchdog) Check(ctx context.Context) bool {
	w.checks.Add(1)

	alive := w.probe(ctx)
	w.peerAlive.Store(alive)
	if alive {
		return true
	}
	w.log.Info("counterpart absent, launching")
	w.launch(ctx, "watchdog")
	return false
}

func (w *Watchdog) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	type result struct {
		alive bool
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		alive, err := w.prober.Alive(probeCtx, w.peer)
		ch <- result{alive, err}
	}()

	role := string(w.self.Role)
	select {
	case r := <-ch:
		switch {
		case r.err != nil:
			w.log.Debug("probe failed, assuming dead", "err", r.err)
			metrics.Probes.WithLabelValues(role, "error").Inc()
			return false
		case r.alive:
			metrics.Probes.WithLabelValues(role, "alive").Inc()
			return true
		default:
			metrics.Probes.WithLabelValues(role, "dead").Inc()
			return false
		}
	case <-probeCtx.Done():
		w.log.Debug("probe timed out, assuming dead", "timeout", w.timeout)
		metrics.Probes.WithLabelValues(role, "timeout").Inc()
		return false
	}
}

func (w *Watchdog) launch(ctx context.Context, source string) {
	w.launches.Add(1)
	metrics.Resurrections.WithLabelValues(source).Inc()
	if err := w.launcher.Launch(ctx, w.peer); err != nil {
		w.log.Warn("launch counterpart failed", "err", err)
	}
}

func (w *Watchdog) publish(ctx context.Context) {
	if w.store == nil {
		return
	}
	rec := heartbeat.Record{ProcessID: os.Getpid(), Timestamp: heartbeat.BootTime()}
	if err := w.store.PublishHeartbeat(ctx, w.self.Role, rec); err != nil {
		w.log.Debug("publish heartbeat failed", "err", err)
	}
}

func (w *Watchdog) cancel() {
	w.mu.Lock()
	w.task, w.heartbeat = nil, nil
	w.mu.Unlock()
	w.sched.Cancel(taskName)
	w.sched.Cancel(heartbeatTask)
}

// Stop is the intentional shutdown: it stops probing, asks the counterpart
// to stand down and terminates it.
func (w *Watchdog) Stop(ctx context.Context) error {
	w.cancel()

	var errs []error
	if w.store != nil {
		if err := w.store.SetStandDown(ctx, w.peer.Role); err != nil {
			errs = append(errs, err)
		}
	}
	if w.term != nil {
		if err := w.term.Terminate(ctx, w.peer); err != nil {
			errs = append(errs, fmt.Errorf("terminate %s: %w", w.peer.Role, err))
		}
	}
	return errors.Join(errs...)
}

// Detach is the host-initiated teardown: probing stops and, unless this
// role was asked to stand down, the counterpart is launched one last time
// without probing first.
func (w *Watchdog) Detach(ctx context.Context) {
	w.cancel()
	if w.StandingDown(ctx) {
		w.log.Info("standing down, skipping final resurrection")
		return
	}
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	w.log.Info("final resurrection attempt")
	w.launch(finalCtx, "watchdog_final")
}

// StandingDown reports whether this role has been asked to stay down.
func (w *Watchdog) StandingDown(ctx context.Context) bool {
	if w.store == nil {
		return false
	}
	down, err := w.store.StandDown(ctx, w.self.Role)
	if err != nil {
		w.log.Debug("read stand-down marker failed", "err", err)
		return false
	}
	return down
}

func (w *Watchdog) Schedule(interval time.Duration) {
	if interval <= w.timeout {
		return
	}
	w.mu.Lock()
	w.interval = interval
	task, hb := w.task, w.heartbeat
	w.mu.Unlock()
	if task != nil {
		task.Reset(interval)
	}
	if hb != nil {
		hb.Reset(PublishEvery(interval))
	}
}

// Peer returns the identity this watchdog resurrects.
func (w *Watchdog) Peer() process.Identity { return w.peer }

func (w *Watchdog) Checks() uint64   { return w.checks.Load() }
func (w *Watchdog) Launches() uint64 { return w.launches.Load() }

func (w *Watchdog) Report() map[string]string {
	return map[string]string{
		"peer":       string(w.peer.Role),
		"peer_alive": strconv.FormatBool(w.peerAlive.Load()),
		"checks":     strconv.FormatUint(w.Checks(), 10),
		"launches":   strconv.FormatUint(w.Launches(), 10),
	}
}
