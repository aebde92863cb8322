package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"keepalive/config"
	"keepalive/internal/heartbeat"
	"keepalive/internal/metrics"
	"keepalive/internal/process"
	"keepalive/internal/scheduler"
	"keepalive/internal/watchdog"
)

// Notifier reports service state to a supervisor.
type Notifier interface {
	Notify(state string) error
	// WatchdogInterval returns how often the supervisor expects a
	// keep-alive, or 0 when it does not.
	WatchdogInterval() time.Duration
}

// SystemdNotifier talks to systemd through $NOTIFY_SOCKET. Outside systemd
// every call is a no-op.
type SystemdNotifier struct{}

func (SystemdNotifier) Notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

func (SystemdNotifier) WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

type Config struct {
	Target process.Identity

	// Poll enables daemon mode: probe Target every PollInterval.
	Poll         bool
	PollInterval time.Duration
	ProbeTimeout time.Duration

	// Socket enables the heartbeat link to the runtime at SocketPath.
	Socket            bool
	SocketPath        string
	HeartbeatInterval time.Duration
	MissedThreshold   int
	Backoff           time.Duration

	Prober   watchdog.Prober
	Launcher watchdog.Launcher
	// Notifier defaults to SystemdNotifier.
	Notifier Notifier
}

// ConfigFrom derives the watcher configuration from cfg.
func ConfigFrom(cfg config.Config, extra []string) Config {
	return Config{
		Target:            process.Identity{Executable: cfg.Executable, Role: process.RolePrimary, Extra: extra},
		Poll:              cfg.Native.Daemon.Enabled,
		PollInterval:      cfg.Native.Daemon.Interval,
		ProbeTimeout:      min(cfg.Watchdog.ProbeTimeout, cfg.Native.Daemon.Interval/2),
		Socket:            cfg.Native.Socket.Enabled,
		SocketPath:        cfg.SocketPath(),
		HeartbeatInterval: cfg.Native.Socket.HeartbeatInterval,
		MissedThreshold:   cfg.Native.Socket.MissedThreshold,
		Backoff:           cfg.Native.Socket.ResurrectBackoff,
		Prober:            process.Table{},
		Launcher:          process.ExecLauncher{DataDir: cfg.DataDir},
	}
}

// Watcher is the out-of-runtime resurrection path for the Primary. It runs
// in its own process, outside the runtime's scheduler.
type Watcher struct {
	cfg      Config
	notifier Notifier
	log      *slog.Logger

	monitor  *heartbeat.Monitor
	client   *heartbeat.Client
	launches atomic.Uint64
}

func New(cfg Config) (*Watcher, error) {
	if !cfg.Poll && !cfg.Socket {
		return nil, errors.New("watcher has nothing to do: daemon and socket modes are both disabled")
	}
	if cfg.Launcher == nil {
		return nil, errors.New("watcher requires a launcher")
	}
	if cfg.Poll && (cfg.Prober == nil || cfg.PollInterval <= 0 || cfg.ProbeTimeout <= 0) {
		return nil, errors.New("daemon mode requires a prober, a poll interval and a probe timeout")
	}
	if cfg.Socket && (cfg.SocketPath == "" || cfg.HeartbeatInterval <= 0) {
		return nil, errors.New("socket mode requires a socket path and a heartbeat interval")
	}
	n := cfg.Notifier
	if n == nil {
		n = SystemdNotifier{}
	}
	w := &Watcher{
		cfg:      cfg,
		notifier: n,
		log:      slog.With("component", "watcher", "target", cfg.Target.Role),
	}
	if cfg.Socket {
		// Monitor.Run drops a pending resurrection on return.
		w.monitor = heartbeat.NewMonitor(heartbeat.MonitorConfig{
			Name:            "watcher",
			Interval:        cfg.HeartbeatInterval,
			MissedThreshold: cfg.MissedThreshold,
			Backoff:         cfg.Backoff,
			Resurrect:       func() { w.relaunch(context.Background(), "socket") },
		})
		w.client = heartbeat.NewClient(heartbeat.ClientConfig{
			Path:     cfg.SocketPath,
			SenderID: uint32(os.Getpid()),
			Interval: cfg.HeartbeatInterval,
			Monitor:  w.monitor,
		})
	}
	return w, nil
}

// Run polls and holds the heartbeat link until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if w.cfg.Socket {
		// The runtime that spawned us is expected to connect; silence from
		// the start counts as missed beats.
		w.monitor.Arm()
		g.Go(func() error {
			w.monitor.Run(ctx)
			return nil
		})
		g.Go(func() error { return w.client.Run(ctx) })
	}
	if w.cfg.Poll {
		g.Go(func() error {
			w.poll(ctx)
			return nil
		})
	}
	if interval := w.notifier.WatchdogInterval(); interval > 0 {
		g.Go(func() error {
			w.keepSupervisorAlive(ctx, interval/2)
			return nil
		})
	}

	if err := w.notifier.Notify(daemon.SdNotifyReady); err != nil {
		w.log.Debug("notify ready failed", "err", err)
	}
	w.log.Info("watcher running", "poll", w.cfg.Poll, "socket", w.cfg.Socket)

	err := g.Wait()
	if nerr := w.notifier.Notify(daemon.SdNotifyStopping); nerr != nil {
		w.log.Debug("notify stopping failed", "err", nerr)
	}
	return err
}

// poll probes the target every PollInterval, delay first.
func (w *Watcher) poll(ctx context.Context) {
	for scheduler.Sleep(ctx, w.cfg.PollInterval) {
		if !w.alive(ctx) {
			w.log.Info("target absent, relaunching")
			w.relaunch(ctx, "poll")
		}
	}
}

func (w *Watcher) alive(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	defer cancel()
	alive, err := w.cfg.Prober.Alive(probeCtx, w.cfg.Target)
	if err != nil {
		w.log.Debug("probe failed, assuming dead", "err", err)
		metrics.Probes.WithLabelValues(string(process.RoleWatcher), "error").Inc()
		return false
	}
	result := "dead"
	if alive {
		result = "alive"
	}
	metrics.Probes.WithLabelValues(string(process.RoleWatcher), result).Inc()
	return alive
}

func (w *Watcher) relaunch(ctx context.Context, source string) {
	if ctx.Err() != nil {
		return
	}
	w.launches.Add(1)
	if source == "poll" {
		metrics.Resurrections.WithLabelValues("watcher_poll").Inc()
	}
	if err := w.cfg.Launcher.Launch(ctx, w.cfg.Target); err != nil {
		w.log.Warn("relaunch failed", "source", source, "err", err)
	}
}

func (w *Watcher) keepSupervisorAlive(ctx context.Context, every time.Duration) {
	for scheduler.Sleep(ctx, every) {
		if err := w.notifier.Notify(daemon.SdNotifyWatchdog); err != nil {
			w.log.Debug("notify watchdog failed", "err", err)
		}
	}
}

// Launches returns how many times the target has been relaunched.
func (w *Watcher) Launches() uint64 { return w.launches.Load() }

// LinkPhase returns the heartbeat link phase, or Disconnected without
// socket mode.
func (w *Watcher) LinkPhase() heartbeat.ConnPhase {
	if w.monitor == nil {
		return heartbeat.Disconnected
	}
	return w.monitor.Phase()
}

// RunProcess runs the watcher as the watcher role: it takes the role lock
// (exiting quietly when another watcher holds it) and runs until ctx ends.
func RunProcess(ctx context.Context, cfg config.Config, extra []string) error {
	lock, err := process.AcquireRole(ctx, cfg.DataDir, process.RoleWatcher, 2*cfg.Native.Daemon.Interval)
	if err != nil {
		if errors.Is(err, process.ErrRoleHeld) {
			slog.Info("watcher already running", "component", "watcher")
			return nil
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Debug("release watcher lock failed", "component", "watcher", "err", err)
		}
	}()

	w, err := New(ConfigFrom(cfg, extra))
	if err != nil {
		return fmt.Errorf("configure watcher: %w", err)
	}
	return w.Run(ctx)
}
