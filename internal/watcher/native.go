package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"keepalive/config"
	"keepalive/internal/heartbeat"
	"keepalive/internal/process"
	"keepalive/internal/scheduler"
	"keepalive/internal/strategy"
	"keepalive/internal/watchdog"
)

const (
	serveTask   = "native.socket"
	monitorTask = "native.monitor"
)

// NativeDaemon is the runtime side of the out-of-runtime resurrection path.
// It spawns the watcher process and, in socket mode, serves the heartbeat
// link the watcher connects to.
type NativeDaemon struct {
	cfg        config.NativeConfig
	socketPath string
	executable string
	target     process.Identity
	sched      *scheduler.Scheduler
	spawner    Spawner
	term       watchdog.Terminator
	log        *slog.Logger

	mu      sync.Mutex
	server  *heartbeat.Server
	monitor *heartbeat.Monitor
	bindErr error
	spawns  int
}

type NativeDaemonConfig struct {
	Native     config.NativeConfig
	SocketPath string
	// Target is the Primary identity the watcher resurrects.
	Target    process.Identity
	Scheduler *scheduler.Scheduler
	Spawner   Spawner
	// Terminator stops the watcher on an intentional stop. Optional.
	Terminator watchdog.Terminator
}

func NewNativeDaemon(cfg NativeDaemonConfig) *NativeDaemon {
	return &NativeDaemon{
		cfg:        cfg.Native,
		socketPath: cfg.SocketPath,
		executable: cfg.Target.Executable,
		target:     cfg.Target,
		sched:      cfg.Scheduler,
		spawner:    cfg.Spawner,
		term:       cfg.Terminator,
		log:        slog.With("component", "native-daemon"),
	}
}

// NativeDaemonFrom wires the daemon from cfg with the exec spawner and the
// PID-file terminator.
func NativeDaemonFrom(cfg config.Config, extra []string, sched *scheduler.Scheduler) *NativeDaemon {
	return NewNativeDaemon(NativeDaemonConfig{
		Native:     cfg.Native,
		SocketPath: cfg.SocketPath(),
		Target:     process.Identity{Executable: cfg.Executable, Role: process.RolePrimary, Extra: extra},
		Scheduler:  sched,
		Spawner:    ExecSpawner{DataDir: cfg.DataDir},
		Terminator: process.PIDTerminator{DataDir: cfg.DataDir},
	})
}

func (d *NativeDaemon) Kind() strategy.Kind { return strategy.KindNative }

// Start binds the heartbeat socket (socket mode) and spawns the watcher. A
// bind failure disables socket mode only.
func (d *NativeDaemon) Start(ctx context.Context) error {
	if d.cfg.Socket.Enabled {
		d.startSocket()
	}
	if err := d.spawn(ctx); err != nil {
		d.closeSocket(true)
		return err
	}
	return nil
}

func (d *NativeDaemon) startSocket() {
	s := d.cfg.Socket
	monitor := heartbeat.NewMonitor(heartbeat.MonitorConfig{
		Name:            "runtime",
		Interval:        s.HeartbeatInterval,
		MissedThreshold: s.MissedThreshold,
		Backoff:         s.ResurrectBackoff,
		Resurrect:       d.respawn,
	})
	server, err := heartbeat.Listen(heartbeat.ServerConfig{
		Path:     d.socketPath,
		SenderID: uint32(os.Getpid()),
		Interval: s.HeartbeatInterval,
		Monitor:  monitor,
	})
	if err != nil {
		d.mu.Lock()
		d.bindErr = err
		d.mu.Unlock()
		d.log.Warn("socket heartbeat disabled", "err", err)
		return
	}

	d.mu.Lock()
	d.server, d.monitor, d.bindErr = server, monitor, nil
	d.mu.Unlock()

	d.sched.Go(serveTask, func(ctx context.Context) {
		if err := server.Serve(ctx); err != nil {
			d.log.Warn("heartbeat server stopped", "err", err)
		}
	})
	d.sched.Go(monitorTask, monitor.Run)
}

func (d *NativeDaemon) spawn(ctx context.Context) error {
	d.mu.Lock()
	d.spawns++
	d.mu.Unlock()
	if err := d.spawner.Spawn(ctx, d.executable, d.target); err != nil {
		return fmt.Errorf("spawn watcher: %w", err)
	}
	return nil
}

// respawn runs when the watcher's link has been dead for the missed
// threshold. The watcher is only respawned in daemon mode.
func (d *NativeDaemon) respawn() {
	if !d.cfg.Daemon.Enabled {
		d.log.Info("watcher link dead; daemon mode disabled, not respawning")
		return
	}
	if err := d.spawn(context.Background()); err != nil {
		d.log.Warn("respawn watcher failed", "err", err)
	}
}

func (d *NativeDaemon) closeSocket(bye bool) {
	d.mu.Lock()
	server := d.server
	d.server, d.monitor = nil, nil
	d.mu.Unlock()
	if server != nil {
		if bye {
			server.Shutdown()
		} else {
			server.Abandon()
		}
	}
	d.sched.Cancel(serveTask)
	d.sched.Cancel(monitorTask)
}

// Stop says bye to the watcher and terminates it.
func (d *NativeDaemon) Stop(ctx context.Context) error {
	d.closeSocket(true)
	if d.term == nil {
		return nil
	}
	if err := d.term.Terminate(ctx, Identity(d.executable, d.target)); err != nil {
		return fmt.Errorf("terminate watcher: %w", err)
	}
	return nil
}

// Detach drops the socket without a bye, leaving the watcher to treat this
// process as dead and resurrect it.
func (d *NativeDaemon) Detach(context.Context) {
	d.closeSocket(false)
}

func (d *NativeDaemon) Schedule(time.Duration) {}

// BindError returns the socket bind failure from the last start, if any.
func (d *NativeDaemon) BindError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bindErr
}

// LinkPhase returns the heartbeat link phase, or Disconnected when the
// socket is not being served.
func (d *NativeDaemon) LinkPhase() heartbeat.ConnPhase {
	d.mu.Lock()
	m := d.monitor
	d.mu.Unlock()
	if m == nil {
		return heartbeat.Disconnected
	}
	return m.Phase()
}

// Spawns returns how many times the watcher has been spawned.
func (d *NativeDaemon) Spawns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spawns
}

func (d *NativeDaemon) Report() map[string]string {
	d.mu.Lock()
	server, bindErr, spawns := d.server, d.bindErr, d.spawns
	d.mu.Unlock()

	out := map[string]string{
		"daemon": strconv.FormatBool(d.cfg.Daemon.Enabled),
		"link":   d.LinkPhase().String(),
		"spawns": strconv.Itoa(spawns),
	}
	var be *heartbeat.BindError
	if errors.As(bindErr, &be) {
		out["socket_error"] = be.Error()
	}
	if server != nil {
		out["sessions"] = strconv.Itoa(len(server.Sessions()))
	}
	return out
}
