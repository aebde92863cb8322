package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Source is one subscription to host events that suggest liveness should be
// reasserted.
type Source interface {
	Name() string
	// Open subscribes. A source that fails to open is skipped.
	Open() error
	// Run delivers events until ctx is done, then releases the subscription.
	Run(ctx context.Context, emit func(reason string))
}

// SignalSource wakes on process signals.
type SignalSource struct {
	name    string
	signals []os.Signal
	ch      chan os.Signal
}

func NewSignalSource(name string, signals ...os.Signal) *SignalSource {
	return &SignalSource{name: name, signals: signals}
}

func (s *SignalSource) Name() string { return s.name }

func (s *SignalSource) Open() error {
	if len(s.signals) == 0 {
		return errors.New("no signals to watch")
	}
	s.ch = make(chan os.Signal, 4)
	signal.Notify(s.ch, s.signals...)
	return nil
}

func (s *SignalSource) Run(ctx context.Context, emit func(string)) {
	defer signal.Stop(s.ch)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-s.ch:
			emit(s.name + " " + sig.String())
		}
	}
}

// PathSource wakes when entries appear in or disappear from a directory:
// device nodes, mount points, or observed content.
type PathSource struct {
	name    string
	path    string
	create  bool
	watcher *fsnotify.Watcher
}

func NewPathSource(name, path string) *PathSource {
	return &PathSource{name: name, path: path}
}

// NewObservedPath is a PathSource whose directory is created if missing.
func NewObservedPath(name, path string) *PathSource {
	return &PathSource{name: name, path: path, create: true}
}

func (s *PathSource) Name() string { return s.name }

func (s *PathSource) Path() string { return s.path }

func (s *PathSource) Open() error {
	if s.create {
		if err := os.MkdirAll(s.path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", s.path, err)
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}
	s.watcher = w
	return nil
}

func (s *PathSource) Run(ctx context.Context, emit func(string)) {
	defer s.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			emit(s.name + " " + ev.Op.String())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("path watch error", "component", "strategy", "source", s.name, "err", err)
		}
	}
}

// sourceSet runs a group of sources on the scheduler, each in its own task.
type sourceSet struct {
	env    Env
	log    *slog.Logger
	prefix string

	mu     sync.Mutex
	active []string
	failed []string
	events atomic.Uint64
}

// start opens every source and runs those that opened. It returns how many
// are running.
func (s *sourceSet) start(sources []Source) int {
	s.stop()

	var active, failed []string
	for _, src := range sources {
		if err := src.Open(); err != nil {
			s.log.Warn("source unavailable", "source", src.Name(), "err", err)
			failed = append(failed, src.Name())
			continue
		}
		s.env.Scheduler.Go(s.taskName(src.Name()), func(ctx context.Context) {
			src.Run(ctx, func(reason string) {
				s.events.Add(1)
				wake(ctx, s.env, s.log, reason)
			})
		})
		active = append(active, src.Name())
	}

	s.mu.Lock()
	s.active, s.failed = active, failed
	s.mu.Unlock()
	return len(active)
}

func (s *sourceSet) stop() {
	s.mu.Lock()
	active := s.active
	s.active, s.failed = nil, nil
	s.mu.Unlock()
	for _, name := range active {
		s.env.Scheduler.Cancel(s.taskName(name))
	}
}

func (s *sourceSet) taskName(source string) string {
	return s.prefix + "." + source
}

func (s *sourceSet) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.active)
}

func (s *sourceSet) report() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{
		"sources": fmt.Sprint(s.active),
		"events":  fmt.Sprint(s.events.Load()),
	}
	if len(s.failed) > 0 {
		out["unavailable"] = fmt.Sprint(s.failed)
	}
	return out
}
