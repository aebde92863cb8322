// Package scheduler runs cooperative periodic tasks, one goroutine per task.
//
// A task's only suspension point is the delay between iterations. Cancelling a
// task (or stopping the scheduler) signals it through its context and waits
// for the in-flight iteration to return; iterations are never interrupted.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"keepalive/internal/check"
)

// Func is one iteration of a periodic task, or the body of a long-running one.
type Func func(ctx context.Context)

type taskConfig struct {
	immediate bool
}

// TaskOption configures a periodic task.
type TaskOption func(*taskConfig)

// Immediate runs the first iteration before the first delay.
func Immediate() TaskOption {
	return func(c *taskConfig) { c.immediate = true }
}

// Task is a handle to a scheduled task.
type Task struct {
	name     string
	cancel   context.CancelFunc
	done     chan struct{}
	reset    chan time.Duration
	interval atomic.Int64
	runs     atomic.Uint64
}

func (t *Task) Name() string { return t.name }

// Interval returns the current delay between iterations.
func (t *Task) Interval() time.Duration { return time.Duration(t.interval.Load()) }

// Runs returns how many iterations have completed.
func (t *Task) Runs() uint64 { return t.runs.Load() }

// Done is closed once the task goroutine has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Reset changes the delay between iterations without restarting the task.
// The pending delay restarts with the new interval.
func (t *Task) Reset(interval time.Duration) {
	if interval <= 0 || t.reset == nil {
		return
	}
	t.interval.Store(int64(interval))
	select {
	case t.reset <- interval:
	default:
		// A reset is already queued; the loop reads the interval field.
	}
}

func (t *Task) stop() {
	t.cancel()
	<-t.done
}

// Scheduler owns a set of named tasks.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	rootCtx context.Context
	log     *slog.Logger
}

func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		tasks:   make(map[string]*Task),
		rootCtx: ctx,
		log:     slog.With("component", "scheduler"),
	}
}

// Every schedules fn to run every interval, delay first unless Immediate is
// given. A task already registered under name is stopped and replaced.
func (s *Scheduler) Every(name string, interval time.Duration, fn Func, opts ...TaskOption) *Task {
	check.Assertf(interval > 0, "task %s: interval must be positive, got %s", name, interval)
	var cfg taskConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	t := &Task{name: name, done: make(chan struct{}), reset: make(chan time.Duration, 1)}
	t.interval.Store(int64(interval))
	s.start(t, func(ctx context.Context) { t.loop(ctx, fn, cfg.immediate) })
	return t
}

// Go runs fn once in its own goroutine, tracked and cancelled like a periodic
// task. fn must return when ctx is done.
func (s *Scheduler) Go(name string, fn Func) *Task {
	t := &Task{name: name, done: make(chan struct{})}
	s.start(t, func(ctx context.Context) {
		fn(ctx)
		t.runs.Add(1)
	})
	return t
}

func (s *Scheduler) start(t *Task, body func(ctx context.Context)) {
	s.mu.Lock()
	existing, ok := s.tasks[t.name]
	if ok {
		delete(s.tasks, t.name)
	}
	s.mu.Unlock()
	if ok {
		s.log.Debug("replacing task", "task", t.name)
		existing.stop()
	}

	ctx, cancel := context.WithCancel(s.rootCtx)
	t.cancel = cancel

	s.mu.Lock()
	s.tasks[t.name] = t
	s.mu.Unlock()

	go func() {
		defer close(t.done)
		body(ctx)
	}()
}

// Cancel stops the named task and waits for it. Unknown names are ignored.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	t.stop()
	s.log.Debug("task stopped", "task", name)
}

// Stop cancels every task and waits for all of them. The scheduler stays
// usable afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	clear(s.tasks)
	s.mu.Unlock()

	if len(tasks) > 0 {
		s.log.Debug("stopping all tasks", "count", len(tasks))
	}
	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (t *Task) loop(ctx context.Context, fn Func, immediate bool) {
	if immediate {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
		t.runs.Add(1)
	}
	for {
		if !t.wait(ctx) {
			return
		}
		fn(ctx)
		t.runs.Add(1)
	}
}

// wait sleeps for the task interval, restarting the delay on Reset. It
// returns false once ctx is done.
func (t *Task) wait(ctx context.Context) bool {
	timer := time.NewTimer(t.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(t.Interval())
		case <-timer.C:
			return true
		}
	}
}

// Sleep waits for d or until ctx is done, reporting whether the full delay
// elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
