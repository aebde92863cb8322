package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"keepalive/internal/scheduler"
)

// workRetries bounds how often a failed work run is retried before it waits
// for the next period.
const workRetries = 3

var workRetryInterval = time.Second

// Periodic wakes the orchestrator on a fixed cadence. The three kinds differ
// in how a run is scheduled:
//
//   - job: a plain ticker.
//   - work: a ticker whose runs retry a failing check with exponential backoff.
//   - alarm: a one-shot timer re-armed after every firing, so the period is
//     measured from the end of the previous run.
type Periodic struct {
	kind Kind
	env  Env
	log  *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	task     *scheduler.Task
	rearm    chan struct{}
	runs     atomic.Uint64
}

func NewJob(env Env, interval time.Duration) *Periodic {
	return newPeriodic(KindJob, env, interval)
}

func NewWork(env Env, interval time.Duration) *Periodic {
	return newPeriodic(KindWork, env, interval)
}

func NewAlarm(env Env, interval time.Duration) *Periodic {
	return newPeriodic(KindAlarm, env, interval)
}

func newPeriodic(kind Kind, env Env, interval time.Duration) *Periodic {
	return &Periodic{
		kind:     kind,
		env:      env,
		interval: interval,
		rearm:    make(chan struct{}, 1),
		log:      env.logger(kind),
	}
}

func (p *Periodic) Kind() Kind { return p.kind }

func (p *Periodic) taskName() string { return "periodic." + string(p.kind) }

func (p *Periodic) Start(context.Context) error {
	interval := p.Interval()
	if interval <= 0 {
		return fmt.Errorf("%s interval must be positive, got %s", p.kind, interval)
	}

	var task *scheduler.Task
	switch p.kind {
	case KindJob:
		task = p.env.Scheduler.Every(p.taskName(), interval, func(ctx context.Context) {
			p.runs.Add(1)
			wake(ctx, p.env, p.log, "job")
		})
	case KindWork:
		task = p.env.Scheduler.Every(p.taskName(), interval, p.work)
	case KindAlarm:
		task = p.env.Scheduler.Go(p.taskName(), p.alarm)
	default:
		return fmt.Errorf("unknown periodic kind %q", p.kind)
	}
	p.mu.Lock()
	p.task = task
	p.mu.Unlock()
	p.log.Debug("scheduled", "interval", interval)
	return nil
}

func (p *Periodic) work(ctx context.Context) {
	p.runs.Add(1)
	op := func() error {
		if p.env.Trigger == nil {
			return nil
		}
		return p.env.Trigger.Check(WithReason(ctx, string(p.kind)))
	}
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(workRetryInterval),
		backoff.WithMaxInterval(30*time.Second),
	)
	p.log.Debug("wake-up", "reason", string(p.kind))
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, workRetries), ctx)); err != nil {
		p.log.Debug("work run failed", "err", err)
	}
}

func (p *Periodic) alarm(ctx context.Context) {
	timer := time.NewTimer(p.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.rearm:
			timer.Reset(p.Interval())
		case <-timer.C:
			p.runs.Add(1)
			wake(ctx, p.env, p.log, "alarm")
			timer.Reset(p.Interval())
		}
	}
}

func (p *Periodic) Stop(context.Context) error {
	p.mu.Lock()
	p.task = nil
	p.mu.Unlock()
	p.env.Scheduler.Cancel(p.taskName())
	return nil
}

// Schedule changes the period and restarts the pending delay.
func (p *Periodic) Schedule(interval time.Duration) {
	if interval <= 0 {
		return
	}
	p.mu.Lock()
	p.interval = interval
	task := p.task
	p.mu.Unlock()
	if task == nil {
		return
	}
	if p.kind == KindAlarm {
		select {
		case p.rearm <- struct{}{}:
		default:
		}
		return
	}
	task.Reset(interval)
}

func (p *Periodic) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Runs returns how many times the strategy has fired.
func (p *Periodic) Runs() uint64 { return p.runs.Load() }

func (p *Periodic) Report() map[string]string {
	return map[string]string{
		"interval": p.Interval().String(),
		"runs":     strconv.FormatUint(p.Runs(), 10),
	}
}
