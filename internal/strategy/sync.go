package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"keepalive/internal/scheduler"
)

const syncTask = "sync.beacon"

// SyncBeacon emulates a periodic account sync. Every sync wakes the
// orchestrator and records its time in the shared store, so a beacon that
// starts after a long gap catches up immediately instead of waiting a full
// period.
type SyncBeacon struct {
	env     Env
	account string
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	interval time.Duration
	task     *scheduler.Task
	last     time.Time
}

func NewSyncBeacon(env Env, account string, interval time.Duration) *SyncBeacon {
	return &SyncBeacon{
		env:      env,
		account:  account,
		interval: interval,
		log:      env.logger(KindSync),
		now:      time.Now,
	}
}

func (s *SyncBeacon) Kind() Kind { return KindSync }

func (s *SyncBeacon) Start(ctx context.Context) error {
	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()

	if s.due(ctx, interval) {
		s.sync(ctx, "catch-up")
	}
	task := s.env.Scheduler.Every(syncTask, interval, func(ctx context.Context) {
		s.sync(ctx, "periodic")
	})
	s.mu.Lock()
	s.task = task
	s.mu.Unlock()
	return nil
}

// due reports whether the last recorded sync is older than one interval.
func (s *SyncBeacon) due(ctx context.Context, interval time.Duration) bool {
	if s.env.Store == nil {
		return true
	}
	last, ok, err := s.env.Store.LastSync(ctx, s.account)
	if err != nil {
		s.log.Warn("read last sync failed", "err", err)
		return true
	}
	if !ok {
		return true
	}
	s.mu.Lock()
	s.last = last
	s.mu.Unlock()
	return s.now().Sub(last) >= interval
}

func (s *SyncBeacon) sync(ctx context.Context, reason string) {
	at := s.now()
	s.mu.Lock()
	s.last = at
	s.mu.Unlock()
	if s.env.Store != nil {
		if err := s.env.Store.SetLastSync(ctx, s.account, at); err != nil {
			s.log.Warn("record sync failed", "err", err)
		}
	}
	wake(ctx, s.env, s.log, "sync "+reason)
}

func (s *SyncBeacon) Stop(context.Context) error {
	s.mu.Lock()
	s.task = nil
	s.mu.Unlock()
	s.env.Scheduler.Cancel(syncTask)
	return nil
}

func (s *SyncBeacon) Schedule(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = interval
	task := s.task
	s.mu.Unlock()
	if task != nil {
		task.Reset(interval)
	}
}

// LastSync returns the time of the most recent sync this beacon knows of.
func (s *SyncBeacon) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *SyncBeacon) Report() map[string]string {
	out := map[string]string{"account": s.account}
	if last := s.LastSync(); !last.IsZero() {
		out["last_sync"] = last.UTC().Format(time.RFC3339)
	}
	return out
}
