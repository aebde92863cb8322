package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"keepalive/config"
)

const presenceAliveTask = "presence.alive"

// PresenceKeeper holds the persistent user-visible presence (the foreground
// notification and, optionally, a media session) and runs the alive loop
// that logs uptime.
type PresenceKeeper struct {
	env Env
	cfg config.PresenceConfig
	msg config.NotificationConfig
	log *slog.Logger

	mu       sync.Mutex
	started  time.Time
	running  bool
	checks   atomic.Uint64
	restarts atomic.Uint64
}

func NewPresenceKeeper(env Env, cfg config.PresenceConfig, msg config.NotificationConfig) *PresenceKeeper {
	return &PresenceKeeper{env: env, cfg: cfg, msg: msg, log: env.logger(KindPresence)}
}

func (p *PresenceKeeper) Kind() Kind { return KindPresence }

func (p *PresenceKeeper) Start(ctx context.Context) error {
	if err := p.present(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.running = true
	p.started = time.Now()
	p.mu.Unlock()

	p.env.Scheduler.Every(presenceAliveTask, p.cfg.AliveInterval, p.alive)
	return nil
}

func (p *PresenceKeeper) present(ctx context.Context) error {
	if err := p.env.Presenter.Present(ctx, Presentation{
		Surface:     SurfaceNotification,
		ChannelID:   p.msg.ChannelID,
		ChannelName: p.msg.ChannelName,
		Title:       p.msg.Title,
		Content:     p.msg.Content,
	}); err != nil {
		return fmt.Errorf("present notification: %w", err)
	}
	if p.cfg.MediaSession {
		if err := p.env.Presenter.Present(ctx, Presentation{Surface: SurfaceMediaSession, Title: p.msg.Title}); err != nil {
			// The notification alone still keeps the presence.
			p.log.Warn("media session failed", "err", err)
		}
	}
	return nil
}

func (p *PresenceKeeper) alive(context.Context) {
	n := p.checks.Add(1)
	p.log.Debug("alive", "uptime", formatUptime(p.Uptime()), "checks", n)
}

// Restart reasserts the presence. It is the self-restart path the
// orchestrator takes on every check.
func (p *PresenceKeeper) Restart(ctx context.Context) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return p.Start(ctx)
	}
	p.restarts.Add(1)
	return p.present(ctx)
}

func (p *PresenceKeeper) Stop(ctx context.Context) error {
	p.env.Scheduler.Cancel(presenceAliveTask)
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	var errs []error
	if err := p.env.Presenter.Withdraw(ctx, SurfaceNotification); err != nil {
		errs = append(errs, err)
	}
	if p.cfg.MediaSession {
		if err := p.env.Presenter.Withdraw(ctx, SurfaceMediaSession); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("withdraw presence: %v", errs)
	}
	return nil
}

// Schedule changes the alive loop cadence.
func (p *PresenceKeeper) Schedule(interval time.Duration) {
	if interval <= 0 {
		return
	}
	p.mu.Lock()
	p.cfg.AliveInterval = interval
	running := p.running
	p.mu.Unlock()
	if running {
		p.env.Scheduler.Every(presenceAliveTask, interval, p.alive)
	}
}

// Uptime is the time since the presence was last started.
func (p *PresenceKeeper) Uptime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return 0
	}
	return time.Since(p.started)
}

func (p *PresenceKeeper) Checks() uint64   { return p.checks.Load() }
func (p *PresenceKeeper) Restarts() uint64 { return p.restarts.Load() }

func (p *PresenceKeeper) Report() map[string]string {
	return map[string]string{
		"uptime":   formatUptime(p.Uptime()),
		"checks":   strconv.FormatUint(p.Checks(), 10),
		"restarts": strconv.FormatUint(p.Restarts(), 10),
	}
}

// formatUptime renders d as HH:MM:SS. Hours are not wrapped at 24.
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
