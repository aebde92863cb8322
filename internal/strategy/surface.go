package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"keepalive/config"
)

// SurfacePresence shows a secondary presence: the one-pixel window, the
// lock-screen surface or the overlay. When the presenter cannot use the
// surface the strategy logs a warning and starts as a no-op.
type SurfacePresence struct {
	kind    Kind
	env     Env
	surface Surface
	pr      Presentation
	log     *slog.Logger
	shown   atomic.Bool
}

func NewOnePixel(env Env) *SurfacePresence {
	return newSurfacePresence(KindOnePixel, env, Presentation{Surface: SurfaceOnePixel, Hidden: true})
}

func NewLockScreen(env Env, msg config.NotificationConfig) *SurfacePresence {
	return newSurfacePresence(KindLockScreen, env, Presentation{
		Surface: SurfaceLockScreen,
		Title:   msg.Title,
		Content: msg.Content,
	})
}

func NewOverlay(env Env, msg config.NotificationConfig, hidden bool) *SurfacePresence {
	return newSurfacePresence(KindOverlay, env, Presentation{
		Surface: SurfaceOverlay,
		Title:   msg.Title,
		Hidden:  hidden,
	})
}

func newSurfacePresence(kind Kind, env Env, pr Presentation) *SurfacePresence {
	return &SurfacePresence{kind: kind, env: env, surface: pr.Surface, pr: pr, log: env.logger(kind)}
}

func (s *SurfacePresence) Kind() Kind { return s.kind }

func (s *SurfacePresence) Start(ctx context.Context) error {
	if !s.env.Presenter.CanPresent(s.surface) {
		s.log.Warn("surface not available, skipping", "surface", s.surface)
		return nil
	}
	if err := s.env.Presenter.Present(ctx, s.pr); err != nil {
		return fmt.Errorf("present %s: %w", s.surface, err)
	}
	s.shown.Store(true)
	return nil
}

func (s *SurfacePresence) Stop(ctx context.Context) error {
	if !s.shown.Swap(false) {
		return nil
	}
	if err := s.env.Presenter.Withdraw(ctx, s.surface); err != nil {
		return fmt.Errorf("withdraw %s: %w", s.surface, err)
	}
	return nil
}

func (s *SurfacePresence) Schedule(time.Duration) {}

// Shown reports whether the surface is currently presented.
func (s *SurfacePresence) Shown() bool { return s.shown.Load() }

func (s *SurfacePresence) Report() map[string]string {
	return map[string]string{"shown": strconv.FormatBool(s.Shown())}
}
