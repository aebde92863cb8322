// Package strategy defines the uniform contract every keep-alive technique
// implements, and the in-runtime techniques themselves.
//
// A strategy owns its state exclusively. The only call it makes back into
// the orchestrator is Trigger.Check, when something suggests liveness should
// be reasserted now.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"keepalive/internal/adapter/sqlite"
	"keepalive/internal/scheduler"
)

type Kind string

const (
	KindPresence        Kind = "presence"
	KindDualProcess     Kind = "dual_process"
	KindJob             Kind = "job"
	KindWork            Kind = "work"
	KindAlarm           Kind = "alarm"
	KindSync            Kind = "account_sync"
	KindBroadcast       Kind = "broadcast"
	KindContentObserver Kind = "content_observer"
	KindFileObserver    Kind = "file_observer"
	KindOnePixel        Kind = "one_pixel"
	KindLockScreen      Kind = "lock_screen"
	KindOverlay         Kind = "overlay"
	KindNative          Kind = "native_daemon"
)

// Strategy is one redundant keep-alive technique.
type Strategy interface {
	Kind() Kind
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Schedule changes the strategy's cadence. Strategies without one ignore it.
	Schedule(interval time.Duration)
}

// Detacher is implemented by strategies that get a last chance to act when
// the host tears the process down (as opposed to an intentional stop).
type Detacher interface {
	Detach(ctx context.Context)
}

// Reporter is implemented by strategies that expose runtime details in
// status output.
type Reporter interface {
	Report() map[string]string
}

// Trigger is the orchestrator's single inbound entry point.
type Trigger interface {
	Check(ctx context.Context) error
}

type reasonKey struct{}

// WithReason attaches the wake-up reason a Trigger.Check is made for.
func WithReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, reasonKey{}, reason)
}

// Reason returns the wake-up reason attached to ctx, or "".
func Reason(ctx context.Context) string {
	r, _ := ctx.Value(reasonKey{}).(string)
	return r
}

// Env carries the collaborators strategies are built with.
type Env struct {
	Scheduler *scheduler.Scheduler
	Trigger   Trigger
	Presenter Presenter
	// Store is the shared heartbeat store; nil when it could not be opened.
	Store  *sqlite.Store
	Logger *slog.Logger
}

func (e Env) logger(kind Kind) *slog.Logger {
	base := e.Logger
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", "strategy", "strategy", string(kind))
}

// wake asks the orchestrator to reassert liveness. Failures are logged
// only; a wake-up source never fails because the core is busy.
func wake(ctx context.Context, env Env, log *slog.Logger, reason string) {
	log.Debug("wake-up", "reason", reason)
	if env.Trigger == nil {
		return
	}
	if err := env.Trigger.Check(WithReason(ctx, reason)); err != nil {
		log.Debug("wake-up check failed", "reason", reason, "err", err)
	}
}
