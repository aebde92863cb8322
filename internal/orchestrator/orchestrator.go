// Package orchestrator composes the keep-alive strategies from one
// configuration and owns the global lifecycle state.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"keepalive/config"
	"keepalive/internal/adapter/sqlite"
	"keepalive/internal/metrics"
	"keepalive/internal/scheduler"
	"keepalive/internal/strategy"
)

// restarter is the presence self-restart path Check drives.
type restarter interface {
	Restart(ctx context.Context) error
}

type entry struct {
	kind strategy.Kind
	s    strategy.Strategy
	err  error
}

type teardown uint8

const (
	teardownNone teardown = iota
	teardownStop
	teardownDetach
)

type Orchestrator struct {
	mu       sync.Mutex
	phase    Phase
	cfg      config.Config
	entries  []entry
	presence restarter
	pending  teardown
	store    *sqlite.Store
	ownStore bool

	// checkMu lets Stop wait out checks that observed Running before it
	// stops the strategies they may be restarting.
	checkMu sync.RWMutex
	checks  atomic.Uint64

	sched     *scheduler.Scheduler
	presenter strategy.Presenter
	extStore  *sqlite.Store
	extra     []string
	factories map[strategy.Kind]Factory
	tracer    trace.Tracer
	log       *slog.Logger
}

type Option func(*Orchestrator)

// WithPresenter sets the presentation collaborator. Defaults to a
// LogPresenter.
func WithPresenter(p strategy.Presenter) Option {
	return func(o *Orchestrator) { o.presenter = p }
}

// WithStore shares an already open heartbeat store. Without it, Init opens
// the store under the configured data directory and Stop closes it.
func WithStore(s *sqlite.Store) Option {
	return func(o *Orchestrator) { o.extStore = s }
}

// WithArgs sets the extra arguments passed through to spawned counterparts.
func WithArgs(extra []string) Option {
	return func(o *Orchestrator) { o.extra = extra }
}

// WithFactory replaces how one strategy kind is built.
func WithFactory(kind strategy.Kind, f Factory) Option {
	return func(o *Orchestrator) { o.factories[kind] = f }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func New(ctx context.Context, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		phase:     Uninitialized,
		sched:     scheduler.New(ctx),
		factories: make(map[strategy.Kind]Factory),
		log:       slog.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.presenter == nil {
		o.presenter = strategy.NewLogPresenter()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("keepalive/orchestrator")
	}
	metrics.LifecyclePhase.Set(float64(o.phase))
	return o
}

// setPhase must be called with o.mu held.
func (o *Orchestrator) setPhase(to Phase) {
	o.phase = o.phase.Transition(to)
	metrics.LifecyclePhase.Set(float64(o.phase))
}

// Init starts every strategy cfg enables, in declared order. A strategy that
// fails to start is recorded and skipped. Init on an orchestrator that is not
// uninitialized is a no-op returning ErrAlreadyInitialized.
func (o *Orchestrator) Init(ctx context.Context, cfg config.Config) error {
	ctx, span := o.tracer.Start(ctx, "init")
	defer span.End()

	o.mu.Lock()
	if o.phase != Uninitialized {
		phase := o.phase
		o.mu.Unlock()
		o.log.Warn("already initialized", "phase", phase)
		return ErrAlreadyInitialized
	}
	o.setPhase(Initializing)
	o.cfg = cfg
	o.mu.Unlock()

	o.log.Debug("initializing", "config", cfg)
	store, owned := o.openStore(cfg)
	env := strategy.Env{
		Scheduler: o.sched,
		Trigger:   o,
		Presenter: o.presenter,
		Store:     store,
		Logger:    slog.Default(),
	}

	var (
		entries  []entry
		presence restarter
		failed   int
	)
	for _, r := range table {
		if !r.enabled(cfg) {
			continue
		}
		s, err := o.start(ctx, r, env, cfg)
		if err != nil {
			failed++
			serr := &StartError{Kind: r.kind, Err: err}
			o.log.Warn("strategy failed to start", "strategy", string(r.kind), "err", err)
			metrics.StrategyStartFailures.WithLabelValues(string(r.kind)).Inc()
			span.AddEvent("strategy start failed", trace.WithAttributes(
				attribute.String("strategy", string(r.kind)),
				attribute.String("error", err.Error()),
			))
			entries = append(entries, entry{kind: r.kind, err: serr})
			continue
		}
		if p, ok := s.(restarter); ok && r.kind == strategy.KindPresence {
			presence = p
		}
		entries = append(entries, entry{kind: r.kind, s: s})
	}
	span.SetAttributes(
		attribute.Int("strategies", len(entries)),
		attribute.Int("failed", failed),
	)

	o.mu.Lock()
	o.entries = entries
	o.presence = presence
	o.store, o.ownStore = store, owned
	o.setPhase(Running)
	pending := o.pending
	o.pending = teardownNone
	o.mu.Unlock()

	o.log.Info("initialized", "strategies", len(entries), "failed", failed)

	switch pending {
	case teardownStop:
		o.log.Debug("performing stop requested during init")
		o.Stop(ctx)
	case teardownDetach:
		o.log.Debug("performing detach requested during init")
		o.Detach(ctx)
	}
	return nil
}

func (o *Orchestrator) start(ctx context.Context, r row, env strategy.Env, cfg config.Config) (strategy.Strategy, error) {
	build := r.build
	if f, ok := o.factories[r.kind]; ok {
		build = f
	}
	s, err := build(env, cfg, o.extra)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (o *Orchestrator) openStore(cfg config.Config) (*sqlite.Store, bool) {
	if o.extStore != nil {
		return o.extStore, false
	}
	store, err := sqlite.Open(cfg.StorePath())
	if err != nil {
		o.log.Warn("heartbeat store unavailable", "path", cfg.StorePath(), "err", err)
		return nil, false
	}
	return store, true
}

// Stop stops every started strategy in reverse order and returns to
// Uninitialized. It never fails. On an uninitialized orchestrator it does
// nothing; during Init the stop is performed once Init finishes starting.
func (o *Orchestrator) Stop(ctx context.Context) {
	ctx, span := o.tracer.Start(ctx, "stop")
	defer span.End()
	o.teardown(ctx, teardownStop)
}

// Detach tears down for a host-initiated kill. Strategies implementing
// strategy.Detacher get their final resurrection chance instead of an
// intentional stop, so counterparts are not told to stand down.
func (o *Orchestrator) Detach(ctx context.Context) {
	ctx, span := o.tracer.Start(ctx, "detach")
	defer span.End()
	o.teardown(ctx, teardownDetach)
}

func (o *Orchestrator) teardown(ctx context.Context, mode teardown) {
	o.mu.Lock()
	switch o.phase {
	case Uninitialized, Stopping:
		o.mu.Unlock()
		return
	case Initializing:
		o.pending = mode
		o.mu.Unlock()
		o.log.Debug("stop requested during init, deferring")
		return
	}
	o.setPhase(Stopping)
	entries := o.entries
	store, owned := o.store, o.ownStore
	o.mu.Unlock()

	// Wait out in-flight checks.
	o.checkMu.Lock()
	o.checkMu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.err != nil {
			continue
		}
		if mode == teardownDetach {
			if d, ok := e.s.(strategy.Detacher); ok {
				d.Detach(ctx)
				continue
			}
		}
		if err := e.s.Stop(ctx); err != nil {
			o.log.Debug("strategy stop failed", "strategy", string(e.kind), "err", err)
		}
	}
	o.sched.Stop()
	if owned && store != nil {
		if err := store.Close(); err != nil {
			o.log.Debug("close heartbeat store failed", "err", err)
		}
	}

	o.mu.Lock()
	o.entries = nil
	o.presence = nil
	o.store, o.ownStore = nil, false
	o.setPhase(Uninitialized)
	o.mu.Unlock()

	if mode == teardownDetach {
		o.log.Info("detached")
	} else {
		o.log.Info("stopped")
	}
}

// Check reasserts liveness through the presence restart path. It returns
// ErrNotInitialized before Init and is a no-op while initializing or
// stopping. The wake-up reason is taken from strategy.Reason(ctx).
func (o *Orchestrator) Check(ctx context.Context) error {
	reason := strategy.Reason(ctx)
	if reason == "" {
		reason = "unspecified"
	}
	ctx, span := o.tracer.Start(ctx, "check", trace.WithAttributes(attribute.String("reason", reason)))
	defer span.End()

	o.checkMu.RLock()
	defer o.checkMu.RUnlock()

	o.mu.Lock()
	phase, presence := o.phase, o.presence
	o.mu.Unlock()

	switch phase {
	case Uninitialized:
		return ErrNotInitialized
	case Initializing, Stopping:
		o.log.Debug("check ignored", "phase", phase, "reason", reason)
		return nil
	}
	o.log.Debug("check", "reason", reason)

	o.checks.Add(1)
	metrics.Checks.Inc()
	if presence == nil {
		return nil
	}
	if err := presence.Restart(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("restart presence: %w", err)
	}
	return nil
}

func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase == Running
}

func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Strategy returns the started strategy of the given kind, if any.
func (o *Orchestrator) Strategy(kind strategy.Kind) (strategy.Strategy, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.entries {
		if e.kind == kind && e.err == nil {
			return e.s, true
		}
	}
	return nil, false
}

type StrategyStatus struct {
	Kind    strategy.Kind
	State   string
	Error   string
	Details map[string]string
}

type Status struct {
	Phase      Phase
	Config     []config.Field
	Strategies []StrategyStatus
	Checks     uint64
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{Phase: o.phase, Checks: o.checks.Load()}
	entries := o.entries
	if o.phase != Uninitialized {
		st.Config = o.cfg.Fields()
	}
	o.mu.Unlock()

	for _, e := range entries {
		ss := StrategyStatus{Kind: e.kind, State: "running"}
		if e.err != nil {
			ss.State = "failed"
			ss.Error = e.err.Error()
		} else if r, ok := e.s.(strategy.Reporter); ok {
			ss.Details = r.Report()
		}
		st.Strategies = append(st.Strategies, ss)
	}
	return st
}
