package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"keepalive/config"
	"keepalive/internal/adapter/sqlite"
	"keepalive/internal/process"
	"keepalive/internal/scheduler"
	"keepalive/internal/watchdog"
)

func companionCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "companion",
		Short:  "Run the companion process that watches the primary",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.checkRole(process.RoleCompanion); err != nil {
				return err
			}
			release, ok, err := acquire(cmd.Context(), o.cfg, process.RoleCompanion, 2*o.cfg.Watchdog.Interval)
			if err != nil || !ok {
				return err
			}
			defer release()
			return runCompanion(cmd.Context(), o.cfg, o.extra())
		},
	}
	return processCmd(cmd)
}

// runCompanion runs the companion half of the mutual watchdog until a
// signal. An intentional stop of the primary stands the companion down
// before signalling it, so its final resurrection is skipped.
func runCompanion(ctx context.Context, cfg config.Config, extra []string) error {
	log := slog.With("component", "companion")

	var store *sqlite.Store
	if s, err := sqlite.Open(cfg.StorePath()); err != nil {
		log.Warn("heartbeat store unavailable", "err", err)
	} else {
		store = s
		defer func() { _ = store.Close() }()
	}

	sched := scheduler.New(ctx)
	defer sched.Stop()

	w, err := watchdog.FromConfig(cfg, process.RoleCompanion, extra, sched, store)
	if err != nil {
		return fmt.Errorf("configure watchdog: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.Start(sigCtx); err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}
	log.Info("running", "pid", os.Getpid(), "peer", w.Peer().Role)
	<-sigCtx.Done()

	detachCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachTimeout)
	defer cancel()
	w.Detach(detachCtx)
	log.Info("exiting")
	return nil
}
