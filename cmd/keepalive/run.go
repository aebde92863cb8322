package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"keepalive/config"
	"keepalive/internal/control"
	"keepalive/internal/metrics"
	"keepalive/internal/orchestrator"
	"keepalive/internal/process"
	"keepalive/internal/telemetry"
)

const detachTimeout = 5 * time.Second

func runCmd(o *options) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the primary keep-alive process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.checkRole(process.RolePrimary); err != nil {
				return err
			}
			release, ok, err := acquire(cmd.Context(), o.cfg, process.RolePrimary, 2*o.cfg.Watchdog.Interval)
			if err != nil || !ok {
				return err
			}
			defer release()
			return runPrimary(cmd.Context(), o.cfg, o.extra(), metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics, /live and /ready on this address")
	return processCmd(cmd)
}

// runPrimary initializes the orchestrator and serves the control socket until
// SIGINT or SIGTERM. A signal while running is a host teardown: strategies
// get their final resurrection chance instead of an intentional stop.
func runPrimary(ctx context.Context, cfg config.Config, extra []string, metricsAddr string) error {
	log := slog.With("component", "primary")

	tel := telemetry.New(nil)
	tel.Install()
	defer func() { _ = tel.Close(context.Background()) }()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(ctx, orchestrator.WithArgs(extra))
	if err := orch.Init(sigCtx, cfg); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	log.Info("running", "pid", os.Getpid(), "data_dir", cfg.DataDir)

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		return control.NewServer(orch, cfg).ListenAndServe(gctx, cfg.ControlSocketPath())
	})
	if metricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, metricsAddr, func() error {
				if !orch.IsRunning() {
					return errors.New("keepalive not running")
				}
				return nil
			})
		})
	}
	err := g.Wait()

	detachCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachTimeout)
	defer cancel()
	orch.Detach(detachCtx)
	log.Info("exiting")
	return err
}

// acquire takes the role lock. ok is false when another process already
// holds the role; that is not an error.
func acquire(ctx context.Context, cfg config.Config, role process.Role, wait time.Duration) (release func(), ok bool, err error) {
	lock, err := process.AcquireRole(ctx, cfg.DataDir, role, wait)
	if err != nil {
		if errors.Is(err, process.ErrRoleHeld) {
			slog.Info("already running", "role", role)
			return nil, false, nil
		}
		return nil, false, err
	}
	return func() {
		if err := lock.Release(); err != nil {
			slog.Debug("release role lock failed", "role", role, "err", err)
		}
	}, true, nil
}
