package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"keepalive/internal/process"
	"keepalive/internal/watcher"
)

func watcherCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "watcher",
		Short:  "Run the out-of-runtime watcher that resurrects the primary",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.checkRole(process.RoleWatcher); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watcher.RunProcess(ctx, o.cfg, o.extra())
		},
	}
	return processCmd(cmd)
}
