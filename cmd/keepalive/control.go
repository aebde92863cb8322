package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"keepalive/internal/control"
	"keepalive/internal/orchestrator"
)

const rpcTimeout = 10 * time.Second

// withClient dials the running primary's control socket and runs fn.
func withClient(ctx context.Context, o *options, fn func(context.Context, *control.Client) error) error {
	client, err := control.Dial(o.cfg.ControlSocketPath())
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	return fn(ctx, client)
}

func checkCmd(o *options) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Ask the running process to reassert liveness now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), o, func(ctx context.Context, c *control.Client) error {
				if err := c.Check(ctx, reason); err != nil {
					return err
				}
				if reason != "" {
					fmt.Println(successMsg("liveness reasserted (%s)", reason))
				} else {
					fmt.Println(successMsg("liveness reasserted"))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Wake-up reason logged by the running process")
	return cmd
}

func statusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator phase and strategy state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), o, func(ctx context.Context, c *control.Client) error {
				st, err := c.Status(ctx)
				if errors.Is(err, control.ErrUnavailable) {
					fmt.Println(warnMsg("keepalive is not running"))
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Print(renderStatus(st))
				return nil
			})
		},
	}
}

func stopCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop every strategy; the process stays reachable for start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), o, func(ctx context.Context, c *control.Client) error {
				if err := c.Stop(ctx); err != nil {
					return err
				}
				fmt.Println(successMsg("stopped"))
				return nil
			})
		},
	}
}

func startCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the strategies of a stopped process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), o, func(ctx context.Context, c *control.Client) error {
				err := c.Start(ctx)
				if errors.Is(err, orchestrator.ErrAlreadyInitialized) {
					fmt.Println(warnMsg("already running"))
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Println(successMsg("started"))
				return nil
			})
		},
	}
}

func configCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			fmt.Print(renderConfig(o.cfg.Fields()))
			return nil
		},
	}
}
