package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"keepalive/internal/logging"
)

func main() {
	if err := logging.Configure(logging.LevelWarn, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "keepalive",
		Short:         "Keep a background service alive through redundant strategies",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.setup(cmd)
		},
	}
	o.bind(root)

	root.AddCommand(runCmd(o))
	root.AddCommand(companionCmd(o))
	root.AddCommand(watcherCmd(o))
	root.AddCommand(checkCmd(o))
	root.AddCommand(statusCmd(o))
	root.AddCommand(stopCmd(o))
	root.AddCommand(startCmd(o))
	root.AddCommand(configCmd(o))
	return root
}
