package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"keepalive/config"
	"keepalive/internal/logging"
	"keepalive/internal/process"
)

// processAnnotation marks the long-lived role commands. They log at info
// (debug with log.debug) where the client commands stay at warn.
const processAnnotation = "keepalive.process"

type options struct {
	configPath string
	dataDir    string
	debug      bool
	logFormat  string
	role       string

	cfg config.Config
}

func (o *options) bind(root *cobra.Command) {
	f := root.PersistentFlags()
	f.StringVar(&o.configPath, "config", config.Path(), "Config file path")
	f.StringVar(&o.dataDir, "data-dir", "", "State directory (default from config)")
	f.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	f.StringVar(&o.logFormat, "log-format", logging.FormatText, "Log format: text or json")
	f.StringVar(&o.role, "role", "", "Process role marker")
	_ = f.MarkHidden("role")
}

func (o *options) setup(cmd *cobra.Command) error {
	b := config.NewBuilder()
	if err := b.LoadFile(o.configPath); err != nil {
		return err
	}
	if o.dataDir != "" {
		b.Apply(func(c *config.Config) { c.DataDir = o.dataDir })
	}
	cfg, err := b.Build()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	o.cfg = cfg

	level := logging.LevelWarn
	if _, ok := cmd.Annotations[processAnnotation]; ok {
		level = logging.LevelInfo
		if cfg.Log.Debug {
			level = logging.LevelDebug
		}
	}
	if o.debug {
		level = logging.LevelDebug
	}
	if err := logging.Configure(level, o.logFormat); err != nil {
		return err
	}
	if cfg.Log.Tag != "" {
		slog.SetDefault(slog.Default().With("app", cfg.Log.Tag))
	}
	return nil
}

// checkRole rejects a --role marker that disagrees with the command run.
func (o *options) checkRole(want process.Role) error {
	if o.role == "" {
		return nil
	}
	got, err := process.ParseRole(o.role)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("role %s cannot run as %s", got, want)
	}
	return nil
}

// extra returns the flags every spawned counterpart is started with, so the
// whole process family reads the same configuration and state directory.
func (o *options) extra() []string {
	args := []string{"--config", o.configPath, "--data-dir", o.cfg.DataDir}
	if o.debug {
		args = append(args, "--debug")
	}
	if o.logFormat != "" && o.logFormat != logging.FormatText {
		args = append(args, "--log-format", o.logFormat)
	}
	return args
}

func processCmd(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[processAnnotation] = "true"
	return cmd
}
