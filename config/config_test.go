package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"keepalive/config"
)

func TestDefaults(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	cfg := config.Default()

	if !cfg.Presence.Enabled || !cfg.Watchdog.Enabled || !cfg.Native.Daemon.Enabled {
		t.Fatalf("expected core strategies enabled by default")
	}
	if cfg.Intrusive.LockScreen || cfg.Intrusive.Overlay {
		t.Fatalf("intrusive presences must default to disabled")
	}
	if got, want := cfg.Watchdog.Interval, 3*time.Second; got != want {
		t.Fatalf("watchdog interval: got %v, want %v", got, want)
	}
	if got, want := cfg.Native.Socket.MissedThreshold, 3; got != want {
		t.Fatalf("missed threshold: got %d, want %d", got, want)
	}
	if got, want := cfg.Watchdog.Probe, config.ProbeProcess; got != want {
		t.Fatalf("probe: got %q, want %q", got, want)
	}
	if want := filepath.Join(cfg.DataDir, "observe", "sms"); cfg.Observer.Paths.SMS != want {
		t.Fatalf("sms path: got %q, want %q", cfg.Observer.Paths.SMS, want)
	}
	if want := filepath.Join(cfg.DataDir, "keepalive.sock"); cfg.SocketPath() != want {
		t.Fatalf("socket path: got %q, want %q", cfg.SocketPath(), want)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
dataDir: ` + dir + `
watchdog:
  interval: 10s
  probe: heartbeat
intrusive:
  overlay: true
native:
  socket:
    missedThreshold: 5
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Watchdog.Interval != 10*time.Second {
		t.Fatalf("interval: got %v, want 10s", cfg.Watchdog.Interval)
	}
	if cfg.Watchdog.Probe != config.ProbeHeartbeat {
		t.Fatalf("probe: got %q", cfg.Watchdog.Probe)
	}
	if !cfg.Intrusive.Overlay {
		t.Fatalf("overlay should be enabled by file")
	}
	if cfg.Native.Socket.MissedThreshold != 5 {
		t.Fatalf("missed threshold: got %d, want 5", cfg.Native.Socket.MissedThreshold)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Watchdog.ProbeTimeout != time.Second {
		t.Fatalf("probe timeout: got %v, want 1s", cfg.Watchdog.ProbeTimeout)
	}
	if cfg.DataDir != dir {
		t.Fatalf("data dir: got %q, want %q", cfg.DataDir, dir)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Presence.AliveInterval != 5*time.Second {
		t.Fatalf("alive interval: got %v", cfg.Presence.AliveInterval)
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*config.Config)
		field string
	}{
		{"zero interval", func(c *config.Config) { c.Schedule.Job.Interval = 0 }, "schedule.job.interval"},
		{"missed threshold", func(c *config.Config) { c.Native.Socket.MissedThreshold = 0 }, "native.socket.missedThreshold"},
		{"probe mode", func(c *config.Config) { c.Watchdog.Probe = "ping" }, "watchdog.probe"},
		{"probe timeout", func(c *config.Config) { c.Watchdog.ProbeTimeout = c.Watchdog.Interval }, "watchdog.probeTimeout"},
		{"socket name", func(c *config.Config) { c.Native.Socket.Name = " " }, "native.socket.name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.NewBuilder().Apply(func(c *config.Config) { c.DataDir = t.TempDir() }).Apply(tt.apply).Build()
			var verr *config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Build() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("field: got %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestDisableAll(t *testing.T) {
	cfg, err := config.NewBuilder().Apply(func(c *config.Config) { c.DataDir = t.TempDir() }).DisableAll().Build()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range cfg.Fields() {
		if f.Key == "intrusive.overlayHidden" || f.Key == "log.debug" {
			continue
		}
		if f.Value == "true" {
			t.Fatalf("%s still enabled after DisableAll", f.Key)
		}
	}
}

func TestLogValueEnumeratesFields(t *testing.T) {
	cfg, err := config.NewBuilder().Apply(func(c *config.Config) { c.DataDir = t.TempDir() }).Build()
	if err != nil {
		t.Fatal(err)
	}
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("config", "cfg", cfg)

	out := buf.String()
	for _, want := range []string{"cfg.watchdog.interval=3s", "cfg.native.socket.missedThreshold=3", "cfg.intrusive.overlay=false"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
	if got, want := len(cfg.LogValue().Group()), len(cfg.Fields()); got != want {
		t.Fatalf("group size: got %d, want %d", got, want)
	}
}
