// Package config holds the keep-alive configuration snapshot.
//
// A Config is built once through a Builder (defaults, then an optional YAML
// overlay read from $XDG_CONFIG_HOME/keepalive/config.yaml, then programmatic
// overrides) and is read-only afterwards. It is a plain value: copying it
// copies everything, so holders never share mutable state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Probe modes for the cross-process watchdog.
const (
	ProbeProcess   = "process"
	ProbeHeartbeat = "heartbeat"
)

type PresenceConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MediaSession  bool          `yaml:"mediaSession"`
	OnePixel      bool          `yaml:"onePixel"`
	AliveInterval time.Duration `yaml:"aliveInterval"`
}

type PeriodicConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type ScheduleConfig struct {
	Job   PeriodicConfig `yaml:"job"`
	Work  PeriodicConfig `yaml:"work"`
	Alarm PeriodicConfig `yaml:"alarm"`
}

type SyncConfig struct {
	Enabled     bool          `yaml:"enabled"`
	AccountType string        `yaml:"accountType"`
	Interval    time.Duration `yaml:"interval"`
}

type BroadcastPaths struct {
	Bluetooth  string `yaml:"bluetooth"`
	USB        string `yaml:"usb"`
	NFC        string `yaml:"nfc"`
	MediaMount string `yaml:"mediaMount"`
}

type BroadcastConfig struct {
	System      bool           `yaml:"system"`
	Bluetooth   bool           `yaml:"bluetooth"`
	MediaButton bool           `yaml:"mediaButton"`
	USB         bool           `yaml:"usb"`
	NFC         bool           `yaml:"nfc"`
	MediaMount  bool           `yaml:"mediaMount"`
	Paths       BroadcastPaths `yaml:"paths"`
}

type ObserverPaths struct {
	Media    string `yaml:"media"`
	Contacts string `yaml:"contacts"`
	SMS      string `yaml:"sms"`
	Settings string `yaml:"settings"`
	File     string `yaml:"file"`
}

type ObserverConfig struct {
	Media    bool          `yaml:"media"`
	Contacts bool          `yaml:"contacts"`
	SMS      bool          `yaml:"sms"`
	Settings bool          `yaml:"settings"`
	File     bool          `yaml:"file"`
	Paths    ObserverPaths `yaml:"paths"`
}

// AnyContent reports whether at least one content observer is enabled.
func (o ObserverConfig) AnyContent() bool {
	return o.Media || o.Contacts || o.SMS || o.Settings
}

type WatchdogConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probeTimeout"`
	Probe        string        `yaml:"probe"`
}

type DaemonConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type SocketConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Name              string        `yaml:"name"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	MissedThreshold   int           `yaml:"missedThreshold"`
	ResurrectBackoff  time.Duration `yaml:"resurrectBackoff"`
}

type NativeConfig struct {
	Daemon DaemonConfig `yaml:"daemon"`
	Socket SocketConfig `yaml:"socket"`
}

// Any reports whether either native sub-strategy is enabled.
func (n NativeConfig) Any() bool {
	return n.Daemon.Enabled || n.Socket.Enabled
}

type NotificationConfig struct {
	ChannelID   string `yaml:"channelId"`
	ChannelName string `yaml:"channelName"`
	Title       string `yaml:"title"`
	Content     string `yaml:"content"`
}

type LogConfig struct {
	Debug bool   `yaml:"debug"`
	Tag   string `yaml:"tag"`
}

type IntrusiveConfig struct {
	LockScreen    bool `yaml:"lockScreen"`
	Overlay       bool `yaml:"overlay"`
	OverlayHidden bool `yaml:"overlayHidden"`
}

// Config is the immutable keep-alive configuration.
type Config struct {
	DataDir    string `yaml:"dataDir"`
	Executable string `yaml:"executable"`

	Presence     PresenceConfig     `yaml:"presence"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Sync         SyncConfig         `yaml:"sync"`
	Broadcast    BroadcastConfig    `yaml:"broadcast"`
	Observer     ObserverConfig     `yaml:"observer"`
	Watchdog     WatchdogConfig     `yaml:"watchdog"`
	Native       NativeConfig       `yaml:"native"`
	Notification NotificationConfig `yaml:"notification"`
	Log          LogConfig          `yaml:"log"`
	Intrusive    IntrusiveConfig    `yaml:"intrusive"`
}

// SocketPath returns the native heartbeat socket location.
func (c Config) SocketPath() string {
	if filepath.IsAbs(c.Native.Socket.Name) {
		return c.Native.Socket.Name
	}
	return filepath.Join(c.DataDir, c.Native.Socket.Name)
}

// ControlSocketPath returns the control plane socket location.
func (c Config) ControlSocketPath() string {
	return filepath.Join(c.DataDir, "control.sock")
}

// StorePath returns the shared heartbeat store location.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, "keepalive.db")
}

// ValidationError indicates an invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// Path returns the default config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/keepalive/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "keepalive", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "keepalive", "config.yaml")
}

// DefaultDataDir returns $XDG_STATE_HOME/keepalive, falling back to
// ~/.local/state/keepalive.
func DefaultDataDir() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "keepalive")
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "keepalive")
}

// Builder accumulates configuration before it is frozen by Build.
type Builder struct {
	cfg Config
}

// NewBuilder returns a builder populated with defaults. Every feature is
// enabled except the two intrusive presences (lock screen, overlay).
func NewBuilder() *Builder {
	return &Builder{cfg: Config{
		Presence: PresenceConfig{
			Enabled:       true,
			MediaSession:  true,
			OnePixel:      true,
			AliveInterval: 5 * time.Second,
		},
		Schedule: ScheduleConfig{
			Job:   PeriodicConfig{Enabled: true, Interval: 15 * time.Minute},
			Work:  PeriodicConfig{Enabled: true, Interval: 15 * time.Minute},
			Alarm: PeriodicConfig{Enabled: true, Interval: 5 * time.Minute},
		},
		Sync: SyncConfig{
			Enabled:     true,
			AccountType: "keepalive.account",
			Interval:    60 * time.Second,
		},
		Broadcast: BroadcastConfig{
			System:      true,
			Bluetooth:   true,
			MediaButton: true,
			USB:         true,
			NFC:         true,
			MediaMount:  true,
			Paths: BroadcastPaths{
				Bluetooth:  "/dev/input",
				USB:        "/dev/bus/usb",
				NFC:        "/dev",
				MediaMount: "/media",
			},
		},
		Observer: ObserverConfig{
			Media:    true,
			Contacts: true,
			SMS:      true,
			Settings: true,
			File:     true,
		},
		Watchdog: WatchdogConfig{
			Enabled:      true,
			Interval:     3 * time.Second,
			ProbeTimeout: time.Second,
			Probe:        ProbeProcess,
		},
		Native: NativeConfig{
			Daemon: DaemonConfig{Enabled: true, Interval: 3 * time.Second},
			Socket: SocketConfig{
				Enabled:           true,
				Name:              "keepalive.sock",
				HeartbeatInterval: 5 * time.Second,
				MissedThreshold:   3,
				ResurrectBackoff:  time.Second,
			},
		},
		Notification: NotificationConfig{
			ChannelID:   "keepalive",
			ChannelName: "Keep-alive",
			Title:       "Service running",
			Content:     "Tap to open",
		},
		Log: LogConfig{Debug: true, Tag: "keepalive"},
		Intrusive: IntrusiveConfig{
			LockScreen:    false,
			Overlay:       false,
			OverlayHidden: true,
		},
	}}
}

// Apply runs fn against the pending configuration.
func (b *Builder) Apply(fn func(*Config)) *Builder {
	fn(&b.cfg)
	return b
}

// DisableAll turns off every strategy flag, leaving intervals and paths at
// their current values.
func (b *Builder) DisableAll() *Builder {
	c := &b.cfg
	c.Presence.Enabled, c.Presence.MediaSession, c.Presence.OnePixel = false, false, false
	c.Schedule.Job.Enabled, c.Schedule.Work.Enabled, c.Schedule.Alarm.Enabled = false, false, false
	c.Sync.Enabled = false
	c.Broadcast.System, c.Broadcast.Bluetooth, c.Broadcast.MediaButton = false, false, false
	c.Broadcast.USB, c.Broadcast.NFC, c.Broadcast.MediaMount = false, false, false
	c.Observer.Media, c.Observer.Contacts, c.Observer.SMS = false, false, false
	c.Observer.Settings, c.Observer.File = false, false
	c.Watchdog.Enabled = false
	c.Native.Daemon.Enabled, c.Native.Socket.Enabled = false, false
	c.Intrusive.LockScreen, c.Intrusive.Overlay = false, false
	return b
}

// LoadFile overlays the YAML file at path onto the pending configuration.
// Keys absent from the file keep their current value. A missing file is not
// an error.
func (b *Builder) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &b.cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Build validates and freezes the configuration.
func (b *Builder) Build() (Config, error) {
	c := b.cfg
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if strings.TrimSpace(c.Executable) == "" {
		if exe, err := os.Executable(); err == nil {
			c.Executable = exe
		}
	}
	obs := &c.Observer.Paths
	for kind, p := range map[string]*string{
		"media":    &obs.Media,
		"contacts": &obs.Contacts,
		"sms":      &obs.SMS,
		"settings": &obs.Settings,
		"file":     &obs.File,
	} {
		if strings.TrimSpace(*p) == "" {
			*p = filepath.Join(c.DataDir, "observe", kind)
		}
	}

	if err := validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Default returns the default configuration.
func Default() Config {
	c, err := NewBuilder().Build()
	if err != nil {
		panic("keepalive: default config is invalid: " + err.Error())
	}
	return c
}

// Load builds a configuration from defaults overlaid with the file at path.
func Load(path string) (Config, error) {
	b := NewBuilder()
	if err := b.LoadFile(path); err != nil {
		return Config{}, err
	}
	return b.Build()
}

func validate(c Config) error {
	positive := []struct {
		field string
		d     time.Duration
	}{
		{"presence.aliveInterval", c.Presence.AliveInterval},
		{"schedule.job.interval", c.Schedule.Job.Interval},
		{"schedule.work.interval", c.Schedule.Work.Interval},
		{"schedule.alarm.interval", c.Schedule.Alarm.Interval},
		{"sync.interval", c.Sync.Interval},
		{"watchdog.interval", c.Watchdog.Interval},
		{"watchdog.probeTimeout", c.Watchdog.ProbeTimeout},
		{"native.daemon.interval", c.Native.Daemon.Interval},
		{"native.socket.heartbeatInterval", c.Native.Socket.HeartbeatInterval},
		{"native.socket.resurrectBackoff", c.Native.Socket.ResurrectBackoff},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return &ValidationError{Field: p.field, Message: "must be positive"}
		}
	}
	if c.Native.Socket.MissedThreshold < 1 {
		return &ValidationError{Field: "native.socket.missedThreshold", Message: "must be at least 1"}
	}
	if c.Watchdog.ProbeTimeout >= c.Watchdog.Interval {
		return &ValidationError{Field: "watchdog.probeTimeout", Message: "must be shorter than watchdog.interval"}
	}
	switch c.Watchdog.Probe {
	case ProbeProcess, ProbeHeartbeat:
	default:
		return &ValidationError{Field: "watchdog.probe", Message: fmt.Sprintf("must be %q or %q", ProbeProcess, ProbeHeartbeat)}
	}
	if strings.TrimSpace(c.Native.Socket.Name) == "" {
		return &ValidationError{Field: "native.socket.name", Message: "is required"}
	}
	return nil
}
