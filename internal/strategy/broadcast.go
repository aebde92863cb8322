package strategy

import (
	"context"
	"errors"
	"syscall"
	"time"

	"keepalive/config"
)

// BroadcastListener subscribes to host events (signals, network link
// changes, device and mount directories) and wakes the orchestrator on each.
// Sources that cannot be opened are logged and skipped.
type BroadcastListener struct {
	sources func() []Source
	set     sourceSet
}

// NewBroadcastListener builds the sources enabled in cfg.
func NewBroadcastListener(env Env, cfg config.BroadcastConfig) *BroadcastListener {
	return NewBroadcastListenerFrom(env, func() []Source { return broadcastSources(cfg) })
}

// NewBroadcastListenerFrom uses sources to build a fresh set of sources on
// every start.
func NewBroadcastListenerFrom(env Env, sources func() []Source) *BroadcastListener {
	return &BroadcastListener{
		sources: sources,
		set:     sourceSet{env: env, log: env.logger(KindBroadcast), prefix: "broadcast"},
	}
}

func broadcastSources(cfg config.BroadcastConfig) []Source {
	var out []Source
	if cfg.System {
		out = append(out,
			NewSignalSource("system", syscall.SIGHUP, syscall.SIGCONT, syscall.SIGUSR1),
			NewLinkSource("network"),
		)
	}
	if cfg.MediaButton {
		out = append(out, NewSignalSource("media-button", syscall.SIGUSR2))
	}
	paths := []struct {
		on         bool
		name, path string
	}{
		{cfg.Bluetooth, "bluetooth", cfg.Paths.Bluetooth},
		{cfg.USB, "usb", cfg.Paths.USB},
		{cfg.NFC, "nfc", cfg.Paths.NFC},
		{cfg.MediaMount, "media-mount", cfg.Paths.MediaMount},
	}
	for _, p := range paths {
		if p.on && p.path != "" {
			out = append(out, NewPathSource(p.name, p.path))
		}
	}
	return out
}

func (b *BroadcastListener) Kind() Kind { return KindBroadcast }

func (b *BroadcastListener) Start(context.Context) error {
	sources := b.sources()
	if len(sources) == 0 {
		return nil
	}
	if b.set.start(sources) == 0 {
		return errors.New("no broadcast source could be opened")
	}
	return nil
}

func (b *BroadcastListener) Stop(context.Context) error {
	b.set.stop()
	return nil
}

func (b *BroadcastListener) Schedule(time.Duration) {}

// Active lists the running sources.
func (b *BroadcastListener) Active() []string { return b.set.Active() }

func (b *BroadcastListener) Report() map[string]string { return b.set.report() }
