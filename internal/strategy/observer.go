package strategy

import (
	"context"
	"errors"
	"time"

	"keepalive/config"
)

// ObserverBeacon wakes the orchestrator when observed content changes. The
// content kind watches one directory per enabled data set; the file kind
// watches a single directory.
type ObserverBeacon struct {
	kind    Kind
	sources []*PathSource
	set     sourceSet
}

// NewContentObserver watches the enabled content directories in cfg.
func NewContentObserver(env Env, cfg config.ObserverConfig) *ObserverBeacon {
	var sources []*PathSource
	for _, c := range []struct {
		on         bool
		name, path string
	}{
		{cfg.Media, "media", cfg.Paths.Media},
		{cfg.Contacts, "contacts", cfg.Paths.Contacts},
		{cfg.SMS, "sms", cfg.Paths.SMS},
		{cfg.Settings, "settings", cfg.Paths.Settings},
	} {
		if c.on {
			sources = append(sources, NewObservedPath(c.name, c.path))
		}
	}
	return newObserver(KindContentObserver, env, sources)
}

// NewFileObserver watches path.
func NewFileObserver(env Env, path string) *ObserverBeacon {
	return newObserver(KindFileObserver, env, []*PathSource{NewObservedPath("file", path)})
}

func newObserver(kind Kind, env Env, sources []*PathSource) *ObserverBeacon {
	return &ObserverBeacon{
		kind:    kind,
		sources: sources,
		set:     sourceSet{env: env, log: env.logger(kind), prefix: string(kind)},
	}
}

func (o *ObserverBeacon) Kind() Kind { return o.kind }

func (o *ObserverBeacon) Start(context.Context) error {
	if len(o.sources) == 0 {
		return nil
	}
	sources := make([]Source, 0, len(o.sources))
	for _, s := range o.sources {
		sources = append(sources, &PathSource{name: s.name, path: s.path, create: s.create})
	}
	if o.set.start(sources) == 0 {
		return errors.New("no observed path could be watched")
	}
	return nil
}

func (o *ObserverBeacon) Stop(context.Context) error {
	o.set.stop()
	return nil
}

func (o *ObserverBeacon) Schedule(time.Duration) {}

// Paths returns the observed directories.
func (o *ObserverBeacon) Paths() []string {
	out := make([]string, 0, len(o.sources))
	for _, s := range o.sources {
		out = append(out, s.path)
	}
	return out
}

func (o *ObserverBeacon) Active() []string { return o.set.Active() }

func (o *ObserverBeacon) Report() map[string]string { return o.set.report() }
