package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vishvananda/netlink"
)

// LinkSource wakes on network interface changes reported over rtnetlink.
type LinkSource struct {
	name    string
	updates chan netlink.LinkUpdate
	done    chan struct{}
}

func NewLinkSource(name string) *LinkSource {
	return &LinkSource{name: name}
}

func (s *LinkSource) Name() string { return s.name }

func (s *LinkSource) Open() error {
	s.updates = make(chan netlink.LinkUpdate, 16)
	s.done = make(chan struct{})
	err := netlink.LinkSubscribeWithOptions(s.updates, s.done, netlink.LinkSubscribeOptions{
		ErrorCallback: func(err error) {
			slog.Debug("link subscription error", "component", "strategy", "source", s.name, "err", err)
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe to link updates: %w", err)
	}
	return nil
}

func (s *LinkSource) Run(ctx context.Context, emit func(string)) {
	defer func() {
		close(s.done)
		// The subscription closes updates once its socket is shut.
		for range s.updates {
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-s.updates:
			if !ok {
				return
			}
			attrs := u.Link.Attrs()
			emit(fmt.Sprintf("%s %s %s", s.name, attrs.Name, attrs.OperState))
		}
	}
}
