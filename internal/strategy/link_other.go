//go:build !linux

package strategy

import (
	"context"
	"errors"
)

// LinkSource is only available on Linux.
type LinkSource struct {
	name string
}

func NewLinkSource(name string) *LinkSource {
	return &LinkSource{name: name}
}

func (s *LinkSource) Name() string { return s.name }

func (s *LinkSource) Open() error {
	return errors.New("link updates are not supported on this platform")
}

func (s *LinkSource) Run(ctx context.Context, _ func(string)) {
	<-ctx.Done()
}
