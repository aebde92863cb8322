package heartbeat

import (
	"errors"
	"fmt"
)

var (
	ErrShortFrame     = errors.New("short heartbeat frame")
	ErrBadMagic       = errors.New("bad heartbeat magic")
	ErrBadVersion     = errors.New("unsupported heartbeat version")
	ErrBadKind        = errors.New("unknown heartbeat frame kind")
	ErrHandshake      = errors.New("heartbeat handshake failed")
	ErrConnectionLost = errors.New("heartbeat connection lost")
)

// BindError reports that the heartbeat socket could not be bound. It only
// disables socket heartbeats; callers treat it as a degraded feature.
type BindError struct {
	Path string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind heartbeat socket %s: %v", e.Path, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
