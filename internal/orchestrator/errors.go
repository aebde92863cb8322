package orchestrator

import (
	"errors"
	"fmt"

	"keepalive/internal/strategy"
)

var (
	// ErrAlreadyInitialized is returned by Init when the orchestrator is not
	// uninitialized. It is informational; the call is a no-op.
	ErrAlreadyInitialized = errors.New("keepalive already initialized")
	// ErrNotInitialized is returned by Check before Init.
	ErrNotInitialized = errors.New("keepalive not initialized")
)

// StartError records a strategy that failed to build or start.
type StartError struct {
	Kind strategy.Kind
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Kind, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }
