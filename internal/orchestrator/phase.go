package orchestrator

import "keepalive/internal/check"

// Phase is the orchestrator's lifecycle state.
type Phase uint8

const (
	Uninitialized Phase = iota + 1
	Initializing
	Running
	Stopping
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (p Phase) Transition(to Phase) Phase {
	ok := false
	switch p {
	case Uninitialized:
		ok = to == Initializing
	case Initializing:
		ok = to == Running
	case Running:
		ok = to == Stopping
	case Stopping:
		ok = to == Uninitialized
	}
	check.Assertf(ok, "orchestrator phase transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}
