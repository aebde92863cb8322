package heartbeat

import "keepalive/internal/check"

// ConnPhase is the state of a heartbeat link as seen by one side.
type ConnPhase uint8

const (
	Disconnected ConnPhase = iota + 1
	Connected
	Degraded
	Dead
)

func (p ConnPhase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Transition validates a phase change. Disconnected->Degraded covers a peer
// that was seen once and keeps missing after a resurrection attempt.
func (p ConnPhase) Transition(to ConnPhase) ConnPhase {
	ok := false
	switch p {
	case Disconnected:
		ok = to == Connected || to == Degraded
	case Connected:
		ok = to == Degraded || to == Disconnected
	case Degraded:
		ok = to == Connected || to == Dead || to == Disconnected
	case Dead:
		ok = to == Disconnected
	}
	check.Assertf(ok, "heartbeat phase transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}
