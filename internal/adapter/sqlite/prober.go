package sqlite

import (
	"context"
	"time"

	"keepalive/internal/heartbeat"
	"keepalive/internal/process"
)

// HeartbeatProber decides liveness from the records in the shared store:
// a role is alive iff its last heartbeat is younger than StaleAfter and the
// process that published it still exists.
type HeartbeatProber struct {
	Store      *Store
	StaleAfter time.Duration
	// Now returns boot-clock nanoseconds; defaults to heartbeat.BootTime.
	Now func() int64
}

func (p HeartbeatProber) Alive(ctx context.Context, id process.Identity) (bool, error) {
	rec, ok, err := p.Store.Heartbeat(ctx, id.Role)
	if err != nil || !ok {
		return false, err
	}
	now := heartbeat.BootTime
	if p.Now != nil {
		now = p.Now
	}
	if rec.Age(now()) >= p.StaleAfter {
		return false, nil
	}
	if rec.ProcessID > 0 {
		// An unreadable PID leaves the decision to freshness alone.
		if running, err := process.IsRunning(rec.ProcessID); err == nil && !running {
			return false, nil
		}
	}
	return true, nil
}
