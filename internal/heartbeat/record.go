package heartbeat

import (
	"sync/atomic"
	"time"

	"keepalive/internal/check"
)

func fallbackTime() int64 { return time.Now().UnixNano() }

// Record is a liveness report: which process, and when (boot-clock ns).
type Record struct {
	ProcessID int
	Timestamp int64
}

// Age returns how long before now the record was written.
func (r Record) Age(now int64) time.Duration {
	if now < r.Timestamp {
		return 0
	}
	return time.Duration(now - r.Timestamp)
}

// Cell publishes the latest Record from a single writer to a single reader.
type Cell struct {
	p atomic.Pointer[Record]
}

// Publish stores r. Timestamps from one writer must not go backwards.
func (c *Cell) Publish(r Record) {
	if prev := c.p.Load(); prev != nil {
		check.Assertf(r.Timestamp >= prev.Timestamp,
			"heartbeat record went backwards: %d < %d", r.Timestamp, prev.Timestamp)
	}
	c.p.Store(&r)
}

// Load returns the latest record, if any was published.
func (c *Cell) Load() (Record, bool) {
	r := c.p.Load()
	if r == nil {
		return Record{}, false
	}
	return *r, true
}
