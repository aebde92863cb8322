//go:build linux

package heartbeat

import "golang.org/x/sys/unix"

// BootTime returns nanoseconds since boot, including time spent suspended.
// Readings are comparable across processes on the same host.
func BootTime() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return fallbackTime()
	}
	return ts.Nano()
}
