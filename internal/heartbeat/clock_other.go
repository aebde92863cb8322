//go:build !linux

package heartbeat

// BootTime falls back to wall-clock nanoseconds where CLOCK_BOOTTIME is
// unavailable.
func BootTime() int64 {
	return fallbackTime()
}
