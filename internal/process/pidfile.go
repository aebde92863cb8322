package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	pidPollInterval = 50 * time.Millisecond
	pidStopForce    = 2 * time.Second
)

// PIDFilePath returns the PID file for role under dataDir.
func PIDFilePath(dataDir string, role Role) string {
	return filepath.Join(dataDir, sanitizeName(string(role))+".pid")
}

// LogFilePath returns the output log for role under dataDir.
func LogFilePath(dataDir string, role Role) string {
	return filepath.Join(dataDir, sanitizeName(string(role))+".log")
}

func sanitizeName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "default"
	}
	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func WritePIDFile(path string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d in %s", pid, path)
	}
	return pid, nil
}

// RemovePIDFileIfMatches removes path only if it still names pid, so a
// successor's PID file survives its predecessor's cleanup.
func RemovePIDFileIfMatches(path string, pid int) {
	current, err := ReadPIDFile(path)
	if err != nil || current != pid {
		return
	}
	_ = os.Remove(path)
}

// IsRunning reports whether pid names a live process.
func IsRunning(pid int) (bool, error) {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	case errors.Is(err, unix.EPERM):
		// Exists but owned by someone else.
		return true, nil
	default:
		return false, err
	}
}

// TerminateFromPIDFile stops the process named in path: SIGTERM, then
// SIGKILL after grace. verify, if set, must confirm the PID still belongs
// to the expected process before any signal is sent. A missing PID file or
// dead process is success.
func TerminateFromPIDFile(ctx context.Context, path string, grace time.Duration, verify func(pid int) (bool, error)) error {
	pid, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	running, err := IsRunning(pid)
	if err != nil || !running {
		_ = os.Remove(path)
		return nil
	}
	if verify != nil {
		ours, err := verify(pid)
		if err != nil {
			return err
		}
		if !ours {
			_ = os.Remove(path)
			return nil
		}
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			_ = os.Remove(path)
			return nil
		}
		return fmt.Errorf("signal %d: %w", pid, err)
	}
	if err := waitProcessExit(ctx, pid, grace); err == nil {
		RemovePIDFileIfMatches(path, pid)
		return nil
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	if err := waitProcessExit(ctx, pid, pidStopForce); err != nil {
		return err
	}
	RemovePIDFileIfMatches(path, pid)
	return nil
}

func waitProcessExit(ctx context.Context, pid int, timeout time.Duration) error {
	ticker := time.NewTicker(pidPollInterval)
	defer ticker.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		running, err := IsRunning(pid)
		if err != nil {
			return err
		}
		if !running || isZombie(pid) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("process %d did not exit within %s", pid, timeout)
		case <-ticker.C:
		}
	}
}

// PIDTerminator stops roles through their PID files under DataDir.
type PIDTerminator struct {
	DataDir string
	Grace   time.Duration
}

// Terminate stops the process running id, if its PID file still points at
// one.
func (t PIDTerminator) Terminate(ctx context.Context, id Identity) error {
	grace := t.Grace
	if grace <= 0 {
		grace = pidStopForce
	}
	return TerminateFromPIDFile(ctx, PIDFilePath(t.DataDir, id.Role), grace, VerifyPID(ctx, id))
}
