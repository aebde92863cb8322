package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// ErrRoleHeld means another live process already holds the role.
var ErrRoleHeld = errors.New("role already held by another process")

// RoleLock is an exclusive per-role file lock. Holding it is what makes
// "start if absent" idempotent: a duplicate launch exits instead of running
// twice.
type RoleLock struct {
	fl      *flock.Flock
	pidPath string
}

// AcquireRole takes the lock for role under dataDir, waiting up to wait for
// a dying predecessor to let go, then writes the caller's PID file.
func AcquireRole(ctx context.Context, dataDir string, role Role, wait time.Duration) (*RoleLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	fl := flock.New(filepath.Join(dataDir, sanitizeName(string(role))+".lock"))

	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("lock role %s: %w", role, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", role, ErrRoleHeld)
	}

	l := &RoleLock{fl: fl, pidPath: PIDFilePath(dataDir, role)}
	if err := WritePIDFile(l.pidPath, os.Getpid()); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return l, nil
}

// Release removes the PID file and drops the lock.
func (l *RoleLock) Release() error {
	RemovePIDFileIfMatches(l.pidPath, os.Getpid())
	return l.fl.Unlock()
}
