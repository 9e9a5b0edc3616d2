package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	mferrors "github.com/Aman-CERP/metafind/internal/errors"
)

// Lock provides cross-process locking of an index using gofrs/flock.
// It serialises writers: 'metafind index' and live search sessions.
// Works on all platforms (Unix, Linux, macOS, Windows).
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewLock creates a lock for the index at basePath.
// The lock file is created at <basePath>.lock
func NewLock(basePath string) *Lock {
	lockPath := basePath + ".lock"
	return &Lock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if it's held by another process.
func (l *Lock) TryLock() (bool, error) {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Acquire takes the lock, retrying with backoff while another process
// holds it. Returns an index-locked error when retries run out.
func (l *Lock) Acquire(ctx context.Context, cfg mferrors.RetryConfig) error {
	return mferrors.Retry(ctx, cfg, func() error {
		acquired, err := l.TryLock()
		if err != nil {
			return err
		}
		if !acquired {
			return mferrors.IndexLockedError(l.path)
		}
		return nil
	})
}

// Unlock releases the file lock.
// It's safe to call Unlock multiple times or on an unlocked Lock.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}

	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *Lock) Path() string {
	return l.path
}

// IsLocked returns true if the lock is currently held.
func (l *Lock) IsLocked() bool {
	return l.locked
}
