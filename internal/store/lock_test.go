package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mferrors "github.com/Aman-CERP/metafind/internal/errors"
)

func fastRetry() mferrors.RetryConfig {
	return mferrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestLock_TryLockUnlock(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "index")
	lock := NewLock(basePath)

	acquired, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lock.IsLocked())

	_, err = os.Stat(lock.Path())
	assert.NoError(t, err, "lock file should exist")

	require.NoError(t, lock.Unlock())
	assert.False(t, lock.IsLocked())
	// Second unlock should not error
	assert.NoError(t, lock.Unlock())
}

func TestLock_TryLock_AlreadyLocked(t *testing.T) {
	// Given: a lock held by one holder
	basePath := filepath.Join(t.TempDir(), "index")
	first := NewLock(basePath)
	acquired, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)
	defer first.Unlock()

	// When: a second holder tries
	second := NewLock(basePath)
	acquired, err = second.TryLock()

	// Then: it is refused
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestLock_Acquire_ReturnsLockedAfterRetries(t *testing.T) {
	// Given: a held lock
	basePath := filepath.Join(t.TempDir(), "index")
	first := NewLock(basePath)
	require.NoError(t, first.Acquire(context.Background(), fastRetry()))
	defer first.Unlock()

	// When: another holder acquires with few retries
	err := NewLock(basePath).Acquire(context.Background(), fastRetry())

	// Then: the error is the retryable index-locked error
	require.Error(t, err)
	assert.ErrorIs(t, err, &mferrors.Error{Code: mferrors.ErrCodeIndexLocked})
}

func TestLock_Acquire_SucceedsOnceReleased(t *testing.T) {
	// Given: a lock released shortly after
	basePath := filepath.Join(t.TempDir(), "index")
	first := NewLock(basePath)
	require.NoError(t, first.Acquire(context.Background(), fastRetry()))
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = first.Unlock()
	}()

	// When: a second holder waits with enough retries
	cfg := fastRetry()
	cfg.MaxRetries = 50
	second := NewLock(basePath)
	err := second.Acquire(context.Background(), cfg)

	// Then: it gets the lock
	require.NoError(t, err)
	assert.True(t, second.IsLocked())
	_ = second.Unlock()
}
