package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"zenify/pkg/streamlink"
)

const lockRetryInterval = 50 * time.Millisecond

// locker hands out per-id file locks, so that a sweep and a store never touch the same
// artifact at once, even across processes sharing the cache directory.
type locker struct {
	dir string
}

func newLocker(dir string) (*locker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}
	return &locker{dir: dir}, nil
}

func (l *locker) path(id streamlink.MediaID) string {
	return filepath.Join(l.dir, id.String()+".lock")
}

// lock waits for the lock of id until ctx ends.
func (l *locker) lock(ctx context.Context, id streamlink.MediaID) (unlock func() error, err error) {
	fl := flock.New(l.path(id))

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to acquire lock: %v", ctx.Err())
	}

	return fl.Unlock, nil
}

// tryLock takes the lock of id only if it is free.
func (l *locker) tryLock(id streamlink.MediaID) (unlock func() error, ok bool) {
	fl := flock.New(l.path(id))

	locked, err := fl.TryLock()
	if err != nil || !locked {
		return nil, false
	}

	return fl.Unlock, true
}
