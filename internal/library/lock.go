package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

// RootLock is the advisory lock on an index root. Builds and repairs take
// it exclusively and fail fast when it is held; uploads and pack installs
// take it shared around each book commit and wait.
//
// Each acquisition opens its own flock handle, so holders inside one
// process exclude each other the same way separate processes do.
type RootLock struct {
	path string
	poll time.Duration
}

// NewRootLock returns the lock for layout.
func NewRootLock(layout Layout) *RootLock {
	return &RootLock{path: layout.LockPath(), poll: 50 * time.Millisecond}
}

// Path returns the lock file path.
func (l *RootLock) Path() string { return l.path }

// TryExclusive acquires the lock without blocking. A held lock returns a
// busy ConflictError.
func (l *RootLock) TryExclusive() (release func(), err error) {
	fl, err := l.handle()
	if err != nil {
		return nil, err
	}
	ok, err := fl.TryLock()
	if err != nil {
		_ = fl.Close()
		return nil, aerrors.IOError("acquire index root lock", err)
	}
	if !ok {
		_ = fl.Close()
		return nil, aerrors.BusyError(filepath.Dir(l.path))
	}
	return unlocker(fl), nil
}

// Shared waits for a shared hold on the lock until ctx is done.
func (l *RootLock) Shared(ctx context.Context) (release func(), err error) {
	fl, err := l.handle()
	if err != nil {
		return nil, err
	}
	ok, err := fl.TryRLockContext(ctx, l.poll)
	if err != nil || !ok {
		_ = fl.Close()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("acquire shared index root lock: %w", ctx.Err())
	}
	return unlocker(fl), nil
}

// Held reports whether an exclusive holder currently has the lock.
func (l *RootLock) Held() bool {
	fl, err := l.handle()
	if err != nil {
		return false
	}
	ok, err := fl.TryRLock()
	defer func() { _ = fl.Close() }()
	return err == nil && !ok
}

func (l *RootLock) handle() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, aerrors.IOError("create index root", err)
	}
	return flock.New(l.path), nil
}

func unlocker(fl *flock.Flock) func() {
	var once sync.Once
	return func() { once.Do(func() { _ = fl.Unlock() }) }
}

