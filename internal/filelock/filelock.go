// SPDX-License-Identifier: MPL-2.0

// Package filelock provides advisory, cross-process file locks with a bounded
// wait. Shared environment state (the registry file, the namespace table) is
// only mutated while holding one of these locks.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultTimeout is used when Acquire is given a non-positive timeout.
	DefaultTimeout = 10 * time.Second
	// retryInterval is the pause between non-blocking lock attempts.
	retryInterval = 25 * time.Millisecond
)

var (
	// ErrLockTimeout is returned when a lock could not be acquired in time.
	// Callers may retry.
	ErrLockTimeout = errors.New("lock timeout")

	// errWouldBlock signals that another holder owns the lock right now.
	errWouldBlock = errors.New("lock is held")
)

type (
	// LockTimeoutError reports a bounded wait that expired. It wraps ErrLockTimeout.
	LockTimeoutError struct {
		Path     string
		Waited   time.Duration
		Attempts int
	}

	// Lock is a held advisory lock. Release must be called exactly once;
	// extra calls are no-ops.
	Lock struct {
		path   string
		handle lockHandle
	}
)

// Error implements the error interface for LockTimeoutError.
func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out acquiring lock %s after %s (%d attempts)",
		e.Path, e.Waited.Truncate(time.Millisecond), e.Attempts)
}

// Unwrap returns ErrLockTimeout for errors.Is() compatibility.
func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

// Acquire takes an exclusive lock on path, creating the lock file if needed.
// It retries until timeout elapses or ctx is done and never blocks indefinitely.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()
	attempts := 0
	for {
		attempts++
		handle, err := tryLock(path)
		if err == nil {
			return &Lock{path: path, handle: handle}, nil
		}
		if !errors.Is(err, errWouldBlock) {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}

		waited := time.Since(start)
		if waited >= timeout {
			return nil, &LockTimeoutError{Path: path, Waited: waited, Attempts: attempts}
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %s: %w", path, ctx.Err())
		case <-timer.C:
		}
	}
}

// With runs fn while holding the lock on path.
func With(ctx context.Context, path string, timeout time.Duration, fn func() error) error {
	lock, err := Acquire(ctx, path, timeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and closes the lock file.
func (l *Lock) Release() {
	if l == nil || l.handle == nil {
		return
	}
	l.handle.unlock()
	l.handle = nil
}
