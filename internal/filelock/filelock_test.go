// SPDX-License-Identifier: MPL-2.0

package filelock

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquire_CreatesAndReleases(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "registry.lock")
	lock, err := Acquire(context.Background(), lockPath, time.Second)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if lock.Path() != lockPath {
		t.Errorf("Path() = %q, want %q", lock.Path(), lockPath)
	}
	lock.Release()
	lock.Release() // second release is a no-op

	again, err := Acquire(context.Background(), lockPath, time.Second)
	if err != nil {
		t.Fatalf("re-Acquire() after release error: %v", err)
	}
	again.Release()
}

func TestAcquire_TimesOutWhileHeld(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "namespaces.lock")
	held, err := Acquire(context.Background(), lockPath, time.Second)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer held.Release()

	start := time.Now()
	_, err = Acquire(context.Background(), lockPath, 100*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second Acquire() error = %v, want ErrLockTimeout", err)
	}
	var lte *LockTimeoutError
	if !errors.As(err, &lte) {
		t.Fatalf("error should be *LockTimeoutError, got %T", err)
	}
	if lte.Attempts < 2 {
		t.Errorf("Attempts = %d, want at least 2", lte.Attempts)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("bounded wait took %s", elapsed)
	}
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "wait.lock")
	held, err := Acquire(context.Background(), lockPath, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		held.Release()
	}()

	lock, err := Acquire(context.Background(), lockPath, 2*time.Second)
	if err != nil {
		t.Fatalf("Acquire() should succeed once the holder releases: %v", err)
	}
	lock.Release()
}

func TestAcquire_ContextCanceled(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "cancel.lock")
	held, err := Acquire(context.Background(), lockPath, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Acquire(ctx, lockPath, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestWith_RunsUnderLock(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "with.lock")
	var ran atomic.Bool
	err := With(context.Background(), lockPath, time.Second, func() error {
		ran.Store(true)
		if _, err := Acquire(context.Background(), lockPath, 50*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
			t.Errorf("nested Acquire() error = %v, want ErrLockTimeout", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With() error: %v", err)
	}
	if !ran.Load() {
		t.Error("With() did not run fn")
	}
}
