// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package filelock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// staleAfter is the age after which an exclusive lock file is assumed to be
// left behind by a crashed process.
const staleAfter = 5 * time.Minute

type lockHandle interface {
	unlock()
}

// exclHandle implements the lock as an O_EXCL-created marker file, used where
// flock is unavailable.
type exclHandle struct {
	path string
}

func tryLock(path string) (lockHandle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
		_ = f.Close()
		return &exclHandle{path: path}, nil
	}
	if !errors.Is(err, os.ErrExist) && !errors.Is(err, os.ErrPermission) {
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleAfter {
		slog.Warn("removing stale lock file", "path", path, "age", time.Since(info.ModTime()))
		_ = os.Remove(path)
	}
	return nil, errWouldBlock
}

func (h *exclHandle) unlock() {
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("lock file remove failed", "path", h.path, "error", err)
	}
}
