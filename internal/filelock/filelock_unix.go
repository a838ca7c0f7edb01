// SPDX-License-Identifier: MPL-2.0

//go:build unix

package filelock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// lockHandle owns the open lock file. The kernel drops the flock when the fd
// is closed, including on process crash, so an orphaned lock file is harmless.
type lockHandle interface {
	unlock()
}

type flockHandle struct {
	file *os.File
}

func tryLock(path string) (lockHandle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, errWouldBlock
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &flockHandle{file: f}, nil
}

func (h *flockHandle) unlock() {
	if err := unix.Flock(int(h.file.Fd()), unix.LOCK_UN); err != nil {
		slog.Debug("flock unlock failed", "path", h.file.Name(), "error", err)
	}
	if err := h.file.Close(); err != nil {
		slog.Debug("lock file close failed", "path", h.file.Name(), "error", err)
	}
}
