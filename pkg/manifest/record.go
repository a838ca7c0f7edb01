// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
)

const (
	// KindFile is a regular file.
	KindFile PathKind = "file"
	// KindDirectory is a directory created by the install.
	KindDirectory PathKind = "dir"
	// KindSymlink is a symbolic link; removal never follows it.
	KindSymlink PathKind = "symlink"
)

var (
	// ErrInvalidPathKind is the sentinel error wrapped by InvalidPathKindError.
	ErrInvalidPathKind = errors.New("invalid path kind")
	// ErrRelativeRecordPath is returned when a record path is not absolute.
	ErrRelativeRecordPath = errors.New("record path must be absolute")
)

type (
	// PathKind classifies a filesystem entry written by an install.
	PathKind string

	// InvalidPathKindError is returned when a PathKind value is not recognized.
	InvalidPathKindError struct {
		Value PathKind
	}

	// PathRecord describes one filesystem entry written by an install.
	// Records are immutable once added to a manifest.
	PathRecord struct {
		// Path is the absolute, cleaned path of the entry.
		Path string `toml:"path"`
		// Kind is the entry type.
		Kind PathKind `toml:"kind"`
		// Owner is the normalized name of the package that wrote the entry.
		Owner string `toml:"owner"`
		// Hash is the hex SHA-256 of file contents, when known.
		Hash string `toml:"hash,omitempty"`
	}
)

// String returns the string representation of the PathKind.
func (k PathKind) String() string { return string(k) }

// Validate returns nil if the kind is one of the known kinds.
func (k PathKind) Validate() error {
	switch k {
	case KindFile, KindDirectory, KindSymlink:
		return nil
	default:
		return &InvalidPathKindError{Value: k}
	}
}

// Error implements the error interface for InvalidPathKindError.
func (e *InvalidPathKindError) Error() string {
	return fmt.Sprintf("invalid path kind %q (expected file, dir or symlink)", e.Value)
}

// Unwrap returns ErrInvalidPathKind for errors.Is() compatibility.
func (e *InvalidPathKindError) Unwrap() error { return ErrInvalidPathKind }

// Validate checks that the record has an absolute path and a known kind.
func (r PathRecord) Validate() error {
	if !filepath.IsAbs(r.Path) {
		return fmt.Errorf("%w: %q", ErrRelativeRecordPath, r.Path)
	}
	return r.Kind.Validate()
}
