// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidFilesystemPath is the sentinel error wrapped by InvalidFilesystemPathError.
var ErrInvalidFilesystemPath = errors.New("invalid filesystem path")

type (
	// FilesystemPath represents an absolute or relative filesystem path.
	// A valid path must be non-empty and not whitespace-only.
	FilesystemPath string

	// InvalidFilesystemPathError is returned when a FilesystemPath value is
	// empty or whitespace-only.
	InvalidFilesystemPathError struct {
		Value FilesystemPath
	}
)

// String returns the string representation of the FilesystemPath.
func (p FilesystemPath) String() string { return string(p) }

// Validate returns nil if the path is non-empty and not whitespace-only.
func (p FilesystemPath) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return &InvalidFilesystemPathError{Value: p}
	}
	return nil
}

// Clean returns the lexically cleaned form of the path.
func (p FilesystemPath) Clean() FilesystemPath {
	return FilesystemPath(filepath.Clean(string(p)))
}

// IsWithin reports whether p equals dir or lies beneath it. The comparison is
// lexical; symlinks are not resolved.
func (p FilesystemPath) IsWithin(dir FilesystemPath) bool {
	pathClean := filepath.Clean(string(p))
	dirClean := filepath.Clean(string(dir))
	if pathClean == dirClean {
		return true
	}
	return strings.HasPrefix(pathClean, strings.TrimSuffix(dirClean, string(os.PathSeparator))+string(os.PathSeparator))
}

// Depth returns the number of path separators in the cleaned path. Deeper
// paths must be removed before their parents.
func (p FilesystemPath) Depth() int {
	return strings.Count(filepath.Clean(string(p)), string(os.PathSeparator))
}

// Error implements the error interface for InvalidFilesystemPathError.
func (e *InvalidFilesystemPathError) Error() string {
	return fmt.Sprintf("invalid filesystem path %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidFilesystemPath for errors.Is() compatibility.
func (e *InvalidFilesystemPathError) Unwrap() error { return ErrInvalidFilesystemPath }
