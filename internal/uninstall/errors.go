// SPDX-License-Identifier: MPL-2.0

package uninstall

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sitepkg/sitepkg/pkg/manifest"
)

var (
	// ErrNotInstalled is returned when a package has no install manifest.
	ErrNotInstalled = errors.New("package not installed")
	// ErrRolledBack is returned when execution failed and every applied step
	// was reverted.
	ErrRolledBack = errors.New("uninstall rolled back")
	// ErrPartialRemoval is returned when execution failed and rollback could
	// not revert every applied step.
	ErrPartialRemoval = errors.New("partial removal")
)

type (
	// NotInstalledError reports one package without a manifest. In a batch it
	// is collected on the Plan instead of aborting planning.
	NotInstalledError struct {
		Name manifest.PackageName
	}

	// PartialRemovalError enumerates the state of every step after a failed
	// rollback.
	PartialRemovalError struct {
		// Applied steps are still in effect.
		Applied []Step
		// Failed holds the step that failed.
		Failed []Step
		// Skipped steps were never attempted.
		Skipped []Step
		// Cause is the error that stopped execution.
		Cause error
		// RollbackErrors are the errors hit while reverting.
		RollbackErrors []error
		// StashDir still holds the moved-aside entries.
		StashDir string
	}
)

// Error implements the error interface for NotInstalledError.
func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("package %q is not installed", string(e.Name))
}

// Unwrap returns ErrNotInstalled for errors.Is() compatibility.
func (e *NotInstalledError) Unwrap() error { return ErrNotInstalled }

// Error implements the error interface for PartialRemovalError.
func (e *PartialRemovalError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "partial removal: %d step(s) applied, %d failed, %d skipped",
		len(e.Applied), len(e.Failed), len(e.Skipped))
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	if len(e.RollbackErrors) > 0 {
		fmt.Fprintf(&sb, " (rollback: %v)", errors.Join(e.RollbackErrors...))
	}
	return sb.String()
}

// Unwrap exposes ErrPartialRemoval and the original cause.
func (e *PartialRemovalError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrPartialRemoval}
	}
	return []error{ErrPartialRemoval, e.Cause}
}
