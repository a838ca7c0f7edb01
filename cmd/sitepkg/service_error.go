// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sitepkg/sitepkg/internal/config"
	"github.com/sitepkg/sitepkg/internal/filelock"
	"github.com/sitepkg/sitepkg/internal/install"
	"github.com/sitepkg/sitepkg/internal/issue"
	"github.com/sitepkg/sitepkg/internal/reqfile"
	"github.com/sitepkg/sitepkg/internal/uninstall"
	"github.com/sitepkg/sitepkg/pkg/manifest"
	"github.com/sitepkg/sitepkg/pkg/types"
)

// ServiceError is an error that carries optional rendering information for
// the CLI layer. Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints the styled message and then the issue help
// section, rendered with glamour in the given style.
func renderServiceError(stderr io.Writer, svcErr *ServiceError, style string) {
	if svcErr == nil {
		return
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}

	if svcErr.IssueID == 0 {
		return
	}

	if catalogEntry := issue.Get(svcErr.IssueID); catalogEntry != nil {
		rendered, renderErr := catalogEntry.Render(style)
		if renderErr != nil {
			slog.Warn("failed to render issue catalog entry", "issueID", svcErr.IssueID, "error", renderErr)
		} else {
			fmt.Fprint(stderr, rendered)
		}
	}
}

// classifyError maps a domain failure to an exit code and catalog entry.
func classifyError(err error) (types.ExitCode, issue.Id) {
	switch {
	case errors.Is(err, filelock.ErrLockTimeout):
		return types.ExitLockTimeout, issue.LockTimeoutId
	case errors.Is(err, uninstall.ErrPartialRemoval):
		return types.ExitPartialRemoval, issue.PartialRemovalId
	case errors.Is(err, uninstall.ErrRolledBack):
		return types.ExitFailure, issue.RolledBackId
	case errors.Is(err, uninstall.ErrNotInstalled), errors.Is(err, manifest.ErrManifestNotFound):
		return types.ExitNotInstalled, issue.NotInstalledId
	case errors.Is(err, manifest.ErrCorruptManifest):
		return types.ExitFailure, issue.ManifestCorruptId
	case errors.Is(err, config.ErrNoEnvironment):
		return types.ExitFailure, issue.NoEnvironmentId
	case errors.Is(err, install.ErrPathExists):
		return types.ExitFailure, issue.AlreadyInstalledId
	case errors.Is(err, reqfile.ErrInvalidLine), errors.Is(err, reqfile.ErrIncludeCycle):
		return types.ExitFailure, issue.RequirementsFileInvalidId
	case errors.Is(err, os.ErrPermission):
		return types.ExitFailure, issue.PermissionDeniedId
	default:
		var ae *issue.ActionableError
		if errors.As(err, &ae) && (ae.Operation == "load configuration" || ae.Operation == "validate configuration") {
			return types.ExitFailure, issue.ConfigLoadFailedId
		}
		return types.ExitFailure, 0
	}
}

// guide attaches next steps to the failures an uninstall can end in.
func guide(err error) error {
	switch {
	case errors.Is(err, filelock.ErrLockTimeout):
		return issue.Guide(err, "acquire environment lock",
			"Wait for the other sitepkg process in this environment to finish, then retry",
			"Raise lock_timeout in the configuration if installs routinely take longer")
	case errors.Is(err, uninstall.ErrPartialRemoval):
		return issue.Guide(err, "remove package files",
			"Some paths are gone and rollback could not restore them; see the step list above",
			"Fix the reported failure and run 'sitepkg uninstall' again; removed paths count as missing")
	case errors.Is(err, uninstall.ErrRolledBack):
		return issue.Guide(err, "remove package files",
			"Every path was restored; fix the reported failure and retry")
	case errors.Is(err, uninstall.ErrNotInstalled), errors.Is(err, manifest.ErrManifestNotFound):
		return issue.Guide(err, "find package",
			"Run 'sitepkg list' to see installed packages",
			"Names match case-insensitively and treat '-', '_' and '.' alike")
	default:
		return err
	}
}

// failure wraps err so the root command renders it and exits with the
// classified code.
func failure(err error, verbose bool) *ExitError {
	err = guide(err)
	code, issueID := classifyError(err)
	styled := fmt.Sprintf("\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))
	return &ExitError{Code: code, Err: newServiceError(err, issueID, styled)}
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors use their Format method; verbose adds the error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
