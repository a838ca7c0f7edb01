// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/sitepkg/sitepkg/internal/config"
	"github.com/sitepkg/sitepkg/internal/filelock"
	"github.com/sitepkg/sitepkg/internal/issue"
	"github.com/sitepkg/sitepkg/internal/uninstall"
	"github.com/sitepkg/sitepkg/pkg/types"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantCode  types.ExitCode
		wantIssue issue.Id
	}{
		{"lock timeout", &filelock.LockTimeoutError{Path: "env.lock"}, types.ExitLockTimeout, issue.LockTimeoutId},
		{"partial", &uninstall.PartialRemovalError{Cause: errors.New("busy")}, types.ExitPartialRemoval, issue.PartialRemovalId},
		{"rolled back", fmt.Errorf("%w: %w", uninstall.ErrRolledBack, os.ErrPermission), types.ExitFailure, issue.RolledBackId},
		{"not installed", errors.Join(&uninstall.NotInstalledError{Name: "a"}), types.ExitNotInstalled, issue.NotInstalledId},
		{"no environment", config.ErrNoEnvironment, types.ExitFailure, issue.NoEnvironmentId},
		{"permission", fmt.Errorf("remove: %w", os.ErrPermission), types.ExitFailure, issue.PermissionDeniedId},
		{"config", issue.NewErrorContext().WithOperation("load configuration").Wrap(errors.New("bad")).BuildError(), types.ExitFailure, issue.ConfigLoadFailedId},
		{"other", errors.New("boom"), types.ExitFailure, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, id := classifyError(tt.err)
			if code != tt.wantCode || id != tt.wantIssue {
				t.Errorf("classifyError() = (%d, %d), want (%d, %d)", code, id, tt.wantCode, tt.wantIssue)
			}
		})
	}
}

func TestNewServiceError_PanicsOnNil(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("newServiceError(nil) did not panic")
		}
	}()
	_ = newServiceError(nil, 0, "")
}

func TestRenderServiceError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderServiceError(&buf, newServiceError(errors.New("x"), 0, "styled message\n"), "notty")
	if buf.String() != "styled message\n" {
		t.Errorf("rendered = %q", buf.String())
	}

	buf.Reset()
	renderServiceError(&buf, newServiceError(errors.New("x"), issue.LockTimeoutId, ""), "notty")
	if !strings.Contains(buf.String(), "Environment is busy") {
		t.Errorf("rendered = %q, want lock timeout help", buf.String())
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	if got := exitCode(nil); got != 0 {
		t.Errorf("exitCode(nil) = %d", got)
	}
	if got := exitCode(errors.New("x")); got != 1 {
		t.Errorf("exitCode(plain) = %d", got)
	}
	wrapped := fmt.Errorf("run: %w", &ExitError{Code: types.ExitPartialRemoval})
	if got := exitCode(wrapped); got != 2 {
		t.Errorf("exitCode(wrapped ExitError) = %d", got)
	}
}

func TestFailure_WrapsServiceError(t *testing.T) {
	t.Parallel()

	err := failure(&uninstall.NotInstalledError{Name: "pkg"}, false)
	if err.Code != types.ExitNotInstalled {
		t.Errorf("Code = %d", err.Code)
	}
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.IssueID != issue.NotInstalledId {
		t.Fatalf("failure() = %#v, want ServiceError with NotInstalled issue", err)
	}
	if !strings.Contains(svcErr.StyledMessage, `package "pkg" is not installed`) {
		t.Errorf("StyledMessage = %q", svcErr.StyledMessage)
	}
	if !errors.Is(err, uninstall.ErrNotInstalled) {
		t.Error("failure() lost the ErrNotInstalled chain")
	}
}

func TestFailure_AddsSuggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantCode   types.ExitCode
		wantOp     string
		suggestion string
	}{
		{"not installed", &uninstall.NotInstalledError{Name: "pkg"}, types.ExitNotInstalled, "find package", "sitepkg list"},
		{"lock timeout", &filelock.LockTimeoutError{Path: "env.lock"}, types.ExitLockTimeout, "acquire environment lock", "lock_timeout"},
		{"partial", &uninstall.PartialRemovalError{Cause: errors.New("busy")}, types.ExitPartialRemoval, "remove package files", "run 'sitepkg uninstall' again"},
		{"rolled back", fmt.Errorf("%w: %w", uninstall.ErrRolledBack, os.ErrPermission), types.ExitFailure, "remove package files", "Every path was restored"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := failure(tt.err, false)
			if err.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", err.Code, tt.wantCode)
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || ae.Operation != tt.wantOp {
				t.Fatalf("failure() = %v, want an ActionableError for %q", err, tt.wantOp)
			}
			var svcErr *ServiceError
			if !errors.As(err, &svcErr) || !strings.Contains(svcErr.StyledMessage, tt.suggestion) {
				t.Errorf("StyledMessage = %q, want suggestion containing %q", svcErr.StyledMessage, tt.suggestion)
			}
		})
	}

	cfgErr := issue.NewErrorContext().WithOperation("load configuration").WithSuggestion("Check the file").Wrap(config.ErrNoEnvironment).BuildError()
	var ae *issue.ActionableError
	if err := failure(cfgErr, false); !errors.As(err, &ae) || ae.Operation != "load configuration" {
		t.Errorf("failure() replaced existing guidance: %v", err)
	}
}

func TestUninstallTargets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	req := dir + "/req.txt"
	if err := os.WriteFile(req, []byte("pd.find\nPyLogo<0.4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	names, err := uninstallTargets([]string{"PD_Find", "initools"}, []string{req})
	if err != nil {
		t.Fatalf("uninstallTargets() error = %v", err)
	}
	got := make([]string, 0, len(names))
	for _, n := range names {
		got = append(got, string(n))
	}
	if strings.Join(got, ",") != "PD_Find,initools,PyLogo" {
		t.Errorf("names = %v", got)
	}

	if _, err := uninstallTargets([]string{"bad name!"}, nil); err == nil {
		t.Error("uninstallTargets() accepted an invalid name")
	}
}
