// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for sitepkg.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/sitepkg/sitepkg/pkg/types"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sitepkg",
		Short: "Track what package installs write and remove it safely",
		Long: TitleStyle.Render("sitepkg") + SubtitleStyle.Render(" - install-manifest tracking and uninstall") + `

sitepkg records every file, directory, console script, namespace directory and
registry line a package install writes into an environment, and removes
exactly that set later without touching shared namespace roots, other
packages' registry entries or editable source trees.

` + SubtitleStyle.Render("Examples:") + `
  sitepkg --env ./venv list                List recorded packages
  sitepkg --env ./venv show initools       Show what a package installed
  sitepkg --env ./venv uninstall initools  Remove a package
  sitepkg --env ./venv uninstall -r req.txt --dry-run`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := app.loadConfig(cmd.Context()); err != nil {
				return app.fail(cmd, err)
			}
			setupLogging(app.stderr, app.verbose())
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.flags.configFile, "config", "", "config file (default is $XDG_CONFIG_HOME/sitepkg/config.cue)")
	rootCmd.PersistentFlags().StringVar(&app.flags.envRoot, "env", "", "environment root directory (overrides env_root)")

	rootCmd.AddCommand(
		newUninstallCommand(app),
		newListCommand(app),
		newShowCommand(app),
		newNamespacesCommand(app),
		newRecordCommand(app),
		newConfigCommand(app),
	)

	return rootCmd
}

// setupLogging routes slog through a charmbracelet/log handler on stderr.
func setupLogging(w io.Writer, verbose bool) {
	level := log.WarnLevel
	if verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(w, log.Options{
		Prefix: "sitepkg",
		Level:  level,
	})
	slog.SetDefault(slog.New(logger))
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// fail renders err with its catalog entry and returns an ExitError carrying
// the classified exit code. The rendered error is not printed again.
func (a *App) fail(cmd *cobra.Command, err error) error {
	exitErr := failure(err, a.verbose())
	var svcErr *ServiceError
	if errors.As(exitErr, &svcErr) {
		renderServiceError(a.stderr, svcErr, a.glamourStyle())
	}
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return exitErr
}

// errorHandler prints errors that were not already rendered by a command.
func errorHandler(w io.Writer, styles fang.Styles, err error) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}

// exitCode maps the error returned by the command tree to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return int(types.ExitSuccess)
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return int(exitErr.Code)
	}
	return int(types.ExitFailure)
}

// Main runs the CLI with the process arguments and returns the exit code.
func Main() int {
	app := NewApp(Dependencies{})
	err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(errorHandler),
	)
	return exitCode(err)
}

// Execute runs the CLI and exits the process. It is called by main.main().
func Execute() {
	os.Exit(Main())
}
