// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/sitepkg/sitepkg/internal/config"
	"github.com/sitepkg/sitepkg/internal/env"
	"github.com/sitepkg/sitepkg/internal/install"
	"github.com/sitepkg/sitepkg/internal/metrics"
	"github.com/sitepkg/sitepkg/internal/namespace"
	"github.com/sitepkg/sitepkg/internal/registry"
	"github.com/sitepkg/sitepkg/internal/uninstall"
	"github.com/sitepkg/sitepkg/pkg/manifest"
)

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and reaches the environment through it.
	App struct {
		Config  ConfigProvider
		Confirm Confirmer
		stdout  io.Writer
		stderr  io.Writer
		flags   rootFlags
		cfg     *config.Config
	}

	// Dependencies defines the injection points for building an App. Nil fields
	// are replaced with production defaults by NewApp.
	Dependencies struct {
		Config  ConfigProvider
		Confirm Confirmer
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		LoadWithSource(ctx context.Context, opts config.LoadOptions) (*config.Config, string, error)
	}

	// Confirmer asks the user a yes/no question.
	Confirmer func(title, description string) (bool, error)

	rootFlags struct {
		verbose    bool
		configFile string
		envRoot    string
	}

	// environment is one opened managed environment.
	environment struct {
		cfg        *config.Config
		layout     env.Layout
		manifests  *manifest.Store
		namespaces *namespace.Tracker
		registry   *registry.Editor
		metrics    *metrics.Metrics
	}
)

// NewApp creates an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:  deps.Config,
		Confirm: deps.Confirm,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.Confirm == nil {
		app.Confirm = huhConfirm
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// loadConfig loads and caches the configuration for this invocation.
func (a *App) loadConfig(ctx context.Context) (*config.Config, string, error) {
	cfg, source, err := a.Config.LoadWithSource(ctx, config.LoadOptions{
		ConfigFilePath: a.flags.configFile,
		EnvRoot:        a.flags.envRoot,
	})
	if err != nil {
		return nil, "", err
	}
	a.cfg = cfg
	return cfg, source, nil
}

func (a *App) verbose() bool {
	return a.flags.verbose || (a.cfg != nil && a.cfg.UI.Verbose)
}

// glamourStyle maps the configured color scheme to a glamour style name.
func (a *App) glamourStyle() string {
	if a.cfg == nil {
		return string(config.ColorSchemeAuto)
	}
	switch a.cfg.UI.ColorScheme {
	case config.ColorSchemeDark, config.ColorSchemeLight:
		return string(a.cfg.UI.ColorScheme)
	default:
		return string(config.ColorSchemeAuto)
	}
}

// openEnvironment resolves the layout and opens the manifest store, the
// namespace table and the registry editor. Callers must Close the result.
func (a *App) openEnvironment(ctx context.Context) (*environment, error) {
	cfg := a.cfg
	if cfg == nil {
		var err error
		if cfg, _, err = a.loadConfig(ctx); err != nil {
			return nil, err
		}
	}

	layout, err := cfg.Layout()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(layout.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker, err := namespace.Open(ctx, layout.NamespaceDB)
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg:        cfg,
		layout:     layout,
		manifests:  manifest.NewStore(layout.ManifestDir),
		namespaces: tracker,
		registry:   registry.NewEditor(layout.RegistryFile),
		metrics:    metrics.New(),
	}, nil
}

func (e *environment) planner() (*uninstall.Planner, error) {
	return uninstall.NewPlanner(e.layout, e.manifests, e.namespaces, e.registry, e.cfg.Protect...)
}

func (e *environment) executor() *uninstall.Executor {
	return uninstall.NewExecutor(e.layout, e.namespaces, e.registry,
		uninstall.WithLockTimeout(e.cfg.LockTimeoutDuration()),
		uninstall.WithMetrics(e.metrics),
	)
}

func (e *environment) installer(opts ...install.Option) *install.Installer {
	opts = append([]install.Option{
		install.WithLockTimeout(e.cfg.LockTimeoutDuration()),
		install.WithMetrics(e.metrics),
	}, opts...)
	return install.New(e.layout, e.manifests, e.namespaces, e.registry, opts...)
}

// Close writes the metrics textfile when configured and closes the namespace table.
func (e *environment) Close() error {
	if e.cfg.Metrics.File != "" {
		if err := e.metrics.WriteTextfile(e.cfg.Metrics.File); err != nil {
			slog.Warn("failed to write metrics textfile", "path", e.cfg.Metrics.File, "error", err)
		}
	}
	return e.namespaces.Close()
}

// huhConfirm asks interactively with a huh confirm field. Aborting with
// ctrl+c counts as "no".
func huhConfirm(title, description string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}
