// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sitepkg/sitepkg/internal/env"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultLockTimeout is the default bounded wait for the environment lock.
	DefaultLockTimeout = "10s"
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrNoEnvironment is returned when no environment root is configured.
	ErrNoEnvironment = errors.New("no environment root configured")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig and collects the field-level errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// UIConfig configures terminal output.
	UIConfig struct {
		// Verbose enables debug logging.
		Verbose bool `json:"verbose" mapstructure:"verbose"`
		// ColorScheme selects the palette.
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
	}

	// MetricsConfig configures the Prometheus textfile output.
	MetricsConfig struct {
		// File is written after each operation when non-empty.
		File string `json:"file" mapstructure:"file"`
	}

	// Config is the application configuration.
	Config struct {
		// EnvRoot is the environment root directory.
		EnvRoot string `json:"env_root" mapstructure:"env_root"`
		// SiteDir overrides the site directory.
		SiteDir string `json:"site_dir" mapstructure:"site_dir"`
		// BinDir overrides the console-script directory.
		BinDir string `json:"bin_dir" mapstructure:"bin_dir"`
		// RegistryFile overrides the shared registry file (name or path).
		RegistryFile string `json:"registry_file" mapstructure:"registry_file"`
		// LockTimeout bounds the wait for the environment lock.
		LockTimeout string `json:"lock_timeout" mapstructure:"lock_timeout"`
		// Protect lists doublestar globs that uninstall never removes.
		Protect []string `json:"protect" mapstructure:"protect"`
		// UI configures terminal output.
		UI UIConfig `json:"ui" mapstructure:"ui"`
		// Metrics configures metrics output.
		Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	}
)

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// Validate returns nil if the ColorScheme is one of the defined color schemes.
func (cs ColorScheme) Validate() error {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return &InvalidColorSchemeError{Value: cs}
	}
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks what the CUE schema cannot express, such as duration
// values and glob syntax. An empty color scheme is normalized to auto.
func (c *Config) Validate() error {
	var errs []error
	if c.LockTimeout != "" {
		if d, err := time.ParseDuration(c.LockTimeout); err != nil {
			errs = append(errs, fmt.Errorf("lock_timeout: %w", err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("lock_timeout: must be positive, got %s", d))
		}
	}
	for i, pattern := range c.Protect {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("protect[%d]: invalid glob %q", i, pattern))
		}
	}
	if c.UI.ColorScheme == "" {
		c.UI.ColorScheme = ColorSchemeAuto
	}
	if err := c.UI.ColorScheme.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ui.color_scheme: %w", err))
	}
	if c.EnvRoot != "" && !filepath.IsAbs(c.EnvRoot) {
		errs = append(errs, fmt.Errorf("env_root: %w: %q", env.ErrRelativeRoot, c.EnvRoot))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// LockTimeoutDuration returns the parsed lock timeout, falling back to the default.
func (c *Config) LockTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.LockTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultLockTimeout)
	}
	return d
}

// Layout resolves the environment layout described by the config.
func (c *Config) Layout() (env.Layout, error) {
	if c.EnvRoot == "" {
		return env.Layout{}, ErrNoEnvironment
	}
	l, err := env.NewLayout(c.EnvRoot)
	if err != nil {
		return env.Layout{}, err
	}
	return l.WithOverrides(c.SiteDir, c.BinDir, c.RegistryFile), nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LockTimeout: DefaultLockTimeout,
		Protect:     []string{},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}
