// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sitepkg/sitepkg/internal/config"
)

// newConfigCommand creates the `sitepkg config` command tree. Config
// subcommands load the configuration themselves so that a broken file can
// still be located and inspected.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage sitepkg configuration",
		Long: `Manage sitepkg configuration.

Configuration is stored in:
  - Linux: ~/.config/sitepkg/config.cue
  - macOS: ~/Library/Application Support/sitepkg/config.cue
  - Windows: %APPDATA%\sitepkg\config.cue

Every key can be overridden with a SITEPKG_ environment variable
(SITEPKG_ENV_ROOT, SITEPKG_LOCK_TIMEOUT, SITEPKG_UI_VERBOSE, ...).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(app.stderr, app.flags.verbose)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, source, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			showConfig(app, cfg, source)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.flags.configFile != "" {
				fmt.Fprintln(app.stdout, app.flags.configFile)
				return nil
			}
			path, err := config.FilePath("")
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, created, err := config.CreateDefaultConfig("")
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(app.stdout, "%s Configuration already exists at %s\n", WarningStyle.Render("!"), path)
				return nil
			}
			fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(app *App, cfg *config.Config, source string) {
	w := app.stdout
	keyStyle := NameStyle
	valueStyle := SuccessStyle
	unset := SubtitleStyle.Render("(unset)")

	value := func(v string) string {
		if v == "" {
			return unset
		}
		return valueStyle.Render(v)
	}

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if source == "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), source)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("env_root"), value(cfg.EnvRoot))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("site_dir"), value(cfg.SiteDir))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("bin_dir"), value(cfg.BinDir))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("registry_file"), value(cfg.RegistryFile))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("lock_timeout"), value(cfg.LockTimeout))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("protect"), value(strings.Join(cfg.Protect, ", ")))
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("ui"))
	fmt.Fprintf(w, "  verbose: %s\n", valueStyle.Render(fmt.Sprintf("%v", cfg.UI.Verbose)))
	fmt.Fprintf(w, "  color_scheme: %s\n", valueStyle.Render(cfg.UI.ColorScheme.String()))
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("metrics"))
	fmt.Fprintf(w, "  file: %s\n", value(cfg.Metrics.File))

	if layout, err := cfg.Layout(); err == nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, TitleStyle.Render("Environment Layout"))
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("site"), layout.SiteDir)
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("bin"), layout.BinDir)
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("registry"), layout.RegistryFile)
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("manifests"), layout.ManifestDir)
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("namespaces"), layout.NamespaceDB)
	}
}
