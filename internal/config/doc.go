// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/sitepkg/config.cue (or the XDG equivalent on
// Linux, ~/Library/Application Support/sitepkg/config.cue on macOS, %APPDATA%\sitepkg\config.cue
// on Windows). Every key can be overridden with a SITEPKG_ environment variable, for
// example SITEPKG_ENV_ROOT or SITEPKG_UI_VERBOSE.
//
// Configuration files are validated against the embedded CUE schema (config_schema.cue)
// before they are merged into Viper.
package config
