// SPDX-License-Identifier: MPL-2.0

// Package platform centralizes the OS names and file-name rules that change
// where and how an environment's files are laid out.
package platform

import "strings"

// OS name constants for runtime.GOOS comparisons.
const (
	Windows = "windows"
	Darwin  = "darwin"
	Linux   = "linux"
)

// windowsReservedNames cannot be used as file names on Windows, with or
// without an extension.
var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
	"LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// IsWindowsReservedName reports whether name, ignoring any extensions, is a
// device name Windows refuses to create.
func IsWindowsReservedName(name string) bool {
	base, _, _ := strings.Cut(strings.ToUpper(name), ".")
	return windowsReservedNames[base]
}

// BinDirName returns the console-script directory name for goos.
func BinDirName(goos string) string {
	if goos == Windows {
		return "Scripts"
	}
	return "bin"
}
