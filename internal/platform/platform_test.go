// SPDX-License-Identifier: MPL-2.0

package platform

import "testing"

func TestIsWindowsReservedName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"CON lowercase", "con", true},
		{"CON mixed case", "Con", true},
		{"NUL", "nul", true},
		{"COM9", "com9", true},
		{"LPT1", "lpt1", true},
		{"with extension", "nul.exe", true},
		{"with two extensions", "aux.exe.manifest", true},
		{"script wrapper", "con-script.py", false},
		{"normal", "initools", false},
		{"contains reserved", "confile", false},
		{"COM10", "com10", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsWindowsReservedName(tt.input); got != tt.expected {
				t.Errorf("IsWindowsReservedName(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBinDirName(t *testing.T) {
	t.Parallel()

	if got := BinDirName(Windows); got != "Scripts" {
		t.Errorf("BinDirName(windows) = %q", got)
	}
	for _, goos := range []string{Linux, Darwin} {
		if got := BinDirName(goos); got != "bin" {
			t.Errorf("BinDirName(%s) = %q", goos, got)
		}
	}
}
