// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidPackageName is returned when a PackageName value does not match
	// the distribution naming rules.
	ErrInvalidPackageName = errors.New("invalid package name")

	// packageNamePattern accepts distribution names: ASCII letters and digits,
	// with '.', '_' or '-' allowed between them.
	packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?$`)

	// separatorRun matches any run of the separators that are equivalent in names.
	separatorRun = regexp.MustCompile(`[-_.]+`)
)

type (
	// PackageName is a distribution name as the user or installer spelled it.
	// Compare names through Normalize; the raw spelling is kept for display.
	PackageName string

	// InvalidPackageNameError is returned when a PackageName value is malformed.
	// It wraps ErrInvalidPackageName for errors.Is() compatibility.
	InvalidPackageNameError struct {
		Value PackageName
	}
)

// String returns the name as spelled.
func (n PackageName) String() string { return string(n) }

// Validate returns nil if the name is a well-formed distribution name.
func (n PackageName) Validate() error {
	if !packageNamePattern.MatchString(string(n)) {
		return &InvalidPackageNameError{Value: n}
	}
	return nil
}

// Normalize returns the canonical storage key for the name: lower-case with
// every run of '-', '_' and '.' collapsed to a single '-'.
func (n PackageName) Normalize() string {
	return separatorRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(string(n))), "-")
}

// Matches reports whether two spellings refer to the same distribution.
func (n PackageName) Matches(other PackageName) bool {
	return n.Normalize() == other.Normalize()
}

// Error implements the error interface for InvalidPackageNameError.
func (e *InvalidPackageNameError) Error() string {
	return fmt.Sprintf("invalid package name %q: must start and end with a letter or digit and contain only letters, digits, '.', '_' or '-'", string(e.Value))
}

// Unwrap returns ErrInvalidPackageName for errors.Is() compatibility.
func (e *InvalidPackageNameError) Unwrap() error { return ErrInvalidPackageName }
