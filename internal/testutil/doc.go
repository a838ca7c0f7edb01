// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Besides the Must* helpers it offers Snapshot and Diff, which capture a
// directory tree before and after an operation and report what changed,
// ignoring paths that match doublestar globs (build caches, lock files).
package testutil
