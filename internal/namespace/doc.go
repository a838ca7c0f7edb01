// SPDX-License-Identifier: MPL-2.0

// Package namespace tracks which installed packages contribute to each shared
// namespace-package directory.
//
// A namespace directory (for example `site-packages/pd` shared by `pd.find`
// and `pd.other`) may only be removed once no installed package contributes to
// it. The Tracker keeps one row per (directory, package) pair in a SQLite table
// under the environment state directory. Callers serialize mutations by holding
// the environment lock from internal/filelock.
package namespace
