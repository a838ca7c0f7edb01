// SPDX-License-Identifier: MPL-2.0

// Package uninstall plans and executes the removal of installed packages.
//
// Planning reads the install manifests, the namespace table and the shared
// registry and produces an ordered Plan without touching the filesystem.
// Execution applies the plan under the environment lock, moving every removed
// entry into a stash directory first so that a failure part way through can be
// rolled back. Only a failed rollback leaves the environment partially
// modified, and that case is reported as a PartialRemovalError listing exactly
// which steps were applied.
package uninstall
