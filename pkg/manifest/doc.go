// SPDX-License-Identifier: MPL-2.0

// Package manifest records what a package install wrote into an environment.
//
// A [Recorder] collects [PathRecord] values while an install is in progress and
// persists them as a [Manifest] through a [Store] only when the install commits.
// Manifests are stored one per package as TOML files keyed by the normalized
// package name (see [PackageName.Normalize]), so "pd.find", "PD_Find" and
// "pd-find" all resolve to the same manifest.
//
// Uninstall reads the manifest back to drive removal; nothing is inferred by
// scanning the filesystem.
package manifest
