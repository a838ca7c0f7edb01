// SPDX-License-Identifier: MPL-2.0

package uninstall

import (
	"errors"

	"github.com/sitepkg/sitepkg/pkg/manifest"
)

const (
	// StepDirectDelete removes a recorded file, symlink or owned directory.
	StepDirectDelete StepKind = "direct_delete"
	// StepRegistryLine rewrites the shared registry without the owners' lines.
	StepRegistryLine StepKind = "registry_line"
	// StepNamespaceCandidate unregisters the leaving packages from a namespace
	// directory and removes it when no contributor remains.
	StepNamespaceCandidate StepKind = "namespace_candidate"
	// StepManifestDelete removes a package's install manifest.
	StepManifestDelete StepKind = "manifest_delete"
)

const (
	// EditableSourceProtected marks the source tree of an editable install.
	EditableSourceProtected ProtectReason = "editable_source"
	// OutsideEnvironment marks a recorded path outside the environment root.
	OutsideEnvironment ProtectReason = "outside_environment"
	// EnvironmentDirectory marks one of the environment's own directories.
	EnvironmentDirectory ProtectReason = "environment_directory"
	// ProtectPattern marks a path matching a configured protect glob.
	ProtectPattern ProtectReason = "protect_pattern"
	// OwnedByOther marks a path, or a directory holding paths, recorded by a
	// package that stays installed. A directory holding any protected path
	// carries that path's reason.
	OwnedByOther ProtectReason = "owned_by_other"
	// UntrackedNamespace marks a namespace directory without table entries.
	UntrackedNamespace ProtectReason = "untracked_namespace"
	// UnrecordedContent marks a namespace directory holding entries no
	// leaving package recorded.
	UnrecordedContent ProtectReason = "unrecorded_content"
	// Uninspectable marks a directory whose content could not be read.
	Uninspectable ProtectReason = "uninspectable"
)

type (
	// StepKind classifies a plan step.
	StepKind string

	// ProtectReason explains why a recorded path is excluded from removal.
	ProtectReason string

	// Step is one unit of work in a Plan.
	Step struct {
		Kind StepKind `json:"kind"`
		// Path is the entry to remove, the registry file or the manifest file.
		Path string `json:"path"`
		// PathKind is set for direct deletes.
		PathKind manifest.PathKind `json:"path_kind,omitempty"`
		// Packages are the normalized names the step acts for.
		Packages []string `json:"packages"`
		// Lines are the registry entries to remove.
		Lines []string `json:"lines,omitempty"`
		// RemoveDir is set on namespace steps whose directory loses its last
		// contributor.
		RemoveDir bool `json:"remove_dir,omitempty"`
	}

	// Protected is a recorded path that will not be removed.
	Protected struct {
		Path    string        `json:"path"`
		Package string        `json:"package"`
		Reason  ProtectReason `json:"reason"`
	}

	// Target is one installed package in the transaction.
	Target struct {
		Name           manifest.PackageName `json:"name"`
		Version        string               `json:"version"`
		Editable       bool                 `json:"editable,omitempty"`
		EditableSource string               `json:"editable_source,omitempty"`
	}

	// Plan is the ordered, side-effect-free description of an uninstall.
	Plan struct {
		Targets      []Target               `json:"targets"`
		Steps        []Step                 `json:"steps"`
		Protected    []Protected            `json:"protected,omitempty"`
		Missing      []string               `json:"missing,omitempty"`
		NotInstalled []manifest.PackageName `json:"not_installed,omitempty"`
	}
)

// Empty reports whether the plan removes nothing.
func (p *Plan) Empty() bool { return len(p.Targets) == 0 }

// Paths returns every filesystem entry the plan removes, in removal order.
// Registry and manifest files are rewritten or dropped as bookkeeping and are
// not listed.
func (p *Plan) Paths() []string {
	var paths []string
	for _, s := range p.Steps {
		switch {
		case s.Kind == StepDirectDelete:
			paths = append(paths, s.Path)
		case s.Kind == StepNamespaceCandidate && s.RemoveDir:
			paths = append(paths, s.Path)
		}
	}
	return paths
}

// TargetNames returns the names of the packages being removed.
func (p *Plan) TargetNames() []manifest.PackageName {
	names := make([]manifest.PackageName, 0, len(p.Targets))
	for _, t := range p.Targets {
		names = append(names, t.Name)
	}
	return names
}

// NotInstalledErr joins a NotInstalledError per requested package that had no
// manifest, or returns nil.
func (p *Plan) NotInstalledErr() error {
	errs := make([]error, 0, len(p.NotInstalled))
	for _, name := range p.NotInstalled {
		errs = append(errs, &NotInstalledError{Name: name})
	}
	return errors.Join(errs...)
}
