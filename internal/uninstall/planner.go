// SPDX-License-Identifier: MPL-2.0

package uninstall

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sitepkg/sitepkg/internal/env"
	"github.com/sitepkg/sitepkg/internal/namespace"
	"github.com/sitepkg/sitepkg/internal/registry"
	"github.com/sitepkg/sitepkg/pkg/manifest"
	"github.com/sitepkg/sitepkg/pkg/types"
)

const tracerName = "github.com/sitepkg/sitepkg/internal/uninstall"

// ErrBadProtectPattern is returned for a malformed protect glob.
var ErrBadProtectPattern = errors.New("invalid protect pattern")

type (
	// Planner builds uninstall plans. It never mutates the environment.
	Planner struct {
		layout     env.Layout
		manifests  *manifest.Store
		namespaces *namespace.Tracker
		registry   *registry.Editor
		protect    []string
	}

	// survivors is what the packages staying installed still own.
	survivors struct {
		// owners maps every path they recorded to its package.
		owners map[string]string
		// lines holds the registry entries they recorded, trimmed.
		lines map[string]bool
		// editable lists every editable source tree, leaving or not.
		editable []string
	}
)

// NewPlanner returns a planner for the environment. Protect patterns are
// doublestar globs matched against paths relative to the environment root,
// using forward slashes.
func NewPlanner(layout env.Layout, manifests *manifest.Store, namespaces *namespace.Tracker, reg *registry.Editor, protect ...string) (*Planner, error) {
	for _, pattern := range protect {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: %q", ErrBadProtectPattern, pattern)
		}
	}
	return &Planner{
		layout:     layout,
		manifests:  manifests,
		namespaces: namespaces,
		registry:   reg,
		protect:    slices.Clone(protect),
	}, nil
}

// Plan plans the removal of a single package. A package without a manifest
// yields a *NotInstalledError.
func (p *Planner) Plan(ctx context.Context, name manifest.PackageName) (*Plan, error) {
	plan, err := p.PlanAll(ctx, []manifest.PackageName{name})
	if err != nil {
		return nil, err
	}
	if plan.Empty() {
		return nil, &NotInstalledError{Name: name}
	}
	return plan, nil
}

// PlanAll plans the removal of several packages as one transaction. Names
// without a manifest are collected in Plan.NotInstalled and do not abort
// planning. Namespace directories are resolved after every package in the
// transaction has left.
func (p *Planner) PlanAll(ctx context.Context, names []manifest.PackageName) (_ *Plan, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "uninstall.Plan")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	plan := &Plan{}
	targets, err := p.loadTargets(ctx, names, plan)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("sitepkg.targets", len(targets)),
		attribute.Int("sitepkg.not_installed", len(plan.NotInstalled)),
	)
	if len(targets) == 0 {
		return plan, nil
	}

	leaving := make([]manifest.PackageName, 0, len(targets))
	for _, m := range targets {
		leaving = append(leaving, m.Name)
	}
	keep, err := p.survivors(leaving)
	if err != nil {
		return nil, err
	}

	var files, dirs []Step
	seen := make(map[string]struct{})
	nsLeaving := make(map[string][]string)

	for _, m := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := m.Key()

		nsDirs, err := p.namespaceDirs(ctx, m)
		if err != nil {
			return nil, err
		}
		for _, dir := range nsDirs {
			if !slices.Contains(nsLeaving[dir], key) {
				nsLeaving[dir] = append(nsLeaving[dir], key)
			}
		}

		if m.Editable {
			plan.Protected = append(plan.Protected, Protected{Path: m.EditableSource, Package: key, Reason: EditableSourceProtected})
		}

		for _, rec := range m.Records {
			path := filepath.Clean(rec.Path)
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			if slices.Contains(nsDirs, path) {
				continue
			}
			if reason, ok := p.protectedReason(m, path, rec.Kind, keep); ok {
				slog.Debug("recorded path protected", "path", path, "package", key, "reason", reason)
				plan.Protected = append(plan.Protected, Protected{Path: path, Package: key, Reason: reason})
				continue
			}
			if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
				plan.Missing = append(plan.Missing, path)
				continue
			} else if err != nil {
				return nil, fmt.Errorf("inspect %s: %w", path, err)
			}

			step := Step{Kind: StepDirectDelete, Path: path, PathKind: rec.Kind, Packages: []string{key}}
			if rec.Kind == manifest.KindDirectory {
				dirs = append(dirs, step)
			} else {
				files = append(files, step)
			}
		}
	}

	sortDeepestFirst(files)
	sortDeepestFirst(dirs)
	plan.Steps = append(plan.Steps, files...)
	plan.Steps = append(plan.Steps, dirs...)

	regStep, err := p.registryStep(targets, keep)
	if err != nil {
		return nil, err
	}
	if regStep != nil {
		plan.Steps = append(plan.Steps, *regStep)
	}

	nsSteps, err := p.namespaceSteps(ctx, nsLeaving, leaving, keep, plan)
	if err != nil {
		return nil, err
	}
	plan.Steps = append(plan.Steps, nsSteps...)

	for _, m := range targets {
		plan.Steps = append(plan.Steps, Step{
			Kind:     StepManifestDelete,
			Path:     p.manifests.PathFor(m.Name),
			Packages: []string{m.Key()},
		})
	}

	span.SetAttributes(
		attribute.Int("sitepkg.steps", len(plan.Steps)),
		attribute.Int("sitepkg.protected", len(plan.Protected)),
	)
	return plan, nil
}

func (p *Planner) loadTargets(ctx context.Context, names []manifest.PackageName, plan *Plan) ([]*manifest.Manifest, error) {
	var targets []*manifest.Manifest
	seen := make(map[string]struct{})
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := name.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[name.Normalize()]; dup {
			continue
		}
		seen[name.Normalize()] = struct{}{}

		m, err := p.manifests.Load(name)
		if errors.Is(err, manifest.ErrManifestNotFound) {
			slog.Warn("package not installed", "package", name)
			plan.NotInstalled = append(plan.NotInstalled, name)
			continue
		}
		if err != nil {
			return nil, err
		}
		targets = append(targets, m)
		plan.Targets = append(plan.Targets, Target{
			Name:           m.Name,
			Version:        m.Version,
			Editable:       m.Editable,
			EditableSource: m.EditableSource,
		})
	}
	return targets, nil
}

// survivors collects what the packages outside the transaction recorded.
func (p *Planner) survivors(leaving []manifest.PackageName) (*survivors, error) {
	all, err := p.manifests.List()
	if err != nil {
		return nil, err
	}
	keep := &survivors{owners: make(map[string]string), lines: make(map[string]bool)}
	for _, m := range all {
		if m.Editable {
			keep.editable = append(keep.editable, filepath.Clean(m.EditableSource))
		}
		if slices.ContainsFunc(leaving, m.Name.Matches) {
			continue
		}
		for _, rec := range m.Records {
			keep.owners[filepath.Clean(rec.Path)] = m.Key()
		}
		for _, l := range m.RegistryLines {
			keep.lines[strings.TrimSpace(l)] = true
		}
	}
	return keep, nil
}

func (p *Planner) namespaceDirs(ctx context.Context, m *manifest.Manifest) ([]string, error) {
	dirs := make([]string, 0, len(m.Namespaces))
	for _, d := range m.Namespaces {
		dirs = append(dirs, filepath.Clean(d))
	}
	tracked, err := p.namespaces.DirectoriesFor(ctx, m.Name)
	if err != nil {
		return nil, err
	}
	for _, d := range tracked {
		if !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	return dirs, nil
}

func (p *Planner) protectedReason(m *manifest.Manifest, path string, kind manifest.PathKind, keep *survivors) (ProtectReason, bool) {
	fp := types.FilesystemPath(path)
	if !p.layout.Contains(path) {
		return OutsideEnvironment, true
	}
	for _, envDir := range []string{p.layout.Root, p.layout.SiteDir, p.layout.BinDir, p.layout.SrcDir} {
		if path == envDir {
			return EnvironmentDirectory, true
		}
	}
	if m.Editable && kind == manifest.KindDirectory && types.FilesystemPath(m.EditableSource).IsWithin(fp) {
		return EditableSourceProtected, true
	}
	if reason, ok := p.mustSurvive(path, keep); ok {
		return reason, true
	}
	if kind == manifest.KindDirectory {
		return p.heldContent(path, keep)
	}
	return "", false
}

// mustSurvive reports why path has to stay regardless of who recorded it.
func (p *Planner) mustSurvive(path string, keep *survivors) (ProtectReason, bool) {
	fp := types.FilesystemPath(path)
	if fp.IsWithin(types.FilesystemPath(p.layout.StateDir)) {
		return EnvironmentDirectory, true
	}
	for _, src := range keep.editable {
		if fp.IsWithin(types.FilesystemPath(src)) {
			return EditableSourceProtected, true
		}
	}
	if p.matchesProtect(path) {
		return ProtectPattern, true
	}
	if _, ok := keep.owners[path]; ok {
		return OwnedByOther, true
	}
	return "", false
}

// heldContent protects an owned directory that holds anything which must
// survive: moving the directory aside would take it along.
func (p *Planner) heldContent(dir string, keep *survivors) (ProtectReason, bool) {
	for other := range keep.owners {
		if types.FilesystemPath(other).IsWithin(types.FilesystemPath(dir)) {
			return OwnedByOther, true
		}
	}

	var reason ProtectReason
	err := filepath.WalkDir(dir, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if path == dir {
			return nil
		}
		if r, ok := p.mustSurvive(path, keep); ok {
			slog.Debug("owned directory holds protected content", "dir", dir, "path", path, "reason", r)
			reason = r
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		slog.Warn("cannot inspect owned directory, keeping it", "dir", dir, "error", err)
		return Uninspectable, true
	}
	return reason, reason != ""
}

// namespaceContent reports whether dir would still hold entries after every
// path in removable is gone, and why the first such entry stays.
func (p *Planner) namespaceContent(dir string, removable []string, keep *survivors) (ProtectReason, bool) {
	var reason ProtectReason
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if slices.ContainsFunc(removable, func(r string) bool {
			return types.FilesystemPath(path).IsWithin(types.FilesystemPath(r))
		}) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		reason = UnrecordedContent
		if r, ok := p.mustSurvive(path, keep); ok {
			reason = r
		}
		slog.Debug("namespace directory keeps content", "dir", dir, "path", path, "reason", reason)
		return fs.SkipAll
	})
	if err != nil {
		slog.Warn("cannot inspect namespace directory, keeping it", "dir", dir, "error", err)
		return Uninspectable, true
	}
	return reason, reason != ""
}

func (p *Planner) matchesProtect(path string) bool {
	if len(p.protect) == 0 {
		return false
	}
	rel, err := filepath.Rel(p.layout.Root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range p.protect {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// registryStep removes the entries the leaving packages recorded, except
// those a remaining package recorded too.
func (p *Planner) registryStep(targets []*manifest.Manifest, keep *survivors) (*Step, error) {
	var entries, keys []string
	for _, m := range targets {
		owned := 0
		for _, l := range m.RegistryLines {
			if keep.lines[strings.TrimSpace(l)] {
				slog.Debug("registry entry kept for remaining packages", "entry", l, "package", m.Key())
				continue
			}
			entries = append(entries, l)
			owned++
		}
		if owned > 0 {
			keys = append(keys, m.Key())
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}
	lines, err := p.registry.Matching(entries...)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	return &Step{Kind: StepRegistryLine, Path: p.registry.Path(), Packages: keys, Lines: lines}, nil
}

// namespaceSteps resolves namespace directories deepest first, so a parent
// sees which of its children are already going.
func (p *Planner) namespaceSteps(ctx context.Context, nsLeaving map[string][]string, leaving []manifest.PackageName, keep *survivors, plan *Plan) ([]Step, error) {
	dirs := slices.SortedFunc(maps.Keys(nsLeaving), deeperFirst)

	var removable []string
	for _, s := range plan.Steps {
		if s.Kind == StepDirectDelete {
			removable = append(removable, s.Path)
		}
	}

	steps := make([]Step, 0, len(dirs))
	for _, dir := range dirs {
		pkgs := nsLeaving[dir]
		decision, err := p.namespaces.Preview(ctx, dir, leaving...)
		if err != nil {
			return nil, err
		}
		if decision == namespace.Untracked {
			plan.Protected = append(plan.Protected, Protected{Path: dir, Package: pkgs[0], Reason: UntrackedNamespace})
			continue
		}

		step := Step{Kind: StepNamespaceCandidate, Path: dir, Packages: slices.Sorted(slices.Values(pkgs))}
		if decision == namespace.Delete {
			switch {
			case !p.layout.Contains(dir):
				plan.Protected = append(plan.Protected, Protected{Path: dir, Package: pkgs[0], Reason: OutsideEnvironment})
			case p.matchesProtect(dir):
				plan.Protected = append(plan.Protected, Protected{Path: dir, Package: pkgs[0], Reason: ProtectPattern})
			default:
				if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
					plan.Missing = append(plan.Missing, dir)
				} else if reason, held := p.namespaceContent(dir, removable, keep); held {
					plan.Protected = append(plan.Protected, Protected{Path: dir, Package: pkgs[0], Reason: reason})
				} else {
					step.RemoveDir = true
					removable = append(removable, dir)
				}
			}
		} else {
			slog.Debug("namespace directory kept for remaining contributors", "dir", dir)
		}
		steps = append(steps, step)
	}
	sortDeepestFirst(steps)
	return steps, nil
}

// sortDeepestFirst orders steps so that children are handled before parents.
func sortDeepestFirst(steps []Step) {
	slices.SortStableFunc(steps, func(a, b Step) int { return deeperFirst(a.Path, b.Path) })
}

func deeperFirst(a, b string) int {
	da, db := types.FilesystemPath(a).Depth(), types.FilesystemPath(b).Depth()
	if da != db {
		return cmp.Compare(db, da)
	}
	return cmp.Compare(b, a)
}
