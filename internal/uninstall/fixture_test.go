// SPDX-License-Identifier: MPL-2.0

package uninstall

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sitepkg/sitepkg/internal/env"
	"github.com/sitepkg/sitepkg/internal/install"
	"github.com/sitepkg/sitepkg/internal/namespace"
	"github.com/sitepkg/sitepkg/internal/registry"
	"github.com/sitepkg/sitepkg/internal/testutil"
	"github.com/sitepkg/sitepkg/pkg/manifest"
)

// stateIgnore keeps bookkeeping out of filesystem comparisons.
var stateIgnore = []string{".sitepkg"}

type fixture struct {
	layout  env.Layout
	store   *manifest.Store
	tracker *namespace.Tracker
	reg     *registry.Editor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	layout, err := env.NewLayout(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := layout.Ensure(); err != nil {
		t.Fatal(err)
	}
	tracker, err := namespace.Open(context.Background(), layout.NamespaceDB)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { testutil.MustClose(t, tracker) })

	return &fixture{
		layout:  layout,
		store:   manifest.NewStore(layout.ManifestDir),
		tracker: tracker,
		reg:     registry.NewEditor(layout.RegistryFile),
	}
}

func (f *fixture) site(parts ...string) string {
	return filepath.Join(append([]string{f.layout.SiteDir}, parts...)...)
}

func (f *fixture) install(t *testing.T, name manifest.PackageName, opts []install.Option, fn func(s *install.Session) error) *manifest.Manifest {
	t.Helper()

	in := install.New(f.layout, f.store, f.tracker, f.reg, opts...)
	s, err := in.Begin(name, "1.0")
	if err != nil {
		t.Fatalf("Begin(%s) error: %v", name, err)
	}
	if err := fn(s); err != nil {
		_ = s.Abort(context.Background())
		t.Fatalf("install %s: %v", name, err)
	}
	m, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit(%s) error: %v", name, err)
	}
	return m
}

func (f *fixture) planner(t *testing.T, protect ...string) *Planner {
	t.Helper()
	p, err := NewPlanner(f.layout, f.store, f.tracker, f.reg, protect...)
	if err != nil {
		t.Fatalf("NewPlanner() error: %v", err)
	}
	return p
}

func (f *fixture) executor(opts ...ExecutorOption) *Executor {
	return NewExecutor(f.layout, f.tracker, f.reg, opts...)
}

// uninstall plans and executes the removal of names, failing the test on error.
func (f *fixture) uninstall(t *testing.T, names ...manifest.PackageName) (*Plan, *ExecutionResult) {
	t.Helper()

	ctx := context.Background()
	plan, err := f.planner(t).PlanAll(ctx, names)
	if err != nil {
		t.Fatalf("PlanAll(%v) error: %v", names, err)
	}
	result, err := f.executor().Execute(ctx, plan)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("Execute() status = %s, want success", result.Status)
	}
	return plan, result
}

func installINITools(t *testing.T, f *fixture) *manifest.Manifest {
	t.Helper()
	ctx := context.Background()
	return f.install(t, "INITools", nil, func(s *install.Session) error {
		for _, p := range []string{"initools/__init__.py", "initools/util.py", "INITools-0.2-py2.7.egg-info/PKG-INFO"} {
			if err := s.WriteFile(p, []byte("# "+p+"\n"), 0o644); err != nil {
				return err
			}
		}
		if _, err := s.AddScript("initools-cli", []byte("#!/usr/bin/env python\n")); err != nil {
			return err
		}
		return s.AddRegistryLines(ctx, "./INITools-0.2-py2.7.egg")
	})
}
