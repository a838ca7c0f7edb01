// SPDX-License-Identifier: MPL-2.0

package namespace

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/sitepkg/sitepkg/pkg/manifest"
)

func openTestTracker(t *testing.T) (*Tracker, string) {
	t.Helper()

	root := t.TempDir()
	tr, err := Open(context.Background(), filepath.Join(root, ".sitepkg", "namespaces.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr, root
}

func TestTracker_SharedNamespaceCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, root := openTestTracker(t)
	ns := filepath.Join(root, "site-packages", "ns")

	for _, pkg := range []manifest.PackageName{"A", "B"} {
		if err := tr.Register(ctx, ns, pkg); err != nil {
			t.Fatalf("Register(%s) error: %v", pkg, err)
		}
	}
	// Registering the same pair again must not inflate the count.
	if err := tr.Register(ctx, ns, "a"); err != nil {
		t.Fatal(err)
	}

	got, err := tr.Contributors(ctx, ns)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("Contributors() = %v, want [a b]", got)
	}

	d, err := tr.Unregister(ctx, ns, "A")
	if err != nil {
		t.Fatal(err)
	}
	if d != Keep {
		t.Errorf("Unregister(A) = %v, want keep", d)
	}

	d, err = tr.Unregister(ctx, ns, "B")
	if err != nil {
		t.Fatal(err)
	}
	if d != Delete {
		t.Errorf("Unregister(B) = %v, want delete", d)
	}

	d, err = tr.Unregister(ctx, ns, "B")
	if err != nil {
		t.Fatal(err)
	}
	if d != Untracked {
		t.Errorf("Unregister after last contributor = %v, want untracked", d)
	}
}

func TestTracker_UntrackedDirectory(t *testing.T) {
	t.Parallel()

	tr, root := openTestTracker(t)
	d, err := tr.Unregister(context.Background(), filepath.Join(root, "site-packages", "plain"), "pkg")
	if err != nil {
		t.Fatal(err)
	}
	if d != Untracked {
		t.Errorf("Unregister() = %v, want untracked", d)
	}
}

func TestTracker_MultiSegmentNamespace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, root := openTestTracker(t)
	site := filepath.Join(root, "site-packages")
	shared := filepath.Join(site, "pd")
	find := filepath.Join(shared, "find")
	other := filepath.Join(shared, "other")

	mustRegister := func(dir string, pkg manifest.PackageName) {
		t.Helper()
		if err := tr.Register(ctx, dir, pkg); err != nil {
			t.Fatal(err)
		}
	}
	mustRegister(shared, "pd.find")
	mustRegister(find, "pd.find")
	mustRegister(shared, "pd.other")
	mustRegister(other, "pd.other")

	tests := []struct {
		dir  string
		want Decision
	}{
		{find, Delete},
		{shared, Keep},
		// pd.find never contributed here; pd.other's row stays.
		{other, Keep},
	}
	for _, tt := range tests {
		got, err := tr.Unregister(ctx, tt.dir, "PD_Find")
		if err != nil {
			t.Fatalf("Unregister(%s) error: %v", tt.dir, err)
		}
		if got != tt.want {
			t.Errorf("Unregister(%s) = %v, want %v", tt.dir, got, tt.want)
		}
	}

	dirs, err := tr.DirectoriesFor(ctx, "pd-other")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(dirs, []string{shared, other}) {
		t.Errorf("DirectoriesFor(pd-other) = %v", dirs)
	}
}

func TestTracker_PreviewDoesNotMutate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, root := openTestTracker(t)
	ns := filepath.Join(root, "site-packages", "ns")
	for _, pkg := range []manifest.PackageName{"a", "b"} {
		if err := tr.Register(ctx, ns, pkg); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		leaving []manifest.PackageName
		want    Decision
	}{
		{"one leaves", []manifest.PackageName{"a"}, Keep},
		{"both leave", []manifest.PackageName{"A", "b"}, Delete},
		{"stranger leaves", []manifest.PackageName{"c"}, Keep},
	}
	for _, tt := range tests {
		got, err := tr.Preview(ctx, ns, tt.leaving...)
		if err != nil {
			t.Fatalf("%s: Preview() error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: Preview() = %v, want %v", tt.name, got, tt.want)
		}
	}

	entries, err := tr.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || len(entries[0].Contributors) != 2 {
		t.Errorf("Entries() after Preview = %+v, want one entry with two contributors", entries)
	}

	if d, err := tr.Preview(ctx, filepath.Join(root, "elsewhere"), "a"); err != nil || d != Untracked {
		t.Errorf("Preview(untracked) = %v, %v", d, err)
	}
}

func TestTracker_PersistsAcrossOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "namespaces.db")
	ns := filepath.Join(filepath.Dir(dbPath), "ns")

	tr, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Register(ctx, ns, "a"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got, err := reopened.Contributors(ctx, ns)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"a"}) {
		t.Errorf("Contributors() after reopen = %v, want [a]", got)
	}
}

func TestTracker_RejectsRelativeDirectory(t *testing.T) {
	t.Parallel()

	tr, _ := openTestTracker(t)
	err := tr.Register(context.Background(), "relative/ns", "a")
	if !errors.Is(err, ErrRelativeDirectory) {
		t.Errorf("Register(relative) error = %v, want ErrRelativeDirectory", err)
	}
}
