// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	MustWriteFile(t, filepath.Join(root, "keep.txt"), "same")
	MustWriteFile(t, filepath.Join(root, "edit.txt"), "v1")
	MustWriteFile(t, filepath.Join(root, "gone", "old.txt"), "x")
	before := TakeSnapshot(t, root)

	MustWriteFile(t, filepath.Join(root, "edit.txt"), "v2")
	if err := os.RemoveAll(filepath.Join(root, "gone")); err != nil {
		t.Fatal(err)
	}
	MustWriteFile(t, filepath.Join(root, "new", "file.txt"), "y")
	after := TakeSnapshot(t, root)

	c := Diff(before, after)
	if !slices.Equal(c.Created, []string{"new", "new/file.txt"}) {
		t.Errorf("Created = %v", c.Created)
	}
	if !slices.Equal(c.Deleted, []string{"gone", "gone/old.txt"}) {
		t.Errorf("Deleted = %v", c.Deleted)
	}
	if !slices.Equal(c.Modified, []string{"edit.txt"}) {
		t.Errorf("Modified = %v", c.Modified)
	}
	if c.Empty() {
		t.Error("Empty() should be false")
	}
}

func TestTakeSnapshot_Ignore(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	MustWriteFile(t, filepath.Join(root, "pkg", "mod.py"), "print()")
	MustWriteFile(t, filepath.Join(root, "pkg", "__pycache__", "mod.pyc"), "bytecode")
	MustWriteFile(t, filepath.Join(root, "build", "lib", "x"), "")
	MustWriteFile(t, filepath.Join(root, "env.lock"), "")

	snap := TakeSnapshot(t, root, "**/__pycache__", "build", "*.lock")
	want := []string{"pkg", "pkg/mod.py"}
	var got []string
	for p := range snap {
		got = append(got, p)
	}
	slices.Sort(got)
	if !slices.Equal(got, want) {
		t.Errorf("snapshot paths = %v, want %v", got, want)
	}

	if !Diff(snap, TakeSnapshot(t, root, "**/__pycache__", "build", "*.lock")).Empty() {
		t.Error("unchanged tree should diff empty")
	}
}
