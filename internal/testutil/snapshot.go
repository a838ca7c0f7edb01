// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/bmatcuk/doublestar/v4"
)

type (
	// Entry is one path in a Snapshot.
	Entry struct {
		Mode fs.FileMode
		// Digest is the content hash of regular files and the target of symlinks.
		Digest string
	}

	// Snapshot maps slash-separated paths relative to the snapshot root to
	// their entry.
	Snapshot map[string]Entry

	// Changes is the difference between two snapshots. Each list is sorted.
	Changes struct {
		Created  []string
		Deleted  []string
		Modified []string
	}
)

// TakeSnapshot walks root and records every entry whose relative path does
// not match one of the ignore globs. A matching directory is skipped whole.
func TakeSnapshot(t testing.TB, root string, ignore ...string) Snapshot {
	t.Helper()

	snap := make(Snapshot)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignored(rel, ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		e := Entry{Mode: info.Mode().Type()}
		switch {
		case info.Mode().IsRegular():
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			sum := sha256.Sum256(data)
			e.Digest = hex.EncodeToString(sum[:])
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			e.Digest = target
		}
		snap[rel] = e
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot %s: %v", root, err)
	}
	return snap
}

// Diff reports what changed from before to after.
func Diff(before, after Snapshot) Changes {
	var c Changes
	for p, a := range after {
		b, ok := before[p]
		switch {
		case !ok:
			c.Created = append(c.Created, p)
		case a != b:
			c.Modified = append(c.Modified, p)
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			c.Deleted = append(c.Deleted, p)
		}
	}
	slices.Sort(c.Created)
	slices.Sort(c.Deleted)
	slices.Sort(c.Modified)
	return c
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Created) == 0 && len(c.Deleted) == 0 && len(c.Modified) == 0
}

func ignored(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
