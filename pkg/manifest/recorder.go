// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"
)

var (
	// ErrRecorderClosed is returned when a Recorder is used after Commit or Discard.
	ErrRecorderClosed = errors.New("manifest recorder already closed")
	// ErrDuplicateRecord is returned when the same path is recorded twice.
	ErrDuplicateRecord = errors.New("path already recorded")
)

// Recorder accumulates the records of one in-progress install. Nothing is
// persisted until Commit; an install that fails simply calls Discard.
type Recorder struct {
	store    *Store
	manifest Manifest
	seen     map[string]struct{}
	closed   bool
	now      func() time.Time
}

// NewRecorder starts recording an install of name at version.
func (s *Store) NewRecorder(name PackageName, version string) (*Recorder, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	return &Recorder{
		store: s,
		manifest: Manifest{
			Schema:  SchemaVersion,
			Name:    name,
			Version: version,
		},
		seen: make(map[string]struct{}),
		now:  time.Now,
	}, nil
}

// Name returns the package being recorded.
func (r *Recorder) Name() PackageName { return r.manifest.Name }

// Record appends a PathRecord for path. The path is cleaned and must be absolute.
func (r *Recorder) Record(path string, kind PathKind) error {
	return r.record(path, kind, "")
}

// RecordFile appends a file record carrying its content hash.
func (r *Recorder) RecordFile(path, hash string) error {
	return r.record(path, KindFile, hash)
}

func (r *Recorder) record(path string, kind PathKind, hash string) error {
	if r.closed {
		return ErrRecorderClosed
	}
	rec := PathRecord{
		Path:  filepath.Clean(path),
		Kind:  kind,
		Owner: r.manifest.Name.Normalize(),
		Hash:  hash,
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, dup := r.seen[rec.Path]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.Path)
	}
	r.seen[rec.Path] = struct{}{}
	r.manifest.Records = append(r.manifest.Records, rec)
	return nil
}

// AddRegistryLine notes a line the install appended to the shared registry.
func (r *Recorder) AddRegistryLine(line string) error {
	if r.closed {
		return ErrRecorderClosed
	}
	if !slices.Contains(r.manifest.RegistryLines, line) {
		r.manifest.RegistryLines = append(r.manifest.RegistryLines, line)
	}
	return nil
}

// AddNamespace notes a directory level registered as a shared namespace root.
func (r *Recorder) AddNamespace(dir string) error {
	if r.closed {
		return ErrRecorderClosed
	}
	dir = filepath.Clean(dir)
	if !filepath.IsAbs(dir) {
		return fmt.Errorf("%w: %q", ErrRelativeRecordPath, dir)
	}
	if !slices.Contains(r.manifest.Namespaces, dir) {
		r.manifest.Namespaces = append(r.manifest.Namespaces, dir)
	}
	return nil
}

// SetEditable marks the install as editable with the given external source tree.
func (r *Recorder) SetEditable(source string) error {
	if r.closed {
		return ErrRecorderClosed
	}
	if !filepath.IsAbs(source) {
		return fmt.Errorf("%w: %q", ErrRelativeRecordPath, source)
	}
	r.manifest.Editable = true
	r.manifest.EditableSource = filepath.Clean(source)
	return nil
}

// Records returns a copy of the records collected so far.
func (r *Recorder) Records() []PathRecord {
	return slices.Clone(r.manifest.Records)
}

// Snapshot returns a copy of the manifest as it would be committed now.
func (r *Recorder) Snapshot() Manifest {
	m := r.manifest
	m.Records = slices.Clone(r.manifest.Records)
	m.RegistryLines = slices.Clone(r.manifest.RegistryLines)
	m.Namespaces = slices.Clone(r.manifest.Namespaces)
	return m
}

// Commit persists the manifest atomically and closes the recorder.
func (r *Recorder) Commit() (*Manifest, error) {
	if r.closed {
		return nil, ErrRecorderClosed
	}
	r.manifest.InstalledAt = r.now().UTC().Truncate(time.Second)
	if err := r.store.Save(&r.manifest); err != nil {
		return nil, err
	}
	r.closed = true
	m := r.Snapshot()
	return &m, nil
}

// Discard closes the recorder without persisting anything.
func (r *Recorder) Discard() {
	r.closed = true
}
