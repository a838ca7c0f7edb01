// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// SchemaVersion is the current manifest file format version.
	SchemaVersion = 1

	manifestExt      = ".toml"
	manifestDirPerm  = 0o755
	manifestFilePerm = 0o644
)

var (
	// ErrManifestNotFound is returned when no manifest exists for a package.
	ErrManifestNotFound = errors.New("install manifest not found")
	// ErrCorruptManifest is returned when a manifest file cannot be decoded.
	ErrCorruptManifest = errors.New("corrupt install manifest")
)

type (
	// ManifestNotFoundError is returned by Load and Delete when the package has
	// no persisted manifest. It wraps ErrManifestNotFound.
	ManifestNotFoundError struct {
		Name PackageName
	}

	// Manifest is the durable record of everything one package install wrote.
	Manifest struct {
		// Schema is the manifest format version.
		Schema int `toml:"schema"`
		// Name is the package name as it was installed.
		Name PackageName `toml:"name"`
		// Version is the installed version string.
		Version string `toml:"version"`
		// InstalledAt is the commit time of the install.
		InstalledAt time.Time `toml:"installed_at"`
		// Editable marks a development install pointing at an external source tree.
		Editable bool `toml:"editable"`
		// EditableSource is the external source tree of an editable install.
		// It is never removed by uninstall.
		EditableSource string `toml:"editable_source,omitempty"`
		// Records are the filesystem entries in the order they were written.
		Records []PathRecord `toml:"records"`
		// RegistryLines are the lines appended to the shared registry file.
		RegistryLines []string `toml:"registry_lines,omitempty"`
		// Namespaces are directory levels registered as shared namespace roots.
		Namespaces []string `toml:"namespaces,omitempty"`
	}

	// Store persists manifests in a directory, one file per package.
	Store struct {
		dir string
	}
)

// Error implements the error interface for ManifestNotFoundError.
func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("no install manifest for %q", string(e.Name))
}

// Unwrap returns ErrManifestNotFound for errors.Is() compatibility.
func (e *ManifestNotFoundError) Unwrap() error { return ErrManifestNotFound }

// Key returns the normalized storage key of the manifest's package.
func (m *Manifest) Key() string { return m.Name.Normalize() }

// Paths returns the record paths in recorded order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Records))
	for _, r := range m.Records {
		paths = append(paths, r.Path)
	}
	return paths
}

// Validate checks the manifest name and every record.
func (m *Manifest) Validate() error {
	if err := m.Name.Validate(); err != nil {
		return err
	}
	if m.Editable && !filepath.IsAbs(m.EditableSource) {
		return fmt.Errorf("editable manifest %q: source path %q must be absolute", m.Name, m.EditableSource)
	}
	for i, r := range m.Records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("manifest %q record %d: %w", m.Name, i, err)
		}
	}
	return nil
}

// NewStore returns a store rooted at dir. The directory is created on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory holding manifest files.
func (s *Store) Dir() string { return s.dir }

// PathFor returns the manifest file path for the given package name.
func (s *Store) PathFor(name PackageName) string {
	return filepath.Join(s.dir, name.Normalize()+manifestExt)
}

// Exists reports whether a manifest is persisted for the package.
func (s *Store) Exists(name PackageName) bool {
	_, err := os.Stat(s.PathFor(name))
	return err == nil
}

// Load reads the manifest of the named package. It returns a
// *ManifestNotFoundError when the package has no manifest.
func (s *Store) Load(name PackageName) (*Manifest, error) {
	path := s.PathFor(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ManifestNotFoundError{Name: name}
		}
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptManifest, path, err)
	}
	if m.Schema == 0 {
		return nil, fmt.Errorf("%w: %s is missing schema version", ErrCorruptManifest, path)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptManifest, path, err)
	}
	return &m, nil
}

// Save writes the manifest atomically: the content goes to a temp file in the
// store directory which is then renamed over the final path, so readers never
// observe a half-written manifest.
func (s *Store) Save(m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Schema == 0 {
		m.Schema = SchemaVersion
	}

	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest %q: %w", m.Name, err)
	}

	if err := os.MkdirAll(s.dir, manifestDirPerm); err != nil {
		return fmt.Errorf("create manifest directory %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := tmp.Chmod(manifestFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod manifest temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync manifest temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.PathFor(m.Name)); err != nil {
		return fmt.Errorf("replace manifest %q: %w", m.Name, err)
	}
	return nil
}

// Delete removes the persisted manifest of the named package.
func (s *Store) Delete(name PackageName) error {
	if err := os.Remove(s.PathFor(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ManifestNotFoundError{Name: name}
		}
		return fmt.Errorf("remove manifest %q: %w", name, err)
	}
	return nil
}

// List returns every persisted manifest sorted by normalized name. A missing
// store directory yields an empty list.
func (s *Store) List() ([]*Manifest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest directory %s: %w", s.dir, err)
	}

	var manifests []*Manifest
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, manifestExt) {
			continue
		}
		m, err := s.Load(PackageName(strings.TrimSuffix(name, manifestExt)))
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].Key() < manifests[j].Key()
	})
	return manifests, nil
}
