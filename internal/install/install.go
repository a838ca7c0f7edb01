// SPDX-License-Identifier: MPL-2.0

// Package install records what a package install writes into an environment.
//
// An install runs as a Session: every filesystem entry the session creates is
// written and recorded in the same call, namespace levels and registry lines
// are registered under the environment lock, and the manifest is persisted
// only by Commit. Abort reverses everything the session did.
package install

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/sitepkg/sitepkg/internal/env"
	"github.com/sitepkg/sitepkg/internal/filelock"
	"github.com/sitepkg/sitepkg/internal/metrics"
	"github.com/sitepkg/sitepkg/internal/namespace"
	"github.com/sitepkg/sitepkg/internal/registry"
	"github.com/sitepkg/sitepkg/pkg/manifest"
	"github.com/sitepkg/sitepkg/pkg/types"
)

var (
	// ErrPathExists is returned when an install would overwrite an existing entry.
	ErrPathExists = errors.New("path already exists")
	// ErrOutsideEnvironment is returned for paths outside the environment root.
	ErrOutsideEnvironment = errors.New("path is outside the environment")
	// ErrSessionClosed is returned when a session is used after Commit or Abort.
	ErrSessionClosed = errors.New("install session already closed")
)

type (
	// Installer starts install sessions for one environment.
	Installer struct {
		layout      env.Layout
		manifests   *manifest.Store
		namespaces  *namespace.Tracker
		registry    *registry.Editor
		lockTimeout time.Duration
		metrics     *metrics.Metrics
		goos        string
	}

	// Option configures an Installer.
	Option func(*Installer)

	// Session is one in-progress install.
	Session struct {
		in  *Installer
		rec *manifest.Recorder

		// created lists every entry written, in creation order.
		created []string
		// registered lists namespace levels this session registered.
		registered []string
		// appended lists the registry entries this session wrote.
		appended []string
		closed   bool
	}
)

// WithLockTimeout bounds the wait for the environment lock.
func WithLockTimeout(d time.Duration) Option {
	return func(in *Installer) { in.lockTimeout = d }
}

// WithMetrics counts committed installs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Installer) { in.metrics = m }
}

// WithPlatform selects the console-script layout ("windows" or any POSIX GOOS).
func WithPlatform(goos string) Option {
	return func(in *Installer) { in.goos = goos }
}

// New returns an installer for the environment.
func New(layout env.Layout, manifests *manifest.Store, namespaces *namespace.Tracker, reg *registry.Editor, opts ...Option) *Installer {
	in := &Installer{
		layout:      layout,
		manifests:   manifests,
		namespaces:  namespaces,
		registry:    reg,
		lockTimeout: filelock.DefaultTimeout,
		goos:        goruntime.GOOS,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Begin starts recording an install of name at version.
func (in *Installer) Begin(name manifest.PackageName, version string) (*Session, error) {
	if in.manifests.Exists(name) {
		return nil, fmt.Errorf("%w: %s is already installed", ErrPathExists, name)
	}
	rec, err := in.manifests.NewRecorder(name, version)
	if err != nil {
		return nil, err
	}
	if err := in.layout.Ensure(); err != nil {
		return nil, err
	}
	return &Session{in: in, rec: rec}, nil
}

// Name returns the package being installed.
func (s *Session) Name() manifest.PackageName { return s.rec.Name() }

// resolve turns a site-relative or absolute path into a checked absolute path.
func (s *Session) resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.in.layout.SiteDir, path)
	}
	path = filepath.Clean(path)
	if !s.in.layout.Contains(path) {
		return "", fmt.Errorf("%w: %s", ErrOutsideEnvironment, path)
	}
	return path, nil
}

// ensureParents creates and records the missing ancestors of path.
func (s *Session) ensureParents(path string) error {
	var missing []string
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if _, err := os.Lstat(dir); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		missing = append(missing, dir)
		if dir == s.in.layout.Root || dir == filepath.Dir(dir) {
			break
		}
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := s.mkdir(missing[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) mkdir(dir string) error {
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	s.created = append(s.created, dir)
	return s.rec.Record(dir, manifest.KindDirectory)
}

func (s *Session) checkOpen() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// WriteFile creates a new file with data and records it with its hash.
// Relative paths resolve against the site directory.
func (s *Session) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	path, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := s.ensureParents(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrPathExists, path)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	s.created = append(s.created, path)
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return s.rec.RecordFile(path, hex.EncodeToString(sum[:]))
}

// Mkdir creates dir and any missing parents, recording each directory created.
func (s *Session) Mkdir(dir string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	dir, err := s.resolve(dir)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dir); err == nil {
		return fmt.Errorf("%w: %s", ErrPathExists, dir)
	}
	if err := s.ensureParents(dir); err != nil {
		return err
	}
	return s.mkdir(dir)
}

// Symlink creates a symbolic link at path pointing to target.
func (s *Session) Symlink(target, path string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	path, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := s.ensureParents(path); err != nil {
		return err
	}
	if err := os.Symlink(target, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrPathExists, path)
		}
		return fmt.Errorf("symlink %s: %w", path, err)
	}
	s.created = append(s.created, path)
	return s.rec.Record(path, manifest.KindSymlink)
}

// AddNamespace creates dir (relative to the site directory) and registers this
// package as a contributor to every directory level from the site directory
// down to dir. Levels are never recorded as owned directories.
func (s *Session) AddNamespace(ctx context.Context, dir string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	dir, err := s.resolve(dir)
	if err != nil {
		return err
	}
	site := types.FilesystemPath(s.in.layout.SiteDir)
	if dir == s.in.layout.SiteDir || !types.FilesystemPath(dir).IsWithin(site) {
		return fmt.Errorf("namespace %s must be inside %s", dir, site)
	}

	var levels []string
	for d := dir; d != s.in.layout.SiteDir; d = filepath.Dir(d) {
		levels = append([]string{d}, levels...)
	}

	return filelock.With(ctx, s.in.layout.LockFile, s.in.lockTimeout, func() error {
		for _, level := range levels {
			if err := os.MkdirAll(level, 0o755); err != nil {
				return fmt.Errorf("create namespace %s: %w", level, err)
			}
			if err := s.in.namespaces.Register(ctx, level, s.Name()); err != nil {
				return err
			}
			s.registered = append(s.registered, level)
			if err := s.rec.AddNamespace(level); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddRegistryLines appends entries to the shared registry and records them.
func (s *Session) AddRegistryLines(ctx context.Context, lines ...string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	err := filelock.With(ctx, s.in.layout.LockFile, s.in.lockTimeout, func() error {
		added, err := s.in.registry.AppendLines(s.Name(), lines...)
		s.appended = append(s.appended, added...)
		return err
	})
	if err != nil {
		return err
	}
	for _, l := range lines {
		if err := s.rec.AddRegistryLine(l); err != nil {
			return err
		}
	}
	return nil
}

// LinkEditable turns the session into an editable install of the source tree
// at src: it writes the `<name>.egg-link` pointer into the site directory and
// registers src in the shared registry. The source tree itself is never
// recorded.
func (s *Session) LinkEditable(ctx context.Context, src string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !filepath.IsAbs(src) {
		return fmt.Errorf("editable source %q must be absolute", src)
	}
	src = filepath.Clean(src)
	if err := s.rec.SetEditable(src); err != nil {
		return err
	}
	link := filepath.Join(s.in.layout.SiteDir, s.Name().String()+".egg-link")
	if err := s.WriteFile(link, []byte(src+"\n.\n"), 0o644); err != nil {
		return err
	}
	return s.AddRegistryLines(ctx, src)
}

// Commit persists the manifest. After Commit the session is closed.
func (s *Session) Commit() (*manifest.Manifest, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	m, err := s.rec.Commit()
	if err != nil {
		return nil, err
	}
	s.closed = true
	s.in.metrics.ObserveRecorded()
	slog.Info("install recorded", "package", m.Name, "version", m.Version, "records", len(m.Records))
	return m, nil
}

// Abort removes everything the session wrote, unregisters its namespace
// levels and registry lines, and discards the manifest. Abort after Commit is
// a no-op.
func (s *Session) Abort(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.rec.Discard()

	var errs []error
	for i := len(s.created) - 1; i >= 0; i-- {
		if err := os.Remove(s.created[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", s.created[i], err))
		}
	}

	if len(s.registered) == 0 && len(s.appended) == 0 {
		return errors.Join(errs...)
	}
	err := filelock.With(ctx, s.in.layout.LockFile, s.in.lockTimeout, func() error {
		var lockedErrs []error
		for i := len(s.registered) - 1; i >= 0; i-- {
			level := s.registered[i]
			d, err := s.in.namespaces.Unregister(ctx, level, s.Name())
			if err != nil {
				lockedErrs = append(lockedErrs, err)
				continue
			}
			if d == namespace.Delete {
				// Only an empty level goes; anything else belongs to someone.
				if err := os.Remove(level); err != nil && !errors.Is(err, fs.ErrNotExist) {
					slog.Debug("namespace level left in place", "dir", level, "error", err)
				}
			}
		}
		if len(s.appended) > 0 {
			owner, err := s.ownedEntries()
			if err != nil {
				return errors.Join(append(lockedErrs, err)...)
			}
			_, backup, err := s.in.registry.RemoveLinesFor(owner)
			if err != nil {
				lockedErrs = append(lockedErrs, err)
			} else {
				backup.Discard()
			}
		}
		return errors.Join(lockedErrs...)
	})
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ownedEntries returns the registry entries this session wrote that no
// installed package has recorded since.
func (s *Session) ownedEntries() (registry.Owner, error) {
	installed, err := s.in.manifests.List()
	if err != nil {
		return registry.Owner{}, err
	}
	shared := make(map[string]bool)
	for _, m := range installed {
		for _, l := range m.RegistryLines {
			shared[strings.TrimSpace(l)] = true
		}
	}
	owner := registry.Owner{Name: s.Name()}
	for _, l := range s.appended {
		if !shared[strings.TrimSpace(l)] {
			owner.Entries = append(owner.Entries, l)
		}
	}
	return owner, nil
}
