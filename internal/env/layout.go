// SPDX-License-Identifier: MPL-2.0

// Package env resolves the on-disk layout of a managed environment.
package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"

	"github.com/sitepkg/sitepkg/internal/platform"
	"github.com/sitepkg/sitepkg/pkg/types"
)

const (
	// StateDirName holds manifests, the namespace table and lock files.
	StateDirName = ".sitepkg"
	// SiteDirName is the default managed library directory.
	SiteDirName = "site-packages"
	// SrcDirName is the default checkout directory for editable sources.
	SrcDirName = "src"
	// RegistryFileName is the default shared registration file.
	RegistryFileName = "easy-install.pth"
	// LockFileName guards every mutation of shared environment state.
	LockFileName = "env.lock"
)

// ErrRelativeRoot is returned when an environment root is not absolute.
var ErrRelativeRoot = errors.New("environment root must be an absolute path")

// Layout is the resolved set of paths of one environment. All fields are
// absolute and cleaned.
type Layout struct {
	Root         string `json:"root"`
	SiteDir      string `json:"site_dir"`
	BinDir       string `json:"bin_dir"`
	SrcDir       string `json:"src_dir"`
	StateDir     string `json:"state_dir"`
	ManifestDir  string `json:"manifest_dir"`
	NamespaceDB  string `json:"namespace_db"`
	RegistryFile string `json:"registry_file"`
	LockFile     string `json:"lock_file"`
}

// DefaultBinDirName returns the console-script directory name for the host
// platform.
func DefaultBinDirName() string {
	return platform.BinDirName(goruntime.GOOS)
}

// NewLayout derives the default layout under root.
func NewLayout(root string) (Layout, error) {
	if !filepath.IsAbs(root) {
		return Layout{}, fmt.Errorf("%w: %q", ErrRelativeRoot, root)
	}
	root = filepath.Clean(root)
	site := filepath.Join(root, SiteDirName)
	state := filepath.Join(root, StateDirName)
	return Layout{
		Root:         root,
		SiteDir:      site,
		BinDir:       filepath.Join(root, DefaultBinDirName()),
		SrcDir:       filepath.Join(root, SrcDirName),
		StateDir:     state,
		ManifestDir:  filepath.Join(state, "manifests"),
		NamespaceDB:  filepath.Join(state, "namespaces.db"),
		RegistryFile: filepath.Join(site, RegistryFileName),
		LockFile:     filepath.Join(state, LockFileName),
	}, nil
}

// WithOverrides replaces the site dir, bin dir and registry file name when the
// given values are non-empty. Relative directories resolve against Root.
func (l Layout) WithOverrides(siteDir, binDir, registryFile string) Layout {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(l.Root, p)
	}
	if siteDir != "" {
		l.SiteDir = resolve(siteDir)
		l.RegistryFile = filepath.Join(l.SiteDir, filepath.Base(l.RegistryFile))
	}
	if binDir != "" {
		l.BinDir = resolve(binDir)
	}
	if registryFile != "" {
		if filepath.IsAbs(registryFile) {
			l.RegistryFile = filepath.Clean(registryFile)
		} else {
			l.RegistryFile = filepath.Join(l.SiteDir, registryFile)
		}
	}
	return l
}

// Contains reports whether path lies inside the environment root.
func (l Layout) Contains(path string) bool {
	return types.FilesystemPath(path).IsWithin(types.FilesystemPath(l.Root))
}

// Ensure creates the directories every operation expects to exist.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.SiteDir, l.BinDir, l.ManifestDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
