// SPDX-License-Identifier: MPL-2.0

// Package registry edits the shared path-registration file (easy-install.pth)
// that several packages append entries to.
//
// A line belongs to the packages whose install manifest recorded it, compared
// after trimming surrounding whitespace. Blank lines and comments never
// belong to anyone and are never removed.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sitepkg/sitepkg/pkg/manifest"
)

const (
	// DefaultFileName is the registry file name inside the site directory.
	DefaultFileName = "easy-install.pth"

	lf   = "\n"
	crlf = "\r\n"
)

type (
	// Editor reads and rewrites one registry file.
	Editor struct {
		path string
	}

	// Owner is a package together with the registry entries its manifest
	// recorded.
	Owner struct {
		Name    manifest.PackageName
		Entries []string
	}

	// Backup is the pre-rewrite copy of the registry kept until the surrounding
	// transaction commits. The zero Backup is a no-op.
	Backup struct {
		target string
		copy   string
	}

	// line is one physical line and its own terminator ("", "\n" or "\r\n").
	line struct {
		text string
		eol  string
	}
)

// NewEditor returns an editor for the registry file at path.
func NewEditor(path string) *Editor {
	return &Editor{path: path}
}

// Path returns the registry file path.
func (e *Editor) Path() string { return e.path }

// isEntry reports whether a registry line can belong to a package at all.
func isEntry(text string) bool {
	t := strings.TrimSpace(text)
	return t != "" && !strings.HasPrefix(t, "#")
}

// entrySet returns the trimmed entries, skipping blanks and comments.
func entrySet(entries []string) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		if isEntry(e) {
			set[strings.TrimSpace(e)] = true
		}
	}
	return set
}

// Lines returns the registry entries as text, without terminators. An absent
// file has no lines.
func (e *Editor) Lines() ([]string, error) {
	data, err := e.read()
	if err != nil || data == nil {
		return nil, err
	}
	parsed := split(data)
	out := make([]string, 0, len(parsed))
	for _, l := range parsed {
		out = append(out, l.text)
	}
	return out, nil
}

// Matching returns the registry lines RemoveLines would delete for entries,
// in file order.
func (e *Editor) Matching(entries ...string) ([]string, error) {
	lines, err := e.Lines()
	if err != nil {
		return nil, err
	}
	set := entrySet(entries)
	var out []string
	for _, l := range lines {
		if set[strings.TrimSpace(l)] {
			out = append(out, l)
		}
	}
	return out, nil
}

// AppendLines appends entries on behalf of owner, keeping existing content and
// its line-ending convention, and returns the entries it wrote. Entries
// already present are not written twice. The file is created if absent.
func (e *Editor) AppendLines(owner manifest.PackageName, entries ...string) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	data, err := e.read()
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool)
	for _, l := range split(data) {
		present[strings.TrimSpace(l.text)] = true
	}

	eol := convention(data)
	var buf bytes.Buffer
	buf.Write(data)
	if len(data) > 0 && !bytes.HasSuffix(data, []byte(lf)) {
		buf.WriteString(eol)
	}
	var added []string
	for _, entry := range entries {
		entry = strings.TrimRight(entry, "\r\n")
		key := strings.TrimSpace(entry)
		if isEntry(key) && present[key] {
			slog.Debug("registry entry already present", "entry", entry, "owner", owner)
			continue
		}
		present[key] = true
		buf.WriteString(entry)
		buf.WriteString(eol)
		added = append(added, entry)
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := writeAtomic(e.path, buf.Bytes(), fileMode(e.path)); err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveLinesFor deletes the entries the owners recorded. See RemoveLines.
func (e *Editor) RemoveLinesFor(owners ...Owner) ([]string, *Backup, error) {
	var entries []string
	for _, o := range owners {
		slog.Debug("removing registry entries", "owner", o.Name, "entries", len(o.Entries))
		entries = append(entries, o.Entries...)
	}
	return e.RemoveLines(entries...)
}

// RemoveLines deletes every line equal to one of entries and returns the
// removed lines with a Backup of the original file. All other bytes are kept
// as they were, in order. An absent file is a no-op.
func (e *Editor) RemoveLines(entries ...string) ([]string, *Backup, error) {
	set := entrySet(entries)
	if len(set) == 0 {
		return nil, &Backup{}, nil
	}
	data, err := e.read()
	if err != nil {
		return nil, &Backup{}, err
	}
	if data == nil {
		return nil, &Backup{}, nil
	}

	lines := split(data)
	kept := make([]line, 0, len(lines))
	var removed []string
	for _, l := range lines {
		if set[strings.TrimSpace(l.text)] {
			removed = append(removed, l.text)
			continue
		}
		kept = append(kept, l)
	}
	if len(removed) == 0 {
		return nil, &Backup{}, nil
	}

	// A missing final terminator stays missing.
	if n := len(kept); n > 0 && lines[len(lines)-1].eol == "" {
		kept[n-1].eol = ""
	}

	backup, err := e.backup(data)
	if err != nil {
		return nil, &Backup{}, err
	}
	var buf bytes.Buffer
	for _, l := range kept {
		buf.WriteString(l.text)
		buf.WriteString(l.eol)
	}
	if err := writeAtomic(e.path, buf.Bytes(), fileMode(e.path)); err != nil {
		backup.Discard()
		return nil, &Backup{}, err
	}
	return removed, backup, nil
}

// Restore puts the original registry file back.
func (b *Backup) Restore() error {
	if b == nil || b.copy == "" {
		return nil
	}
	if err := os.Rename(b.copy, b.target); err != nil {
		return fmt.Errorf("restore registry %s: %w", b.target, err)
	}
	b.copy = ""
	return nil
}

// Discard drops the backup once the rewrite is final.
func (b *Backup) Discard() {
	if b == nil || b.copy == "" {
		return
	}
	if err := os.Remove(b.copy); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("registry backup cleanup failed", "path", b.copy, "error", err)
	}
	b.copy = ""
}

func (e *Editor) read() ([]byte, error) {
	data, err := os.ReadFile(e.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", e.path, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (e *Editor) backup(data []byte) (*Backup, error) {
	f, err := os.CreateTemp(filepath.Dir(e.path), "."+filepath.Base(e.path)+".bak-*")
	if err != nil {
		return nil, fmt.Errorf("create registry backup: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return nil, fmt.Errorf("write registry backup: %w", err)
	}
	if err := f.Chmod(fileMode(e.path)); err != nil {
		slog.Debug("registry backup chmod failed", "path", name, "error", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return nil, fmt.Errorf("close registry backup: %w", err)
	}
	return &Backup{target: e.path, copy: name}, nil
}

func split(data []byte) []line {
	var out []line
	s := string(data)
	for s != "" {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			out = append(out, line{text: s})
			break
		}
		text, eol := s[:i], lf
		if strings.HasSuffix(text, "\r") {
			text, eol = text[:len(text)-1], crlf
		}
		out = append(out, line{text: text, eol: eol})
		s = s[i+1:]
	}
	return out
}

func convention(data []byte) string {
	if bytes.Contains(data, []byte(crlf)) {
		return crlf
	}
	return lf
}

func fileMode(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod registry temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync registry temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close registry temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace registry %s: %w", path, err)
	}
	return nil
}
