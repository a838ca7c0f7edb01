// SPDX-License-Identifier: MPL-2.0

package namespace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sitepkg/sitepkg/pkg/manifest"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

const (
	// Untracked means the directory was never registered as a namespace.
	// The tracker never proposes such a directory for deletion.
	Untracked Decision = iota
	// Keep means other packages still contribute to the directory.
	Keep
	// Delete means the last contributor left; the directory may be removed.
	Delete
)

const schema = `
CREATE TABLE IF NOT EXISTS namespace_contributors (
	directory TEXT NOT NULL,
	package   TEXT NOT NULL,
	PRIMARY KEY (directory, package)
);
CREATE INDEX IF NOT EXISTS idx_namespace_contributors_package
	ON namespace_contributors(package);
`

// ErrRelativeDirectory is returned when a namespace directory is not absolute.
var ErrRelativeDirectory = errors.New("namespace directory must be absolute")

type (
	// Decision is the tracker's answer for a directory after a package leaves.
	Decision int

	// Entry is one namespace directory and the packages contributing to it.
	Entry struct {
		Directory    string   `json:"directory"`
		Contributors []string `json:"contributors"`
	}

	// Tracker is a SQLite-backed NamespaceEntry table.
	Tracker struct {
		db   *sql.DB
		path string
	}
)

// String returns a lower-case label for the decision.
func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Delete:
		return "delete"
	default:
		return "untracked"
	}
}

// Open opens (creating if needed) the tracker database at path.
func Open(ctx context.Context, path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create namespace state directory: %w", err)
	}

	dsn := "file:" + filepath.ToSlash(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(DELETE)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open namespace table %s: %w", path, err)
	}
	// One writer; SQLite serializes anyway and a single conn keeps pragmas sticky.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create namespace schema: %w", err)
	}
	return &Tracker{db: db, path: path}, nil
}

// Path returns the database file path.
func (t *Tracker) Path() string { return t.path }

// Close releases the database handle.
func (t *Tracker) Close() error { return t.db.Close() }

// Register records pkg as a contributor to dir. Registering twice is a no-op.
func (t *Tracker) Register(ctx context.Context, dir string, pkg manifest.PackageName) error {
	key, err := directoryKey(dir)
	if err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO namespace_contributors (directory, package) VALUES (?, ?)`,
		key, pkg.Normalize())
	if err != nil {
		return fmt.Errorf("register namespace %s for %s: %w", key, pkg, err)
	}
	return nil
}

// Unregister removes pkg from dir's contributors and reports whether the
// directory may now be deleted.
func (t *Tracker) Unregister(ctx context.Context, dir string, pkg manifest.PackageName) (Decision, error) {
	key, err := directoryKey(dir)
	if err != nil {
		return Untracked, err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return Untracked, fmt.Errorf("begin namespace transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := countContributors(ctx, tx, key)
	if err != nil {
		return Untracked, err
	}
	if before == 0 {
		return Untracked, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM namespace_contributors WHERE directory = ? AND package = ?`,
		key, pkg.Normalize()); err != nil {
		return Untracked, fmt.Errorf("unregister namespace %s for %s: %w", key, pkg, err)
	}

	after, err := countContributors(ctx, tx, key)
	if err != nil {
		return Untracked, err
	}
	if err := tx.Commit(); err != nil {
		return Untracked, fmt.Errorf("commit namespace transaction: %w", err)
	}

	if after == 0 {
		return Delete, nil
	}
	return Keep, nil
}

// Contributors returns the normalized names contributing to dir, sorted.
func (t *Tracker) Contributors(ctx context.Context, dir string) ([]string, error) {
	key, err := directoryKey(dir)
	if err != nil {
		return nil, err
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT package FROM namespace_contributors WHERE directory = ? ORDER BY package`, key)
	if err != nil {
		return nil, fmt.Errorf("query namespace contributors: %w", err)
	}
	defer rows.Close()

	var pkgs []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan namespace contributor: %w", err)
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, rows.Err()
}

// Preview answers what Unregister would return for dir if every package in
// leaving were removed, without mutating the table.
func (t *Tracker) Preview(ctx context.Context, dir string, leaving ...manifest.PackageName) (Decision, error) {
	contributors, err := t.Contributors(ctx, dir)
	if err != nil {
		return Untracked, err
	}
	if len(contributors) == 0 {
		return Untracked, nil
	}

	gone := make([]string, 0, len(leaving))
	for _, name := range leaving {
		gone = append(gone, name.Normalize())
	}
	remaining := slices.DeleteFunc(contributors, func(p string) bool {
		return slices.Contains(gone, p)
	})
	if len(remaining) == 0 {
		return Delete, nil
	}
	return Keep, nil
}

// Entries returns every tracked directory with its contributors, sorted by
// directory.
func (t *Tracker) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT directory, package FROM namespace_contributors ORDER BY directory, package`)
	if err != nil {
		return nil, fmt.Errorf("query namespace entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var dir, pkg string
		if err := rows.Scan(&dir, &pkg); err != nil {
			return nil, fmt.Errorf("scan namespace entry: %w", err)
		}
		if n := len(entries); n > 0 && entries[n-1].Directory == dir {
			entries[n-1].Contributors = append(entries[n-1].Contributors, pkg)
			continue
		}
		entries = append(entries, Entry{Directory: dir, Contributors: []string{pkg}})
	}
	return entries, rows.Err()
}

// DirectoriesFor returns the directories pkg contributes to, sorted.
func (t *Tracker) DirectoriesFor(ctx context.Context, pkg manifest.PackageName) ([]string, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT directory FROM namespace_contributors WHERE package = ? ORDER BY directory`,
		pkg.Normalize())
	if err != nil {
		return nil, fmt.Errorf("query namespaces for %s: %w", pkg, err)
	}
	defer rows.Close()

	var dirs []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan namespace directory: %w", err)
		}
		dirs = append(dirs, d)
	}
	return dirs, rows.Err()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countContributors(ctx context.Context, q querier, key string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM namespace_contributors WHERE directory = ?`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count namespace contributors: %w", err)
	}
	return n, nil
}

func directoryKey(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" || !filepath.IsAbs(dir) {
		return "", fmt.Errorf("%w: %q", ErrRelativeDirectory, dir)
	}
	return filepath.Clean(dir), nil
}
