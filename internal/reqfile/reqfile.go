// SPDX-License-Identifier: MPL-2.0

// Package reqfile extracts package names from requirements files so that the
// packages they name can be uninstalled together.
//
// Only what identifies a package is interpreted: requirement specifiers,
// `-e`/`--editable` lines with an `#egg=` fragment, and nested `-r` files.
// Index and link options are ignored, and any other option is skipped with a
// warning.
package reqfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sitepkg/sitepkg/pkg/manifest"
)

var (
	// ErrInvalidLine is the sentinel wrapped by LineError.
	ErrInvalidLine = errors.New("invalid requirements line")

	// ErrIncludeCycle is returned when `-r` files include each other.
	ErrIncludeCycle = errors.New("requirements include cycle")

	leadingName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*`)

	// ignoredOptions take a value on the same or next token; none of them
	// names a package.
	ignoredOptions = []string{
		"-f", "--find-links",
		"-i", "--index-url",
		"--extra-index-url",
		"-c", "--constraint",
		"--trusted-host",
	}
	// ignoredFlags take no value.
	ignoredFlags = []string{"--no-index", "--pre", "--prefer-binary", "--require-hashes"}
)

// LineError reports an uninterpretable line. It wraps ErrInvalidLine.
type LineError struct {
	File string
	Line int
	Text string
	Msg  string
}

// Error implements the error interface for LineError.
func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %q", e.File, e.Line, e.Msg, e.Text)
}

// Unwrap returns ErrInvalidLine for errors.Is() compatibility.
func (e *LineError) Unwrap() error { return ErrInvalidLine }

// ParseFile returns the package names in the requirements file at path and
// any file it includes with `-r`, in order of first appearance and without
// duplicates.
func ParseFile(path string) ([]manifest.PackageName, error) {
	p := &parser{seen: make(map[string]struct{}), visiting: make(map[string]bool)}
	if err := p.file(path); err != nil {
		return nil, err
	}
	return p.names, nil
}

// Parse reads requirements from r. Nested `-r` paths resolve against baseDir.
func Parse(r io.Reader, baseDir string) ([]manifest.PackageName, error) {
	p := &parser{seen: make(map[string]struct{}), visiting: make(map[string]bool)}
	if err := p.read(r, "<input>", baseDir); err != nil {
		return nil, err
	}
	return p.names, nil
}

type parser struct {
	names    []manifest.PackageName
	seen     map[string]struct{}
	visiting map[string]bool
}

func (p *parser) file(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if p.visiting[abs] {
		return fmt.Errorf("%w: %s", ErrIncludeCycle, path)
	}
	p.visiting[abs] = true
	defer delete(p.visiting, abs)

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("open requirements file: %w", err)
	}
	defer f.Close()
	return p.read(f, path, filepath.Dir(abs))
}

func (p *parser) read(r io.Reader, name, baseDir string) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := stripComment(sc.Text())
		// Continuation lines.
		for strings.HasSuffix(line, `\`) && sc.Scan() {
			lineNo++
			line = strings.TrimSuffix(line, `\`) + " " + stripComment(sc.Text())
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := p.line(line, name, lineNo, baseDir); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

func (p *parser) line(line, file string, lineNo int, baseDir string) error {
	lineErr := func(msg string) error {
		return &LineError{File: file, Line: lineNo, Text: line, Msg: msg}
	}

	if !strings.HasPrefix(line, "-") {
		name := requirementName(line)
		if name == "" {
			return lineErr("no package name")
		}
		p.add(manifest.PackageName(name))
		return nil
	}

	opt, value := splitOption(line)
	switch {
	case opt == "-r" || opt == "--requirement":
		if value == "" {
			return lineErr("missing file for -r")
		}
		if !filepath.IsAbs(value) {
			value = filepath.Join(baseDir, value)
		}
		return p.file(value)

	case opt == "-e" || opt == "--editable":
		name := editableName(value)
		if name == "" {
			return lineErr("cannot determine package name of editable requirement")
		}
		p.add(manifest.PackageName(name))
		return nil

	case isOneOf(opt, ignoredOptions) || isOneOf(opt, ignoredFlags):
		return nil

	default:
		slog.Warn("ignoring unsupported requirements option", "file", file, "line", lineNo, "option", opt)
		return nil
	}
}

func (p *parser) add(name manifest.PackageName) {
	key := name.Normalize()
	if _, dup := p.seen[key]; dup {
		return
	}
	p.seen[key] = struct{}{}
	p.names = append(p.names, name)
}

// splitOption splits "-f url", "-furl", "--find-links=url" and
// "--find-links url" into option and value.
func splitOption(line string) (string, string) {
	if strings.HasPrefix(line, "--") {
		if i := strings.IndexAny(line, "= \t"); i >= 0 {
			return line[:i], strings.TrimSpace(line[i+1:])
		}
		return line, ""
	}
	if len(line) <= 2 {
		return line, ""
	}
	return line[:2], strings.TrimSpace(line[2:])
}

// requirementName returns the distribution name at the start of a requirement
// specifier such as `PyLogo<0.4`, `a[extra]==1` or `b ; python_version<"3"`.
func requirementName(spec string) string {
	return strings.TrimRight(leadingName.FindString(spec), "._-")
}

// editableName extracts the package name of an editable requirement from its
// `#egg=` fragment, dropping a trailing version such as `-dev` or `-1.0`. A
// local path without a fragment is named after its final component.
func editableName(value string) string {
	if i := strings.Index(value, "#egg="); i >= 0 {
		egg := value[i+len("#egg="):]
		if j := strings.IndexAny(egg, "&#"); j >= 0 {
			egg = egg[:j]
		}
		parts := strings.Split(egg, "-")
		kept := parts[:1]
		for _, part := range parts[1:] {
			if part == "" || part == "dev" || (part[0] >= '0' && part[0] <= '9') {
				break
			}
			kept = append(kept, part)
		}
		return requirementName(strings.Join(kept, "-"))
	}
	if strings.Contains(value, "://") || strings.Contains(value, "+") {
		return ""
	}
	return requirementName(filepath.Base(filepath.Clean(value)))
}

func stripComment(line string) string {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return ""
	}
	if i := strings.Index(line, " #"); i >= 0 {
		return line[:i]
	}
	return line
}

func isOneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
