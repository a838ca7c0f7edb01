// SPDX-License-Identifier: MPL-2.0

package reqfile

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/sitepkg/sitepkg/pkg/manifest"
)

func TestParse_IgnoresIndexOptions(t *testing.T) {
	t.Parallel()

	input := `# -f, -i, and --extra-index-url should all be ignored by uninstall
-f http://www.example.com
-i http://www.example.com
--extra-index-url http://www.example.com
--find-links=http://www.example.com/links
--no-index

-e svn+http://svn.example.com/INITools/trunk#egg=initools-dev
# and something else to test out:
PyLogo<0.4
`
	got, err := Parse(strings.NewReader(input), t.TempDir())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	want := []manifest.PackageName{"initools", "PyLogo"}
	if !slices.Equal(got, want) {
		t.Errorf("Parse() = %v, want %v", got, want)
	}
}

func TestParse_RequirementNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want manifest.PackageName
	}{
		{"simple", "simple"},
		{"a[extra]==1", "a"},
		{"zope.interface >= 3.5", "zope.interface"},
		{`b ; python_version < "3"`, "b"},
		{"c~=1.0  # pinned", "c"},
		{"-e git+https://example.com/repo.git#egg=My_Pkg-1.0", "My_Pkg"},
		{"-e hg+http://example.com/repo#egg=foo-bar-dev&subdirectory=x", "foo-bar"},
		{"--editable=./src/localpkg", "localpkg"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(strings.NewReader(tt.line), t.TempDir())
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.line, err)
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("Parse(%q) = %v, want [%s]", tt.line, got, tt.want)
			}
		})
	}
}

func TestParse_SkipsUnsupportedOptions(t *testing.T) {
	t.Parallel()

	input := `--only-binary :all:
--use-feature=fast-deps
--hash sha256:abc
-x
first
--no-binary=first
second
`
	got, err := Parse(strings.NewReader(input), t.TempDir())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	want := []manifest.PackageName{"first", "second"}
	if !slices.Equal(got, want) {
		t.Errorf("Parse() = %v, want %v", got, want)
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []string{
		"-e svn+http://example.com/no-egg-fragment",
		">=1.0",
	}
	for _, line := range tests {
		_, err := Parse(strings.NewReader(line), t.TempDir())
		var le *LineError
		if !errors.As(err, &le) || le.Line != 1 {
			t.Errorf("Parse(%q) error = %v, want *LineError on line 1", line, err)
		}
		if !errors.Is(err, ErrInvalidLine) {
			t.Errorf("Parse(%q) error should wrap ErrInvalidLine", line)
		}
	}
}

func TestParseFile_NestedAndDeduplicated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	write("nested/base.txt", "shared\nBase-Pkg==2\n")
	top := write("top.txt", "first\n-r nested/base.txt\nbase_pkg\nlast\n")

	got, err := ParseFile(top)
	if err != nil {
		t.Fatalf("ParseFile() error: %v", err)
	}
	want := []manifest.PackageName{"first", "shared", "Base-Pkg", "last"}
	if !slices.Equal(got, want) {
		t.Errorf("ParseFile() = %v, want %v", got, want)
	}
}

func TestParseFile_Cycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(a, []byte("-r b.txt\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("-r a.txt\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseFile(a); !errors.Is(err, ErrIncludeCycle) {
		t.Errorf("ParseFile() error = %v, want ErrIncludeCycle", err)
	}
}
