// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sitepkg/sitepkg/internal/config"
	"github.com/sitepkg/sitepkg/internal/testutil"
	"github.com/sitepkg/sitepkg/internal/uninstall"
	"github.com/sitepkg/sitepkg/pkg/types"
)

type staticConfig struct {
	cfg *config.Config
	err error
}

func (s staticConfig) LoadWithSource(_ context.Context, opts config.LoadOptions) (*config.Config, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	cfg := *s.cfg
	if opts.EnvRoot != "" {
		cfg.EnvRoot = opts.EnvRoot
	}
	return &cfg, "", nil
}

type cliEnv struct {
	root      string
	confirmed bool
	asked     int
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	return &cliEnv{root: filepath.Join(t.TempDir(), "venv"), confirmed: true}
}

func (c *cliEnv) site(parts ...string) string {
	return filepath.Join(append([]string{c.root, "site-packages"}, parts...)...)
}

// run executes the command tree with captured output.
func (c *cliEnv) run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.EnvRoot = c.root
	cfg.LockTimeout = "2s"

	var out, errOut bytes.Buffer
	app := NewApp(Dependencies{
		Config: staticConfig{cfg: cfg},
		Confirm: func(title, description string) (bool, error) {
			c.asked++
			return c.confirmed, nil
		},
		Stdout: &out,
		Stderr: &errOut,
	})

	root := NewRootCommand(app)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (c *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := c.run(t, args...)
	if err != nil {
		t.Fatalf("sitepkg %s: %v\nstdout:\n%s\nstderr:\n%s", strings.Join(args, " "), err, out, errOut)
	}
	return out
}

func wantExit(t *testing.T, err error, code types.ExitCode) {
	t.Helper()
	if got := exitCode(err); got != int(code) {
		t.Fatalf("exit code = %d (%v), want %d", got, err, code)
	}
}

//nolint:paralleltest // command runs replace the default slog logger
func TestCLI_RecordListShowUninstall(t *testing.T) {
	c := newCLIEnv(t)

	src := filepath.Join(t.TempDir(), "__init__.py")
	testutil.MustWriteFile(t, src, "VERSION = '0.2'\n")

	c.mustRun(t, "record", "INITools", "0.2",
		"--dir", "initools",
		"--file", "initools/__init__.py="+src,
		"--script", "initools-cli",
		"--pth-line", "./INITools-0.2-py3.12.egg")

	if got := string(testutil.MustReadFile(t, c.site("initools", "__init__.py"))); got != "VERSION = '0.2'\n" {
		t.Errorf("installed content = %q", got)
	}

	out := c.mustRun(t, "list")
	if !strings.Contains(out, "INITools") || !strings.Contains(out, "0.2") {
		t.Errorf("list output = %q", out)
	}

	out = c.mustRun(t, "show", "--json", "initools")
	var detail packageDetail
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("show --json: %v\n%s", err, out)
	}
	if detail.Version != "0.2" || len(detail.Files) != 3 || len(detail.RegistryLines) != 1 {
		t.Errorf("show detail = %+v", detail)
	}

	out = c.mustRun(t, "uninstall", "-y", "initools")
	if !strings.Contains(out, "Successfully uninstalled") {
		t.Errorf("uninstall output = %q", out)
	}
	if c.asked != 0 {
		t.Errorf("confirmation asked %d times with -y", c.asked)
	}
	testutil.AssertNotExists(t, c.site("initools"))
	testutil.AssertNotExists(t, filepath.Join(c.root, "bin", "initools-cli"))
	if reg := string(testutil.MustReadFile(t, c.site("easy-install.pth"))); strings.Contains(reg, "INITools") {
		t.Errorf("registry still references package: %q", reg)
	}

	out = c.mustRun(t, "list")
	if !strings.Contains(out, "No packages recorded") {
		t.Errorf("list after uninstall = %q", out)
	}
}

//nolint:paralleltest // command runs replace the default slog logger
func TestCLI_UninstallNotInstalled(t *testing.T) {
	c := newCLIEnv(t)

	_, stderr, err := c.run(t, "uninstall", "-y", "missing")
	wantExit(t, err, types.ExitNotInstalled)
	if !errors.Is(err, uninstall.ErrNotInstalled) {
		t.Errorf("error = %v, want ErrNotInstalled", err)
	}
	if !strings.Contains(stderr, "not installed") {
		t.Errorf("stderr = %q", stderr)
	}

	// One known and one unknown package: the known one is removed, exit code 3.
	c.mustRun(t, "record", "known", "1.0", "--file", "known.py")
	_, _, err = c.run(t, "uninstall", "-y", "known", "missing")
	wantExit(t, err, types.ExitNotInstalled)
	testutil.AssertNotExists(t, c.site("known.py"))
}

//nolint:paralleltest // command runs replace the default slog logger
func TestCLI_UninstallConfirmation(t *testing.T) {
	c := newCLIEnv(t)
	c.mustRun(t, "record", "pkg", "1.0", "--file", "pkg.py")

	c.confirmed = false
	out, _, err := c.run(t, "uninstall", "pkg")
	wantExit(t, err, types.ExitFailure)
	if c.asked != 1 {
		t.Errorf("confirmation asked %d times, want 1", c.asked)
	}
	if !strings.Contains(out, "Nothing was removed") {
		t.Errorf("stdout = %q", out)
	}
	testutil.AssertExists(t, c.site("pkg.py"))

	c.confirmed = true
	c.mustRun(t, "uninstall", "pkg")
	testutil.AssertNotExists(t, c.site("pkg.py"))
}

//nolint:paralleltest // command runs replace the default slog logger
func TestCLI_UninstallDryRunJSON(t *testing.T) {
	c := newCLIEnv(t)
	c.mustRun(t, "record", "pd.find", "1.0", "--namespace", "pd", "--file", "pd/find/__init__.py")
	c.mustRun(t, "record", "pd.other", "1.0", "--namespace", "pd", "--file", "pd/other/__init__.py")

	out := c.mustRun(t, "uninstall", "--dry-run", "--json", "pd.find")
	var plan uninstall.Plan
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("dry-run --json: %v\n%s", err, out)
	}
	paths := plan.Paths()
	if !containsPath(paths, c.site("pd", "find")) || containsPath(paths, c.site("pd")) {
		t.Errorf("plan paths = %v", paths)
	}
	testutil.AssertExists(t, c.site("pd", "find", "__init__.py"))

	out = c.mustRun(t, "namespaces")
	if !strings.Contains(out, "pd-find") || !strings.Contains(out, "pd-other") {
		t.Errorf("namespaces output = %q", out)
	}

	out = c.mustRun(t, "uninstall", "-y", "--json", "pd.find")
	var result uninstall.ExecutionResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("uninstall --json: %v\n%s", err, out)
	}
	if result.Status != uninstall.StatusSuccess {
		t.Errorf("status = %s", result.Status)
	}
	testutil.AssertNotExists(t, c.site("pd", "find"))
	testutil.AssertExists(t, c.site("pd", "other", "__init__.py"))
}

//nolint:paralleltest // command runs replace the default slog logger
func TestCLI_UninstallRequirementsFile(t *testing.T) {
	c := newCLIEnv(t)
	c.mustRun(t, "record", "initools", "0.2", "--file", "initools.py")
	c.mustRun(t, "record", "PyLogo", "0.3", "--file", "pylogo.py")
	c.mustRun(t, "record", "keep", "1.0", "--file", "keep.py")

	req := filepath.Join(t.TempDir(), "requirements.txt")
	testutil.MustWriteFile(t, req, strings.Join([]string{
		"-f http://www.example.com/links",
		"-i http://www.example.com/simple",
		"--extra-index-url http://www.example.com/extra",
		"# comment",
		"INITools==0.2",
		"PyLogo<0.4",
		"",
	}, "\n"))

	c.mustRun(t, "uninstall", "-y", "-r", req)
	testutil.AssertNotExists(t, c.site("initools.py"))
	testutil.AssertNotExists(t, c.site("pylogo.py"))
	testutil.AssertExists(t, c.site("keep.py"))
}

//nolint:paralleltest // command runs replace the default slog logger
func TestCLI_RecordAbortsOnFailure(t *testing.T) {
	c := newCLIEnv(t)

	_, _, err := c.run(t, "record", "broken", "1.0",
		"--file", "broken/__init__.py",
		"--file", "broken/data.txt="+filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("record with a missing source succeeded")
	}
	testutil.AssertNotExists(t, c.site("broken"))

	out := c.mustRun(t, "list")
	if !strings.Contains(out, "No packages recorded") {
		t.Errorf("list after failed record = %q", out)
	}
}

//nolint:paralleltest // command runs replace the default slog logger
func TestCLI_EditableKeepsSource(t *testing.T) {
	c := newCLIEnv(t)
	src := filepath.Join(t.TempDir(), "initools")
	testutil.MustMkdirAll(t, src)
	testutil.MustWriteFile(t, filepath.Join(src, "setup.py"), "")

	c.mustRun(t, "record", "initools", "0.3.dev", "--editable", src)
	testutil.AssertExists(t, c.site("initools.egg-link"))

	c.mustRun(t, "uninstall", "-y", "initools")
	testutil.AssertNotExists(t, c.site("initools.egg-link"))
	testutil.AssertExists(t, filepath.Join(src, "setup.py"))
}

//nolint:paralleltest // command runs replace the default slog logger
func TestCLI_NoEnvironment(t *testing.T) {
	var errOut bytes.Buffer
	app := NewApp(Dependencies{
		Config: staticConfig{cfg: config.DefaultConfig()},
		Stdout: &bytes.Buffer{},
		Stderr: &errOut,
	})
	root := NewRootCommand(app)
	root.SetArgs([]string{"list"})
	root.SetErr(&errOut)

	err := root.ExecuteContext(context.Background())
	if !errors.Is(err, config.ErrNoEnvironment) {
		t.Fatalf("error = %v, want ErrNoEnvironment", err)
	}
	wantExit(t, err, types.ExitFailure)
}

func containsPath(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}

