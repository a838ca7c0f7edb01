// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sitepkg/sitepkg/internal/install"
	"github.com/sitepkg/sitepkg/pkg/manifest"
)

type recordOptions struct {
	files      []string
	dirs       []string
	symlinks   []string
	scripts    []string
	namespaces []string
	pthLines   []string
	editable   string
	platform   string
}

func newRecordCommand(app *App) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record <package> <version>",
		Short: "Install resolved content and record it in a manifest",
		Long: `Write the given entries into the environment and record them in the
package's install manifest.

Paths are relative to the site directory unless absolute. Values of the form
DEST=SRC copy SRC into DEST; a bare DEST creates an empty file. If any entry
fails, everything written so far is removed again and no manifest is kept.`,
		Example: `  sitepkg record initools 0.2 --dir initools --file initools/__init__.py=./build/__init__.py
  sitepkg record pd.find 1.0 --namespace pd --file pd/find/__init__.py
  sitepkg record initools 0.3 --editable /src/initools
  sitepkg record tool 1.0 --script tool=./tool.py --pth-line ./tool-1.0.egg`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, app, manifest.PackageName(args[0]), args[1], opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.files, "file", nil, "write a file: DEST[=SRC] (repeatable)")
	cmd.Flags().StringArrayVar(&opts.dirs, "dir", nil, "create an owned directory (repeatable)")
	cmd.Flags().StringArrayVar(&opts.symlinks, "symlink", nil, "create a symlink: DEST=TARGET (repeatable)")
	cmd.Flags().StringArrayVar(&opts.scripts, "script", nil, "write a console script: NAME[=SRC] (repeatable)")
	cmd.Flags().StringArrayVar(&opts.namespaces, "namespace", nil, "register a namespace directory (repeatable)")
	cmd.Flags().StringArrayVar(&opts.pthLines, "pth-line", nil, "append a line to the shared registry file (repeatable)")
	cmd.Flags().StringVar(&opts.editable, "editable", "", "record an editable install of the given source directory")
	cmd.Flags().StringVar(&opts.platform, "platform", "", "script layout to write (linux, darwin, windows)")
	_ = cmd.Flags().MarkHidden("platform")

	return cmd
}

func runRecord(cmd *cobra.Command, app *App, name manifest.PackageName, version string, opts *recordOptions) error {
	ctx := cmd.Context()
	if err := name.Validate(); err != nil {
		return app.fail(cmd, err)
	}

	envr, err := app.openEnvironment(ctx)
	if err != nil {
		return app.fail(cmd, err)
	}
	defer envr.Close()

	var installerOpts []install.Option
	if opts.platform != "" {
		installerOpts = append(installerOpts, install.WithPlatform(opts.platform))
	}
	session, err := envr.installer(installerOpts...).Begin(name, version)
	if err != nil {
		return app.fail(cmd, err)
	}

	if err := populate(ctx, session, opts); err != nil {
		if abortErr := session.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			err = fmt.Errorf("%w (abort: %w)", err, abortErr)
		}
		return app.fail(cmd, err)
	}

	m, err := session.Commit()
	if err != nil {
		_ = session.Abort(context.WithoutCancel(ctx))
		return app.fail(cmd, err)
	}

	fmt.Fprintf(app.stdout, "%s Recorded %s %s (%d path(s))\n",
		SuccessStyle.Render("✓"), NameStyle.Render(string(m.Name)), m.Version, len(m.Records))
	return nil
}

// populate applies the entries in an order where namespace levels exist
// before the files placed inside them.
func populate(ctx context.Context, s *install.Session, opts *recordOptions) error {
	for _, ns := range opts.namespaces {
		if err := s.AddNamespace(ctx, ns); err != nil {
			return err
		}
	}
	for _, dir := range opts.dirs {
		if err := s.Mkdir(dir); err != nil {
			return err
		}
	}
	for _, spec := range opts.files {
		dest, src, _ := strings.Cut(spec, "=")
		data, err := readSource(src)
		if err != nil {
			return err
		}
		if err := s.WriteFile(dest, data, 0o644); err != nil {
			return err
		}
	}
	for _, spec := range opts.symlinks {
		dest, target, ok := strings.Cut(spec, "=")
		if !ok || target == "" {
			return fmt.Errorf("invalid --symlink %q: want DEST=TARGET", spec)
		}
		if err := s.Symlink(target, dest); err != nil {
			return err
		}
	}
	for _, spec := range opts.scripts {
		scriptName, src, _ := strings.Cut(spec, "=")
		body, err := readSource(src)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			body = []byte("#!/bin/sh\nexec python -m " + scriptName + " \"$@\"\n")
		}
		if _, err := s.AddScript(scriptName, body); err != nil {
			return err
		}
	}
	if err := s.AddRegistryLines(ctx, opts.pthLines...); err != nil {
		return err
	}
	if opts.editable != "" {
		src, err := filepath.Abs(opts.editable)
		if err != nil {
			return err
		}
		if err := s.LinkEditable(ctx, src); err != nil {
			return err
		}
	}
	return nil
}

func readSource(src string) ([]byte, error) {
	if src == "" {
		return nil, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return data, nil
}
