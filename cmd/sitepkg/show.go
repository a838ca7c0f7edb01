// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sitepkg/sitepkg/internal/uninstall"
	"github.com/sitepkg/sitepkg/pkg/manifest"
)

type (
	recordView struct {
		Path string `json:"path"`
		Kind string `json:"kind"`
		Hash string `json:"hash,omitempty"`
	}

	packageDetail struct {
		packageSummary
		Files         []recordView `json:"files"`
		RegistryLines []string     `json:"registry_lines,omitempty"`
		Namespaces    []string     `json:"namespaces,omitempty"`
	}
)

func newShowCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <package>",
		Short: "Show what a package installed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := manifest.PackageName(args[0])
			if err := name.Validate(); err != nil {
				return app.fail(cmd, err)
			}

			envr, err := app.openEnvironment(ctx)
			if err != nil {
				return app.fail(cmd, err)
			}
			defer envr.Close()

			m, err := envr.manifests.Load(name)
			if errors.Is(err, manifest.ErrManifestNotFound) {
				return app.fail(cmd, &uninstall.NotInstalledError{Name: name})
			}
			if err != nil {
				return app.fail(cmd, err)
			}
			namespaces, err := envr.namespaces.DirectoriesFor(ctx, m.Name)
			if err != nil {
				return app.fail(cmd, err)
			}

			detail := packageDetail{
				packageSummary: summarize(m),
				Files:          make([]recordView, 0, len(m.Records)),
				RegistryLines:  m.RegistryLines,
				Namespaces:     namespaces,
			}
			for _, r := range m.Records {
				detail.Files = append(detail.Files, recordView{Path: r.Path, Kind: r.Kind.String(), Hash: r.Hash})
			}

			if asJSON {
				return writeJSON(app.stdout, detail)
			}

			w := app.stdout
			fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("Name:"), NameStyle.Render(detail.Name))
			fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("Version:"), detail.Version)
			fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("Installed:"), detail.InstalledAt.Format("2006-01-02 15:04:05"))
			if detail.Editable {
				fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("Editable source:"), PathStyle.Render(detail.EditableSource))
			}
			fmt.Fprintln(w, SubtitleStyle.Render("Files:"))
			for _, f := range detail.Files {
				fmt.Fprintf(w, "  %-9s %s\n", f.Kind, f.Path)
			}
			if len(detail.RegistryLines) > 0 {
				fmt.Fprintln(w, SubtitleStyle.Render("Registry lines:"))
				for _, l := range detail.RegistryLines {
					fmt.Fprintf(w, "  %s\n", l)
				}
			}
			if len(detail.Namespaces) > 0 {
				fmt.Fprintln(w, SubtitleStyle.Render("Namespaces:"))
				for _, d := range detail.Namespaces {
					fmt.Fprintf(w, "  %s\n", d)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the manifest as JSON")
	return cmd
}
