// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitepkg/sitepkg/pkg/manifest"
)

// packageSummary is the JSON view of one installed package.
type packageSummary struct {
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	InstalledAt    time.Time `json:"installed_at"`
	Editable       bool      `json:"editable,omitempty"`
	EditableSource string    `json:"editable_source,omitempty"`
	Records        int       `json:"records"`
}

func summarize(m *manifest.Manifest) packageSummary {
	return packageSummary{
		Name:           string(m.Name),
		Version:        m.Version,
		InstalledAt:    m.InstalledAt,
		Editable:       m.Editable,
		EditableSource: m.EditableSource,
		Records:        len(m.Records),
	}
}

func newListCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages with an install manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envr, err := app.openEnvironment(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			defer envr.Close()

			manifests, err := envr.manifests.List()
			if err != nil {
				return app.fail(cmd, err)
			}

			if asJSON {
				out := make([]packageSummary, 0, len(manifests))
				for _, m := range manifests {
					out = append(out, summarize(m))
				}
				return writeJSON(app.stdout, out)
			}
			printPackageList(app.stdout, manifests)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the list as JSON")
	return cmd
}

func printPackageList(w io.Writer, manifests []*manifest.Manifest) {
	if len(manifests) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("No packages recorded."))
		return
	}
	for _, m := range manifests {
		line := fmt.Sprintf("%s %s", NameStyle.Render(string(m.Name)), m.Version)
		if m.Editable {
			line += " " + SubtitleStyle.Render("(editable: "+m.EditableSource+")")
		}
		fmt.Fprintln(w, line)
	}
}
