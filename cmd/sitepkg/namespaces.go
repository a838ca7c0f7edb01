// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type namespaceView struct {
	Directory    string   `json:"directory"`
	Contributors []string `json:"contributors"`
}

func newNamespacesCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "namespaces",
		Short: "List shared namespace directories and their contributors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envr, err := app.openEnvironment(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			defer envr.Close()

			entries, err := envr.namespaces.Entries(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}

			views := make([]namespaceView, 0, len(entries))
			for _, e := range entries {
				views = append(views, namespaceView{Directory: e.Directory, Contributors: e.Contributors})
			}
			if asJSON {
				return writeJSON(app.stdout, views)
			}

			if len(views) == 0 {
				fmt.Fprintln(app.stdout, SubtitleStyle.Render("No namespace directories tracked."))
				return nil
			}
			for _, v := range views {
				fmt.Fprintf(app.stdout, "%s %s\n", PathStyle.Render(v.Directory), SubtitleStyle.Render("["+strings.Join(v.Contributors, ", ")+"]"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the table as JSON")
	return cmd
}
