// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sitepkg/sitepkg/internal/reqfile"
	"github.com/sitepkg/sitepkg/internal/uninstall"
	"github.com/sitepkg/sitepkg/pkg/manifest"
	"github.com/sitepkg/sitepkg/pkg/types"
)

// errUninstallCanceled is returned when the user declines the confirmation.
var errUninstallCanceled = errors.New("uninstall canceled")

type uninstallOptions struct {
	requirements []string
	yes          bool
	dryRun       bool
	json         bool
}

func newUninstallCommand(app *App) *cobra.Command {
	opts := &uninstallOptions{}

	cmd := &cobra.Command{
		Use:   "uninstall [package...]",
		Short: "Remove installed packages",
		Long: `Remove everything the named packages installed.

All packages named on the command line and in requirements files are removed
in one transaction: shared namespace directories are kept while any remaining
package still contributes to them, other packages' registry lines are left
untouched, and the source tree of an editable install is never deleted.

If any step fails, completed steps are rolled back.

Exit codes: 0 success, 1 failure, 2 partial removal, 3 not installed, 4 lock timeout.`,
		Example: `  sitepkg uninstall initools
  sitepkg uninstall -y -r requirements.txt
  sitepkg uninstall --dry-run --json pd.find`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUninstall(cmd, app, args, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.requirements, "requirement", "r", nil, "uninstall all packages named in the given requirements file (repeatable)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "don't ask for confirmation")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the plan without removing anything")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the plan or result as JSON")

	return cmd
}

func runUninstall(cmd *cobra.Command, app *App, args []string, opts *uninstallOptions) error {
	ctx := cmd.Context()

	names, err := uninstallTargets(args, opts.requirements)
	if err != nil {
		return app.fail(cmd, err)
	}
	if len(names) == 0 {
		return fmt.Errorf("you must give at least one package name or requirements file (see 'sitepkg uninstall --help')")
	}

	envr, err := app.openEnvironment(ctx)
	if err != nil {
		return app.fail(cmd, err)
	}
	defer envr.Close()

	plan, err := planUninstall(ctx, envr, names)
	if err != nil {
		return app.fail(cmd, err)
	}

	for _, name := range plan.NotInstalled {
		fmt.Fprintf(app.stderr, "%s package %s is not installed, skipping\n", WarningStyle.Render("!"), NameStyle.Render(string(name)))
	}
	if plan.Empty() {
		return app.fail(cmd, plan.NotInstalledErr())
	}

	if opts.dryRun {
		if opts.json {
			return writeJSON(app.stdout, plan)
		}
		printPlan(app.stdout, plan)
		return notInstalledExit(plan)
	}

	if !opts.json {
		printPlan(app.stdout, plan)
	}
	if !opts.yes {
		ok, confirmErr := app.Confirm("Proceed with uninstall?", fmt.Sprintf("%d path(s) will be removed", len(plan.Paths())))
		if confirmErr != nil {
			return app.fail(cmd, confirmErr)
		}
		if !ok {
			fmt.Fprintln(app.stdout, SubtitleStyle.Render("Nothing was removed."))
			return app.fail(cmd, errUninstallCanceled)
		}
	}

	result, execErr := envr.executor().Execute(ctx, plan)
	if result != nil {
		if opts.json {
			if err := writeJSON(app.stdout, result); err != nil {
				return err
			}
		} else {
			printResult(app.stdout, plan, result)
		}
	}
	if execErr != nil {
		return app.fail(cmd, execErr)
	}
	return notInstalledExit(plan)
}

// uninstallTargets merges positional names with the names read from
// requirements files, keeping first occurrences.
func uninstallTargets(args, requirements []string) ([]manifest.PackageName, error) {
	var names []manifest.PackageName
	seen := map[string]bool{}
	add := func(n manifest.PackageName) {
		if !seen[n.Normalize()] {
			seen[n.Normalize()] = true
			names = append(names, n)
		}
	}

	for _, arg := range args {
		name := manifest.PackageName(arg)
		if err := name.Validate(); err != nil {
			return nil, err
		}
		add(name)
	}
	for _, path := range requirements {
		parsed, err := reqfile.ParseFile(path)
		if err != nil {
			return nil, err
		}
		for _, n := range parsed {
			add(n)
		}
	}
	return names, nil
}

func planUninstall(ctx context.Context, envr *environment, names []manifest.PackageName) (*uninstall.Plan, error) {
	planner, err := envr.planner()
	if err != nil {
		return nil, err
	}
	return planner.PlanAll(ctx, names)
}

// notInstalledExit reports exit code 3 after an otherwise successful run that
// skipped packages without a manifest.
func notInstalledExit(plan *uninstall.Plan) error {
	if len(plan.NotInstalled) == 0 {
		return nil
	}
	return &ExitError{Code: types.ExitNotInstalled}
}

func printPlan(w io.Writer, plan *uninstall.Plan) {
	for _, t := range plan.Targets {
		fmt.Fprintf(w, "%s %s\n", TitleStyle.Render("Uninstalling"), NameStyle.Render(targetLabel(t)))
	}
	fmt.Fprintln(w, SubtitleStyle.Render("  Would remove:"))
	for _, p := range plan.Paths() {
		fmt.Fprintf(w, "    %s\n", PathStyle.Render(p))
	}
	for _, s := range plan.Steps {
		if s.Kind == uninstall.StepRegistryLine {
			fmt.Fprintf(w, "  %s %s\n", SubtitleStyle.Render("Would edit:"), PathStyle.Render(s.Path))
			for _, line := range s.Lines {
				fmt.Fprintf(w, "    - %s\n", line)
			}
		}
	}
	if len(plan.Protected) > 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("  Would not remove:"))
		for _, p := range plan.Protected {
			fmt.Fprintf(w, "    %s %s\n", WarningStyle.Render(p.Path), SubtitleStyle.Render("("+string(p.Reason)+")"))
		}
	}
}

func printResult(w io.Writer, plan *uninstall.Plan, result *uninstall.ExecutionResult) {
	switch result.Status {
	case uninstall.StatusSuccess:
		for _, t := range plan.Targets {
			fmt.Fprintf(w, "%s Successfully uninstalled %s\n", SuccessStyle.Render("✓"), NameStyle.Render(targetLabel(t)))
		}
		if len(result.Missing) > 0 {
			fmt.Fprintf(w, "%s %d recorded path(s) were already gone\n", SubtitleStyle.Render("•"), len(result.Missing))
		}
	case uninstall.StatusRolledBack:
		fmt.Fprintf(w, "%s Uninstall failed; all changes were rolled back\n", ErrorStyle.Render("✗"))
	case uninstall.StatusPartial:
		fmt.Fprintf(w, "%s Uninstall partially applied\n", ErrorStyle.Render("✗"))
		for _, o := range result.Steps {
			if o.State == uninstall.StepApplied || o.State == uninstall.StepFailed {
				fmt.Fprintf(w, "    %-8s %s %s\n", o.State, o.Step.Kind, o.Step.Path)
			}
		}
		if result.StashDir != "" {
			fmt.Fprintf(w, "  Moved entries are kept in %s\n", PathStyle.Render(result.StashDir))
		}
	}
}

func targetLabel(t uninstall.Target) string {
	label := string(t.Name)
	if t.Version != "" {
		label += "-" + t.Version
	}
	if t.Editable {
		label += " (editable)"
	}
	return label
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

