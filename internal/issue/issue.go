// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type Id int

const (
	NotInstalledId Id = iota + 1
	LockTimeoutId
	PartialRemovalId
	RolledBackId
	ConfigLoadFailedId
	NoEnvironmentId
	ManifestCorruptId
	AlreadyInstalledId
	RequirementsFileInvalidId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue markdown with glamour. stylePath accepts the
// glamour style names ("auto", "dark", "light", "notty").
func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also:\n"
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "](" + string(link) + ")\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "](" + string(link) + ")\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	notInstalledIssue = &Issue{
		id: NotInstalledId,
		mdMsg: `
# Package not installed!

No install manifest exists for the requested package in this environment, so there is
nothing sitepkg can safely remove.

## Things you can try:
- List what is recorded in this environment:
~~~
$ sitepkg list
~~~

- Check you are pointing at the right environment:
~~~
$ sitepkg --env /path/to/venv list
~~~

- Names are matched case-insensitively and '-', '_' and '.' are equivalent,
  so 'PD_Find' and 'pd.find' are the same package.`,
	}

	lockTimeoutIssue = &Issue{
		id: LockTimeoutId,
		mdMsg: `
# Environment is busy!

Another sitepkg process holds the environment lock and did not release it in time.

## Things you can try:
- Wait for the other install or uninstall to finish and retry
- Raise the wait with 'lock_timeout' in your config file or SITEPKG_LOCK_TIMEOUT
- If no other process is running, check '.sitepkg/env.lock' inside the environment`,
	}

	partialRemovalIssue = &Issue{
		id: PartialRemovalId,
		mdMsg: `
# Uninstall only partially completed!

A step failed and sitepkg could not restore every path it had already moved aside.
The manifest was kept so the uninstall can be retried.

## Things you can try:
- Check the stash directory reported above; moved files are still there
- Fix the failing path (permissions, a busy file) and run the uninstall again
- Inspect what is still recorded:
~~~
$ sitepkg show <package>
~~~`,
	}

	rolledBackIssue = &Issue{
		id: RolledBackId,
		mdMsg: `
# Uninstall failed and was rolled back!

A step failed before the uninstall completed. Every change was reverted and the
environment is unchanged.

## Things you can try:
- Re-run with --verbose to see which step failed
- Fix the cause (permissions, a file held open by another process) and retry`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The sitepkg configuration file could not be loaded.

## Things you can try:
- Show where sitepkg looks for its config:
~~~
$ sitepkg config path
~~~

- Check the file for CUE syntax errors and unknown keys

- Recreate a default config:
~~~
$ sitepkg config init
~~~`,
	}

	noEnvironmentIssue = &Issue{
		id: NoEnvironmentId,
		mdMsg: `
# No environment selected!

sitepkg needs the root directory of the environment it manages.

## Things you can try:
- Pass it on the command line:
~~~
$ sitepkg --env /path/to/venv list
~~~

- Or set it once in your config file:
~~~cue
env_root: "/path/to/venv"
~~~

- Or export SITEPKG_ENV_ROOT`,
	}

	manifestCorruptIssue = &Issue{
		id: ManifestCorruptId,
		mdMsg: `
# Install manifest could not be read!

The manifest under '.sitepkg/manifests' is not valid TOML or is missing required fields.

## Things you can try:
- Open the file and check for manual edits
- Restore it from a backup of the environment
- Remove the package's files manually and delete the manifest`,
	}

	alreadyInstalledIssue = &Issue{
		id: AlreadyInstalledId,
		mdMsg: `
# Package already recorded!

A manifest for this package already exists. Record a new install only after
uninstalling the previous one.

## Things you can try:
~~~
$ sitepkg uninstall -y <package>
~~~`,
	}

	requirementsFileInvalidIssue = &Issue{
		id: RequirementsFileInvalidId,
		mdMsg: `
# Requirements file could not be parsed!

## Things you can try:
- Check the reported line; each line should name one package
- Nested files given with '-r' are resolved relative to the including file
- Options such as '-f', '-i' and '--extra-index-url' are accepted and ignored`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

sitepkg could not write inside the environment.

## Things you can try:
- Check the owner of the environment directory
- Run as the user that created the environment`,
	}

	issues = map[Id]*Issue{
		notInstalledIssue.Id():            notInstalledIssue,
		lockTimeoutIssue.Id():             lockTimeoutIssue,
		partialRemovalIssue.Id():          partialRemovalIssue,
		rolledBackIssue.Id():              rolledBackIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		noEnvironmentIssue.Id():           noEnvironmentIssue,
		manifestCorruptIssue.Id():         manifestCorruptIssue,
		alreadyInstalledIssue.Id():        alreadyInstalledIssue,
		requirementsFileInvalidIssue.Id(): requirementsFileInvalidIssue,
		permissionDeniedIssue.Id():        permissionDeniedIssue,
	}
)

// Values returns every catalogued issue ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id - b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
