package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"kode/internal/config"
	"kode/internal/debug"
	"kode/internal/update"
)

// installer is the part of *update.Installer the update command drives.
type installer interface {
	Install(ctx context.Context) update.InstallStatus
	PermissionCheck() update.PermissionCheck
}

// stoppableReporter is an update.Reporter that owns terminal state.
type stoppableReporter interface {
	update.Reporter
	Stop()
}

type updateParams struct {
	check          bool
	currentVersion string
	stdout         io.Writer
	stderr         io.Writer
	source         update.VersionResolver
	newInstaller   func(reporter update.Reporter) (installer, error)
	reporter       update.Reporter
}

func (c *cli) newUpdateCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:     "update",
		Aliases: []string{"upgrade"},
		Short:   "Update kode to the latest published version",
		Long: `Reinstalls kode globally with the package manager that owns it (npm or bun).

  kode update           # install the latest release
  kode update --check   # only report whether a newer release exists`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var reporter update.Reporter = lineReporter{w: c.stderr}
			if !check && c.isTerminal(c.stderr) {
				display := newProgressDisplay(c.stderr)
				defer display.Stop()
				reporter = display
			}
			return runUpdate(cmd.Context(), updateParams{
				check:          check,
				currentVersion: Version,
				stdout:         c.stdout,
				stderr:         c.stderr,
				source:         newVersionSource(config.GetString(config.KeyRegistryURL)),
				newInstaller:   c.newInstaller,
				reporter:       reporter,
			})
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Only check for updates, don't install")
	return cmd
}

func (c *cli) newInstaller(reporter update.Reporter) (installer, error) {
	lock, err := update.NewLocker(config.GetString(config.KeyLockMode))
	if err != nil {
		return nil, err
	}
	return update.NewInstaller(update.PackageName, Version, lock,
		update.WithEvents(c.recorder()),
		update.WithReporter(reporter),
		update.WithOutput(c.stdout, c.stderr),
	), nil
}

func runUpdate(ctx context.Context, p updateParams) error {
	if p.check {
		return checkForUpdate(ctx, p)
	}

	in, err := p.newInstaller(p.reporter)
	if err != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("prepare update: %w", err)}
	}

	status := in.Install(ctx)
	if s, ok := p.reporter.(stoppableReporter); ok {
		s.Stop()
	}
	debug.Logf("update: install finished with status %s", status)

	switch status {
	case update.StatusSuccess:
		_, _ = fmt.Fprintf(p.stdout, "Successfully updated %s. Restart it to use the new version.\n", update.ProductName)
		return nil
	case update.StatusInProgress:
		_, _ = fmt.Fprintln(p.stdout, "Another process is already installing an update.")
		return nil
	case update.StatusNoPermissions:
		printPermissionHelp(p.stderr, in.PermissionCheck().Prefix)
		return &ExitError{Code: 1}
	default:
		_, _ = fmt.Fprintf(p.stderr, "Update failed. Try running one of:\n%s\n",
			indentCommands(update.Suggestions(update.PackageName), "    "))
		return &ExitError{Code: 1}
	}
}

func checkForUpdate(ctx context.Context, p updateParams) error {
	_, _ = fmt.Fprintln(p.stderr, "Checking for updates...")
	latest, ok := p.source.LatestVersion(ctx)
	if !ok {
		return &ExitError{Code: 1, Err: errors.New("unable to determine the latest version")}
	}

	newer, err := update.IsNewer(p.currentVersion, latest)
	if err != nil {
		debug.Logf("update --check: compare %q and %q: %v", p.currentVersion, latest, err)
		if !update.IsDevBuild(p.currentVersion) {
			return &ExitError{Code: 1, Err: fmt.Errorf("compare %s with latest %s: %w", p.currentVersion, latest, err)}
		}
		newer = true
	}
	if newer {
		_, _ = fmt.Fprintf(p.stdout, "Update available: %s -> %s\n", p.currentVersion, latest)
		return nil
	}
	_, _ = fmt.Fprintf(p.stdout, "You are on the latest version (%s)\n", p.currentVersion)
	return nil
}

func printPermissionHelp(w io.Writer, prefix string) {
	_, _ = fmt.Fprintf(w, `Insufficient permissions to install the update globally.

Either grant yourself write access to the npm prefix:
    %s

or move npm's global prefix to a directory you own:
    %s setup-prefix
`, update.PermissionsCommand(prefix), update.ProductName)
}
