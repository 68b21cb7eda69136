package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kode/internal/config"
	kerrors "kode/internal/errors"
	"kode/internal/update"
)

func (c *cli) newSetupPrefixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup-prefix [path]",
		Short: "Move npm's global prefix to a directory you own",
		Long: `Points npm's global prefix at a user-owned directory (default ~/.npm-global)
and adds its bin directory to PATH in your shell configuration, so updates
no longer need elevated permissions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = strings.TrimSpace(args[0])
			}
			if prefix == "" {
				p, err := update.DefaultNpmPrefix()
				if err != nil {
					return &ExitError{Code: 1, Err: err}
				}
				prefix = p
			}

			lock, err := update.NewLocker(config.GetString(config.KeyLockMode))
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			err = update.SetupPrefix(cmd.Context(), prefix, update.PrefixOptions{
				Lock:           lock,
				Events:         c.recorder(),
				CurrentVersion: Version,
			})
			if kerrors.IsCode(err, kerrors.CodeLockHeld) {
				_, _ = fmt.Fprintln(c.stderr, "Another process is currently setting up the npm prefix. Try again shortly.")
				return &ExitError{Code: 1}
			}
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}

			_, _ = fmt.Fprintf(c.stdout, "npm global prefix set to %s\n", prefix)
			_, _ = fmt.Fprintln(c.stdout, "Open a new shell so the updated PATH takes effect.")
			return nil
		},
	}
}
