package update

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"kode/internal/debug"
	kerrors "kode/internal/errors"
)

// PrefixOptions wires SetupPrefix's collaborators.
type PrefixOptions struct {
	Lock           Locker
	Runner         CommandRunner
	Events         EventRecorder
	CurrentVersion string
	// Home is where shell rc files are looked up. Defaults to the user's home.
	Home string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// SetupPrefix points npm's global prefix at prefix and puts prefix/bin on the
// user's PATH. It runs under the update lock.
func SetupPrefix(ctx context.Context, prefix string, opts PrefixOptions) error {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Events == nil {
		opts.Events = nopRecorder{}
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if strings.TrimSpace(prefix) == "" {
		return kerrors.New(kerrors.CodeConfigurationError, "npm prefix must not be empty", nil)
	}

	acquired, err := WithLock(opts.Lock, func() error {
		return setupPrefix(ctx, prefix, opts)
	})
	if !acquired {
		opts.Events.Record(EventPrefixLockContention, map[string]string{
			"pid":            strconv.Itoa(os.Getpid()),
			"currentVersion": opts.CurrentVersion,
			"prefix":         prefix,
		})
		return kerrors.New(kerrors.CodeLockHeld, "another process is currently setting up npm prefix", ErrLockHeld)
	}
	return err
}

func setupPrefix(ctx context.Context, prefix string, opts PrefixOptions) error {
	//nolint:gosec // G301: npm prefix directories need standard permissions
	if err := os.MkdirAll(prefix, 0755); err != nil {
		return kerrors.New(kerrors.CodeNoPermissions, "create npm prefix", err)
	}

	if _, err := opts.Runner.Run(ctx, "npm", "-g", "config", "set", "prefix", prefix); err != nil {
		return kerrors.New(kerrors.CodeCommandFailed, "failed to set npm prefix", err)
	}

	if goos == "windows" {
		path := opts.Getenv("PATH") + ";" + prefix
		if _, err := opts.Runner.Run(ctx, "setx", "PATH", path); err != nil {
			return kerrors.New(kerrors.CodeCommandFailed, "failed to update PATH on Windows", err)
		}
		return nil
	}

	home := opts.Home
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("determine user home: %w", err)
		}
		home = h
	}
	for _, rc := range shellConfigFiles(home) {
		updated, err := appendPathExport(rc, prefix)
		if err != nil {
			msg := err.Error()
			if len(msg) > 200 {
				msg = msg[:200]
			}
			opts.Events.Record(EventPrefixPathFailed, map[string]string{"configPath": rc, "error": msg})
			debug.Errorf("failed to update shell config %s: %v", rc, err)
			continue
		}
		if updated {
			opts.Events.Record(EventPrefixPathUpdated, map[string]string{"configPath": rc})
		}
	}
	return nil
}

func shellConfigFiles(home string) []string {
	return []string{
		filepath.Join(home, ".bashrc"),
		filepath.Join(home, ".bash_profile"),
		filepath.Join(home, ".zshrc"),
		filepath.Join(home, ".config", "fish", "config.fish"),
	}
}

// appendPathExport adds prefix/bin to PATH in an existing rc file. Missing
// files and files that already mention prefix are left alone.
func appendPathExport(rc, prefix string) (bool, error) {
	//nolint:gosec // G304: rc paths are fixed names under the user's home
	content, err := os.ReadFile(rc)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if strings.Contains(string(content), prefix) {
		return false, nil
	}

	line := fmt.Sprintf("\n# npm global path\nexport PATH=\"%s/bin:$PATH\"\n", prefix)
	if filepath.Ext(rc) == ".fish" {
		line = fmt.Sprintf("\n# npm global path\nset -gx PATH %s/bin $PATH\n", prefix)
	}

	//nolint:gosec // G302: shell rc files keep their existing permissions
	f, err := os.OpenFile(rc, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return false, err
	}
	return true, f.Close()
}
