package update

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"kode/internal/debug"
)

// goos is a package variable so tests can exercise other platforms.
var goos = runtime.GOOS

// PermissionCheck is the outcome of probing npm's global prefix.
type PermissionCheck struct {
	HasPermissions bool
	// Prefix is npm's global prefix; empty when it could not be determined.
	Prefix string
}

// CheckNpmPermissions asks npm for its global prefix and verifies the current
// user can write into it.
func CheckNpmPermissions(ctx context.Context, runner CommandRunner) PermissionCheck {
	out, err := runner.Run(ctx, "npm", "-g", "config", "get", "prefix")
	if err != nil {
		debug.Errorf("failed to check npm permissions: %v", err)
		return PermissionCheck{}
	}
	prefix := strings.TrimSpace(string(out))
	if prefix == "" {
		debug.Errorf("npm reported an empty global prefix")
		return PermissionCheck{}
	}

	if err := checkWritePermission(prefix); err != nil {
		debug.Errorf("insufficient permissions for global npm install in %s: %v", prefix, err)
		return PermissionCheck{HasPermissions: false, Prefix: prefix}
	}
	return PermissionCheck{HasPermissions: true, Prefix: prefix}
}

// checkWritePermission verifies the current process can create files in dir.
func checkWritePermission(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".kode-update-test-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// PermissionsCommand returns a shell command that grants the current user
// write access to prefix. An empty prefix defers to npm at run time.
func PermissionsCommand(prefix string) string {
	if goos == "windows" {
		return fmt.Sprintf(`icacls "%s" /grant "%%USERNAME%%:(OI)(CI)F"`, prefix)
	}
	path := prefix
	if path == "" {
		path = "$(npm -g config get prefix)"
	}
	return fmt.Sprintf("sudo chown -R $USER:$(id -gn) %s && sudo chmod -R u+w %s", path, path)
}

// DefaultNpmPrefix returns the user-owned prefix suggested when the system
// prefix is not writable.
func DefaultNpmPrefix() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, ".npm-global"), nil
}
