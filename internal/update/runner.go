package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	kerrors "kode/internal/errors"
)

// CommandRunner executes external commands, allowing tests to inject stubs.
type CommandRunner interface {
	// Run executes bin and returns its standard output. A non-zero exit is an error.
	Run(ctx context.Context, bin string, args ...string) ([]byte, error)
	// Stream executes bin with its output connected to stdout/stderr and
	// returns the exit code. Spawn failures return an error.
	Stream(ctx context.Context, stdout, stderr io.Writer, bin string, args ...string) (int, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		cmdline := strings.TrimSpace(bin + " " + strings.Join(args, " "))
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return out, kerrors.New(commandErrorCode(err), cmdline, err)
	}
	return out, nil
}

// Stream implements CommandRunner. Stdin is inherited so package managers can prompt.
func (ExecRunner) Stream(ctx context.Context, stdout, stderr io.Writer, bin string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, kerrors.New(commandErrorCode(err), "start "+bin, err)
}

func commandErrorCode(err error) kerrors.Code {
	if errors.Is(err, exec.ErrNotFound) {
		return kerrors.CodeCommandNotFound
	}
	return kerrors.CodeCommandFailed
}

// ExitCode extracts the process exit code from an error returned by Run.
// Returns 0 for nil and -1 when the command never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
