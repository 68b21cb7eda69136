package update

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"kode/internal/debug"
)

// InstallStatus classifies the outcome of a global reinstall.
type InstallStatus string

const (
	StatusSuccess       InstallStatus = "success"
	StatusNoPermissions InstallStatus = "no_permissions"
	StatusInstallFailed InstallStatus = "install_failed"
	StatusInProgress    InstallStatus = "in_progress"
)

// InstallStage names the steps reported to a Reporter.
type InstallStage string

const (
	StageLocking     InstallStage = "locking"
	StageDetecting   InstallStage = "detecting"
	StagePermissions InstallStage = "checking-permissions"
	StageInstalling  InstallStage = "installing"
	StageDone        InstallStage = "done"
)

// Reporter receives progress callbacks during Install. StageInstalling is
// reported before the package manager's output starts streaming.
type Reporter interface {
	Stage(stage InstallStage, detail string)
}

type nopReporter struct{}

func (nopReporter) Stage(InstallStage, string) {}

// Installer reinstalls the package globally with the detected package manager
// while holding the update lock.
type Installer struct {
	pkg            string
	currentVersion string
	lock           Locker
	detector       *Detector
	runner         CommandRunner
	events         EventRecorder
	reporter       Reporter
	stdout         io.Writer
	stderr         io.Writer

	mu        sync.Mutex
	lastCheck PermissionCheck
}

// InstallerOption configures an Installer.
type InstallerOption func(*Installer)

// WithInstallRunner sets the runner used for probes and the install command.
func WithInstallRunner(r CommandRunner) InstallerOption {
	return func(in *Installer) {
		in.runner = r
	}
}

// WithEvents sets the event recorder.
func WithEvents(e EventRecorder) InstallerOption {
	return func(in *Installer) {
		if e != nil {
			in.events = e
		}
	}
}

// WithReporter sets the progress reporter.
func WithReporter(r Reporter) InstallerOption {
	return func(in *Installer) {
		if r != nil {
			in.reporter = r
		}
	}
}

// WithOutput redirects the streamed install output.
func WithOutput(stdout, stderr io.Writer) InstallerOption {
	return func(in *Installer) {
		in.stdout = stdout
		in.stderr = stderr
	}
}

// NewInstaller creates an Installer for pkg guarded by lock.
func NewInstaller(pkg, currentVersion string, lock Locker, opts ...InstallerOption) *Installer {
	in := &Installer{
		pkg:            pkg,
		currentVersion: currentVersion,
		lock:           lock,
		runner:         ExecRunner{},
		events:         nopRecorder{},
		reporter:       nopReporter{},
		stdout:         os.Stdout,
		stderr:         os.Stderr,
	}
	for _, opt := range opts {
		opt(in)
	}
	in.detector = NewDetector(in.runner)
	return in
}

// Install performs the global reinstall. It never returns an error; every
// failure is folded into the returned status and logged.
func (in *Installer) Install(ctx context.Context) InstallStatus {
	in.reporter.Stage(StageLocking, "")

	status := StatusInstallFailed
	acquired, _ := WithLock(in.lock, func() error {
		status = in.install(ctx)
		return nil
	})
	if !acquired {
		debug.Errorf("another process is currently installing an update")
		in.events.Record(EventLockContention, map[string]string{
			"pid":            strconv.Itoa(os.Getpid()),
			"currentVersion": in.currentVersion,
		})
		status = StatusInProgress
	}

	in.reporter.Stage(StageDone, string(status))
	return status
}

// PermissionCheck returns the npm permission probe from the most recent
// Install, if one ran.
func (in *Installer) PermissionCheck() PermissionCheck {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastCheck
}

func (in *Installer) install(ctx context.Context) (status InstallStatus) {
	defer func() {
		if r := recover(); r != nil {
			debug.Errorf("install panicked: %v", r)
			status = StatusInstallFailed
		}
	}()

	in.reporter.Stage(StageDetecting, "")
	manager := in.detector.Detect(ctx)

	if manager == NPM {
		in.reporter.Stage(StagePermissions, "")
		check := CheckNpmPermissions(ctx, in.runner)
		in.mu.Lock()
		in.lastCheck = check
		in.mu.Unlock()
		if !check.HasPermissions {
			in.recordResult(manager, StatusNoPermissions)
			return StatusNoPermissions
		}
	}

	args := manager.InstallArgs(in.pkg)
	cmdline := manager.String() + " " + strings.Join(args, " ")
	in.reporter.Stage(StageInstalling, cmdline)
	_, _ = fmt.Fprintf(in.stdout, "> %s\n", cmdline)

	code, err := in.runner.Stream(ctx, in.stdout, in.stderr, manager.String(), args...)
	switch {
	case err != nil:
		debug.Errorf("failed to install new version via %s: %v", manager, err)
		status = StatusInstallFailed
	case code != 0:
		debug.Errorf("failed to install new version via %s (exit %d)", manager, code)
		status = StatusInstallFailed
	default:
		status = StatusSuccess
	}
	in.recordResult(manager, status)
	return status
}

func (in *Installer) recordResult(manager PackageManager, status InstallStatus) {
	in.events.Record(EventInstallResult, map[string]string{
		"manager":        manager.String(),
		"status":         string(status),
		"currentVersion": in.currentVersion,
	})
}
