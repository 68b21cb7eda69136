package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kode/internal/config"
	"kode/internal/telemetry"
	"kode/internal/update"
)

func newTestCLI(t *testing.T) (*cli, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	t.Setenv("KODE_HOME", t.TempDir())
	t.Setenv("KODE_ENV", "test")
	cleanup := config.ResetForTesting(t)
	t.Cleanup(cleanup)

	var stdout, stderr bytes.Buffer
	c := newCLI(&stdout, &stderr)
	c.isTerminal = func(io.Writer) bool { return false }
	c.assertMinVersion = func(context.Context) error { return nil }
	c.startNotifier = func(context.Context) <-chan struct{} {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c, &stdout, &stderr
}

func TestRunMinVersionViolationExitsOne(t *testing.T) {
	c, _, stderr := newTestCLI(t)
	c.assertMinVersion = func(context.Context) error {
		return &update.MinVersionError{
			Current:     "1.2.0",
			Required:    "1.3.0",
			Suggestions: update.Suggestions(update.PackageName),
		}
	}
	c.startNotifier = func(context.Context) <-chan struct{} {
		t.Fatal("notifier should not start when the version gate fails")
		return nil
	}

	if code := c.run(context.Background(), nil); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	out := stderr.String()
	if !strings.Contains(out, "Version 1.3.0 or later is required") {
		t.Fatalf("expected min version message, got:\n%s", out)
	}
	if !strings.Contains(out, "npm install -g @shareai-lab/kode@latest") {
		t.Fatalf("expected npm suggestion, got:\n%s", out)
	}
}

func TestRunGateErrorDoesNotBlock(t *testing.T) {
	c, _, _ := newTestCLI(t)
	c.assertMinVersion = func(context.Context) error { return errors.New("boom") }

	if code := c.run(context.Background(), nil); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunMaintenanceCommandsSkipGateAndNotifier(t *testing.T) {
	c, stdout, _ := newTestCLI(t)
	c.assertMinVersion = func(context.Context) error {
		t.Fatal("version gate should not run for maintenance commands")
		return nil
	}
	c.startNotifier = func(context.Context) <-chan struct{} {
		t.Fatal("notifier should not run for maintenance commands")
		return nil
	}

	if code := c.run(context.Background(), []string{"version"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "kode version ") {
		t.Fatalf("unexpected version output: %q", stdout.String())
	}
}

func TestRunStartsNotifier(t *testing.T) {
	c, _, _ := newTestCLI(t)
	var started int
	c.startNotifier = func(context.Context) <-chan struct{} {
		started++
		done := make(chan struct{})
		close(done)
		return done
	}

	if code := c.run(context.Background(), nil); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if started != 1 {
		t.Fatalf("expected notifier to start once, got %d", started)
	}
}

func TestRunNoUpdateCheckFlag(t *testing.T) {
	c, _, _ := newTestCLI(t)
	c.startNotifier = func(context.Context) <-chan struct{} {
		t.Fatal("notifier should not start with --no-update-check")
		return nil
	}

	if code := c.run(context.Background(), []string{"--no-update-check"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	c, _, stderr := newTestCLI(t)

	if code := c.run(context.Background(), []string{"bogus"}); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown command") {
		t.Fatalf("expected unknown command error, got %q", stderr.String())
	}
}

func TestRunEventsEmpty(t *testing.T) {
	c, stdout, _ := newTestCLI(t)

	if code := c.run(context.Background(), []string{"events"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), "No events recorded.") {
		t.Fatalf("expected empty event log, got %q", stdout.String())
	}
}

func TestRunEventsListsRecordedEvents(t *testing.T) {
	c, stdout, _ := newTestCLI(t)

	path, err := telemetry.DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	store, err := telemetry.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Log(context.Background(), update.EventLockContention, map[string]string{"pid": "42"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if code := c.run(context.Background(), []string{"events", "--limit", "5"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	out := stdout.String()
	if !strings.Contains(out, update.EventLockContention) || !strings.Contains(out, "pid=42") {
		t.Fatalf("expected recorded event in output, got %q", out)
	}
}

// slowSource answers after delay, like a sluggish npm view.
type slowSource struct {
	delay   time.Duration
	version string
	calls   atomic.Int32
}

func (s *slowSource) LatestVersion(ctx context.Context) (string, bool) {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
		return s.version, true
	case <-ctx.Done():
		return "", false
	}
}

type onlineEnv struct{}

func (onlineEnv) TestMode() bool              { return false }
func (onlineEnv) InContainer() bool           { return false }
func (onlineEnv) Online(context.Context) bool { return true }

func TestRunWaitsForSlowUpdateCheck(t *testing.T) {
	c, _, _ := newTestCLI(t)
	src := &slowSource{delay: 2500 * time.Millisecond, version: "9.0.0"}
	var hint bytes.Buffer
	c.startNotifier = func(ctx context.Context) <-chan struct{} {
		return runNotifier(ctx, update.NewNotifier(update.NotifierOptions{
			CurrentVersion: "1.0.0",
			Package:        update.PackageName,
			Store:          configStateStore{},
			Source:         src,
			Env:            onlineEnv{},
			Out:            &hint,
		}))
	}

	if code := c.run(context.Background(), nil); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(hint.String(), "New version available: 9.0.0") {
		t.Fatalf("expected update hint, got %q", hint.String())
	}
	state, err := configStateStore{}.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.LastCheckAt.IsZero() || state.LastSuggestedVersion != "9.0.0" {
		t.Fatalf("expected saved check state, got %+v", state)
	}

	if code := c.run(context.Background(), nil); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected the second run to be throttled, got %d lookups", got)
	}
}

func TestNotifierBudgetCoversLookups(t *testing.T) {
	if floor := update.ConnectivityTimeout + 2*update.DefaultTimeout; notifierBudget < floor {
		t.Fatalf("notifierBudget = %v, want at least %v", notifierBudget, floor)
	}
	if notifierWait <= notifierBudget {
		t.Fatalf("notifierWait = %v must exceed notifierBudget = %v", notifierWait, notifierBudget)
	}
}

func TestRunOpensEventLogOnlyWhenUsed(t *testing.T) {
	c, _, _ := newTestCLI(t)
	dbPath := filepath.Join(os.Getenv("KODE_HOME"), telemetry.DBFileName)

	for _, args := range [][]string{{"version"}, nil} {
		if code := c.run(context.Background(), args); code != 0 {
			t.Fatalf("run(%v): expected exit code 0, got %d", args, code)
		}
	}
	if _, err := os.Stat(dbPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no event log after commands that record nothing, stat err = %v", err)
	}

	if code := c.run(context.Background(), []string{"events"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected events command to open the log: %v", err)
	}
}
