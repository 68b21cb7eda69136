package update

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	name  string
	attrs map[string]string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) Record(name string, attrs map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, attrs: attrs})
}

func (r *fakeRecorder) named(name string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type stageRecorder struct {
	stages []InstallStage
}

func (s *stageRecorder) Stage(stage InstallStage, detail string) {
	s.stages = append(s.stages, stage)
}

func newInstallerFixture(t *testing.T, results map[string]stubResult) (*Installer, *stubRunner, *fakeRecorder, *bytes.Buffer, string) {
	t.Helper()
	lockPath := filepath.Join(t.TempDir(), LockFileName)
	runner := newStubRunner(results)
	events := &fakeRecorder{}
	var out bytes.Buffer
	in := NewInstaller(PackageName, "1.0.0", NewMarkerLock(lockPath),
		WithInstallRunner(runner),
		WithEvents(events),
		WithOutput(&out, &out),
	)
	return in, runner, events, &out, lockPath
}

func TestInstallNpmSuccess(t *testing.T) {
	prefix := t.TempDir()
	in, runner, events, out, lockPath := newInstallerFixture(t, map[string]stubResult{
		"npm -g root":                      {output: "/usr/lib/node_modules"},
		"npm -g config get prefix":         {output: prefix},
		"npm install -g @shareai-lab/kode": {output: "added 1 package\n"},
	})

	status := in.Install(context.Background())

	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, []string{"npm install -g @shareai-lab/kode"}, runner.streamed())
	assert.Contains(t, out.String(), "> npm install -g @shareai-lab/kode\n")
	assert.Contains(t, out.String(), "added 1 package")
	assert.NoFileExists(t, lockPath, "lock must be released after install")

	results := events.named(EventInstallResult)
	require.Len(t, results, 1)
	assert.Equal(t, "success", results[0].attrs["status"])
	assert.Equal(t, "npm", results[0].attrs["manager"])
	assert.Equal(t, prefix, in.PermissionCheck().Prefix)
}

func TestInstallNpmNoPermissionsSkipsInstall(t *testing.T) {
	unwritable := filepath.Join(t.TempDir(), "missing-prefix")
	in, runner, _, out, lockPath := newInstallerFixture(t, map[string]stubResult{
		"npm -g root":                      {output: "/usr/lib/node_modules"},
		"npm -g config get prefix":         {output: unwritable},
		"npm install -g @shareai-lab/kode": {output: "should not run"},
	})

	status := in.Install(context.Background())

	assert.Equal(t, StatusNoPermissions, status)
	assert.Empty(t, runner.streamed(), "install command must not run without permissions")
	assert.NotContains(t, out.String(), "should not run")
	assert.NoFileExists(t, lockPath)
	assert.False(t, in.PermissionCheck().HasPermissions)
	assert.Equal(t, unwritable, in.PermissionCheck().Prefix)
}

func TestInstallBun(t *testing.T) {
	in, runner, _, out, _ := newInstallerFixture(t, map[string]stubResult{
		"npm -g root":                         {err: errors.New("exit status 127")},
		"bun --version":                       {output: "1.1.20"},
		"bun add -g @shareai-lab/kode@latest": {},
	})

	status := in.Install(context.Background())

	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, []string{"bun add -g @shareai-lab/kode@latest"}, runner.streamed())
	assert.False(t, runner.ran("npm -g config get prefix"), "bun path must not probe npm permissions")
	assert.Contains(t, out.String(), "> bun add -g @shareai-lab/kode@latest")
}

func TestInstallFailures(t *testing.T) {
	prefix := t.TempDir()
	tests := []struct {
		name   string
		result stubResult
	}{
		{"non-zero exit", stubResult{code: 1}},
		{"spawn failure", stubResult{code: -1, err: errors.New("exec: npm: not found")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _, _, _, lockPath := newInstallerFixture(t, map[string]stubResult{
				"npm -g root":                      {output: "/usr/lib/node_modules"},
				"npm -g config get prefix":         {output: prefix},
				"npm install -g @shareai-lab/kode": tt.result,
			})
			assert.Equal(t, StatusInstallFailed, in.Install(context.Background()))
			assert.NoFileExists(t, lockPath)
		})
	}
}

func TestInstallLockContention(t *testing.T) {
	in, runner, events, _, lockPath := newInstallerFixture(t, map[string]stubResult{
		"npm -g root": {output: "/usr/lib/node_modules"},
	})
	require.NoError(t, os.WriteFile(lockPath, []byte("999999"), 0o600))
	now := time.Now()
	require.NoError(t, os.Chtimes(lockPath, now, now))

	status := in.Install(context.Background())

	assert.Equal(t, StatusInProgress, status)
	assert.Empty(t, runner.calls, "no commands should run while another process holds the lock")
	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, "999999", string(data), "foreign lock must be left untouched")

	contention := events.named(EventLockContention)
	require.Len(t, contention, 1)
	assert.Equal(t, strconv.Itoa(os.Getpid()), contention[0].attrs["pid"])
	assert.Equal(t, "1.0.0", contention[0].attrs["currentVersion"])
}

func TestInstallRecoversFromPanics(t *testing.T) {
	in, _, _, _, lockPath := newInstallerFixture(t, map[string]stubResult{
		"npm -g root":              {output: "/usr/lib/node_modules"},
		"npm -g config get prefix": {panics: true},
	})

	assert.Equal(t, StatusInstallFailed, in.Install(context.Background()))
	assert.NoFileExists(t, lockPath)
}

func TestInstallReportsStages(t *testing.T) {
	prefix := t.TempDir()
	stages := &stageRecorder{}
	runner := newStubRunner(map[string]stubResult{
		"npm -g root":                      {output: "/usr/lib/node_modules"},
		"npm -g config get prefix":         {output: prefix},
		"npm install -g @shareai-lab/kode": {},
	})
	var out bytes.Buffer
	in := NewInstaller(PackageName, "1.0.0", NewMarkerLock(filepath.Join(t.TempDir(), LockFileName)),
		WithInstallRunner(runner), WithReporter(stages), WithOutput(&out, &out))

	in.Install(context.Background())

	assert.Equal(t, []InstallStage{StageLocking, StageDetecting, StagePermissions, StageInstalling, StageDone}, stages.stages)
}
