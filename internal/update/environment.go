package update

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kode/internal/debug"
)

const (
	// TestModeEnv is set to "test" by test harnesses to silence the notifier.
	TestModeEnv = "KODE_ENV"
	// ConnectivityTimeout bounds the online probe.
	ConnectivityTimeout = 1500 * time.Millisecond
)

// Environment answers the preconditions the notifier checks before doing any work.
type Environment interface {
	TestMode() bool
	InContainer() bool
	Online(ctx context.Context) bool
}

// SystemEnvironment inspects the real process environment.
type SystemEnvironment struct {
	// ProbeURL is requested with HEAD to decide whether the network is reachable.
	ProbeURL string
	Client   *http.Client
	// Root is prepended to container marker paths. Empty means "/".
	Root string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// NewSystemEnvironment probes connectivity against probeURL.
func NewSystemEnvironment(probeURL string) *SystemEnvironment {
	return &SystemEnvironment{
		ProbeURL: probeURL,
		Client:   &http.Client{},
		Getenv:   os.Getenv,
	}
}

// TestMode implements Environment.
func (e *SystemEnvironment) TestMode() bool {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	return getenv(TestModeEnv) == "test"
}

// InContainer implements Environment.
func (e *SystemEnvironment) InContainer() bool {
	root := e.Root
	if root == "" {
		root = "/"
	}
	for _, marker := range []string{".dockerenv", filepath.Join("run", ".containerenv")} {
		if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
			return true
		}
	}
	//nolint:gosec // G304: Fixed procfs path under the configured root
	data, err := os.ReadFile(filepath.Join(root, "proc", "1", "cgroup"))
	if err != nil {
		return false
	}
	content := string(data)
	return strings.Contains(content, "docker") || strings.Contains(content, "kubepods")
}

// Online implements Environment. Any HTTP response counts as connectivity.
func (e *SystemEnvironment) Online(ctx context.Context) bool {
	if e.ProbeURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, ConnectivityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, e.ProbeURL, nil)
	if err != nil {
		debug.Logf("connectivity probe: %v", err)
		return false
	}
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		debug.Logf("connectivity probe: %v", err)
		return false
	}
	_ = resp.Body.Close()
	return true
}
