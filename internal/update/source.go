package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kode/internal/debug"
	kerrors "kode/internal/errors"
)

const (
	// DefaultRegistryURL is the public npm registry.
	DefaultRegistryURL = "https://registry.npmjs.org"
	// DefaultTimeout bounds each version lookup stage.
	DefaultTimeout = 5 * time.Second

	registryAccept = "application/vnd.npm.install-v1+json"
)

// registryDocument is the subset of the abbreviated packument we read.
type registryDocument struct {
	DistTags map[string]any `json:"dist-tags"`
}

// VersionSource resolves the latest published version of a package, trying
// `npm view` first and the registry HTTP API second.
type VersionSource struct {
	pkg            string
	currentVersion string
	registryURL    string
	timeout        time.Duration
	runner         CommandRunner
	httpClient     *http.Client
}

// SourceOption configures a VersionSource.
type SourceOption func(*VersionSource)

// WithRegistryURL overrides the registry base URL.
func WithRegistryURL(u string) SourceOption {
	return func(s *VersionSource) {
		if u != "" {
			s.registryURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client for registry requests.
func WithHTTPClient(client *http.Client) SourceOption {
	return func(s *VersionSource) {
		s.httpClient = client
	}
}

// WithRunner sets the command runner used for `npm view`.
func WithRunner(r CommandRunner) SourceOption {
	return func(s *VersionSource) {
		s.runner = r
	}
}

// WithTimeout overrides the per-stage timeout.
func WithTimeout(timeout time.Duration) SourceOption {
	return func(s *VersionSource) {
		s.timeout = timeout
	}
}

// NewVersionSource creates a source for pkg. currentVersion is reported in the User-Agent.
func NewVersionSource(pkg, currentVersion string, opts ...SourceOption) *VersionSource {
	s := &VersionSource{
		pkg:            pkg,
		currentVersion: currentVersion,
		registryURL:    DefaultRegistryURL,
		timeout:        DefaultTimeout,
		runner:         ExecRunner{},
		httpClient:     &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LatestVersion returns the newest published version. ok is false when
// neither stage produced a non-empty version; errors are logged, not returned.
func (s *VersionSource) LatestVersion(ctx context.Context) (version string, ok bool) {
	version, stage, ok := FirstSuccess(ctx,
		Strategy[string]{Name: "npm-view", Try: s.fromNpmView},
		Strategy[string]{Name: "registry", Try: s.fromRegistry},
	)
	if ok {
		debug.Logf("version source: latest %s via %s", version, stage)
	}
	return version, ok
}

func (s *VersionSource) fromNpmView(ctx context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.runner.Run(ctx, "npm", "view", s.pkg, "version")
	if err != nil {
		debug.Logf("version source: npm view: %v", err)
		return "", false
	}
	v := strings.TrimSpace(string(out))
	return v, v != ""
}

func (s *VersionSource) fromRegistry(ctx context.Context) (string, bool) {
	v, err := s.fetchDistTag(ctx, "latest")
	if err != nil {
		debug.Logf("version source: registry: %v", err)
		return "", false
	}
	return v, true
}

// fetchDistTag reads dist-tags[tag] from the registry.
func (s *VersionSource) fetchDistTag(ctx context.Context, tag string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint := s.registryURL + "/" + url.QueryEscape(s.pkg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", registryAccept)
	req.Header.Set("User-Agent", ProductName+"/"+s.currentVersion)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", kerrors.New(kerrors.CodeNetworkFailure, "registry request", fmt.Errorf("%w: %v", ErrNetworkFailure, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotPublished
	}
	if resp.StatusCode != http.StatusOK {
		return "", kerrors.New(kerrors.CodeNetworkFailure, "registry request", fmt.Errorf("%w: status %d", ErrNetworkFailure, resp.StatusCode))
	}

	var doc registryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", kerrors.New(kerrors.CodeParseFailed, "decode registry response", err)
	}
	latest, _ := doc.DistTags[tag].(string)
	if latest == "" {
		return "", kerrors.New(kerrors.CodeParseFailed, fmt.Sprintf("dist-tags.%s missing or not a string", tag), nil)
	}
	return latest, nil
}
