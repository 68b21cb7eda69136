package update

import (
	"context"
	"fmt"

	"kode/internal/debug"
)

const (
	// VersionConfigKey is the dynamic config record holding the minimum version.
	VersionConfigKey = "version_config"
	// DefaultMinVersion is used when the record cannot be fetched.
	DefaultMinVersion = "0.0.0"
)

// VersionConfig is the remote minimum-version record.
type VersionConfig struct {
	MinVersion string `json:"minVersion"`
}

// ConfigFetcher retrieves a named dynamic config record into dst.
type ConfigFetcher interface {
	Get(ctx context.Context, key string, dst any) error
}

// MinVersionError reports that the running build is older than the minimum
// supported version.
type MinVersionError struct {
	Current     string
	Required    string
	Suggestions []string
}

// Error implements the error interface.
func (e *MinVersionError) Error() string {
	return fmt.Sprintf("version %s is below the minimum supported version %s", e.Current, e.Required)
}

// Gate compares the running version with the remotely configured minimum.
type Gate struct {
	fetcher        ConfigFetcher
	currentVersion string
	pkg            string
}

// NewGate creates a Gate for the running currentVersion of pkg.
func NewGate(fetcher ConfigFetcher, pkg, currentVersion string) *Gate {
	return &Gate{fetcher: fetcher, pkg: pkg, currentVersion: currentVersion}
}

// Check returns a *MinVersionError when the running version is strictly below
// the configured minimum. Fetch and parse failures are logged and never block.
func (g *Gate) Check(ctx context.Context) error {
	cfg := g.versionConfig(ctx)
	if cfg.MinVersion == "" {
		return nil
	}

	cmp, err := CompareVersions(g.currentVersion, cfg.MinVersion)
	if err != nil {
		debug.Errorf("error checking minimum version: %v", err)
		return nil
	}
	if cmp >= 0 {
		return nil
	}
	return &MinVersionError{
		Current:     g.currentVersion,
		Required:    cfg.MinVersion,
		Suggestions: Suggestions(g.pkg),
	}
}

func (g *Gate) versionConfig(ctx context.Context) VersionConfig {
	cfg := VersionConfig{MinVersion: DefaultMinVersion}
	if g.fetcher == nil {
		return cfg
	}
	var fetched VersionConfig
	if err := g.fetcher.Get(ctx, VersionConfigKey, &fetched); err != nil {
		debug.Logf("min version: using default, fetch failed: %v", err)
		return cfg
	}
	return fetched
}
