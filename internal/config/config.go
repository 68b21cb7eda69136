package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"kode/internal/debug"
)

const (
	KeyDebug               = "debug"
	KeyAutoUpdaterDisabled = "auto-updater-disabled"

	KeyLockMode             = "update.lock-mode"
	KeyLastCheckAt          = "update.last-check-at"
	KeyLastSuggestedVersion = "update.last-suggested-version"

	KeyDynamicConfigURL = "dynamic-config.url"
	KeyRegistryURL      = "registry.url"
	KeyTelemetryEnabled = "telemetry.enabled"
)

const (
	// DefaultRegistryURL is the npm registry queried for release metadata.
	DefaultRegistryURL = "https://registry.npmjs.org"
	// DefaultDynamicConfigURL serves remote records such as the minimum supported version.
	DefaultDynamicConfigURL = "https://config.kode.sh/v1"

	envPrefix = "KODE"
	dirName   = ".kode"
)

type initSettings struct {
	workingDir        string
	projectConfigPath string
	userConfigPath    string
}

// Option configures Initialize behaviour. Useful for tests to override paths.
type Option func(*initSettings)

// WithWorkingDir overrides the directory used for project config discovery.
func WithWorkingDir(dir string) Option {
	return func(cfg *initSettings) {
		cfg.workingDir = dir
	}
}

// WithProjectConfig explicitly sets the project config path instead of discovery.
func WithProjectConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.projectConfigPath = path
	}
}

// WithUserConfig overrides the default user config path.
func WithUserConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.userConfigPath = path
	}
}

var (
	configOnce sync.Once
	configMu   sync.RWMutex
	configInst *viper.Viper
	initErr    error

	// userConfigPath is the file SaveUpdateState writes to; set by configure.
	userConfigPath string
)

// Initialize loads configuration using the precedence:
// defaults < user config < project config < environment variables < overrides.
func Initialize(opts ...Option) error {
	configOnce.Do(func() {
		settings := initSettings{}
		for _, opt := range opts {
			opt(&settings)
		}
		initErr = configure(&settings)
	})
	return initErr
}

// ApplyOverrides injects values typically coming from CLI flags.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	for k, v := range overrides {
		configInst.Set(k, v)
	}
	return nil
}

// GetString fetches a string configuration value, initializing on demand.
func GetString(key string) string {
	v, err := getViper()
	if err != nil {
		return ""
	}
	configMu.RLock()
	defer configMu.RUnlock()
	return v.GetString(key)
}

// GetBool fetches a bool configuration value, initializing on demand.
func GetBool(key string) bool {
	v, err := getViper()
	if err != nil {
		return false
	}
	configMu.RLock()
	defer configMu.RUnlock()
	return v.GetBool(key)
}

// GetInt64 fetches an integer configuration value, initializing on demand.
func GetInt64(key string) int64 {
	v, err := getViper()
	if err != nil {
		return 0
	}
	configMu.RLock()
	defer configMu.RUnlock()
	return v.GetInt64(key)
}

func configure(settings *initSettings) error {
	workingDir := strings.TrimSpace(settings.workingDir)
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		workingDir = wd
	}

	userPath := strings.TrimSpace(settings.userConfigPath)
	if userPath == "" {
		path, err := defaultUserConfigPath()
		if err != nil {
			return err
		}
		userPath = path
	}

	projectConfigPath := strings.TrimSpace(settings.projectConfigPath)
	if projectConfigPath == "" {
		path, err := findProjectConfig(workingDir, userPath)
		if err != nil {
			return err
		}
		projectConfigPath = path
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, userPath); err != nil {
		return fmt.Errorf("load user config: %w", err)
	}
	if err := mergeConfigFile(v, projectConfigPath); err != nil {
		return fmt.Errorf("load project config: %w", err)
	}

	configMu.Lock()
	defer configMu.Unlock()
	configInst = v
	userConfigPath = userPath
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: Config loader intentionally reads user and project config files
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	dir, err := debug.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// findProjectConfig walks up from startDir looking for .kode/config.yaml.
// The user config file is skipped so it is never merged twice.
func findProjectConfig(startDir, userPath string) (string, error) {
	if strings.TrimSpace(startDir) == "" {
		return "", nil
	}
	dir := startDir
	for {
		candidate := filepath.Join(dir, dirName, "config.yaml")
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config path %s is a directory", candidate)
			}
			if candidate != userPath {
				return candidate, nil
			}
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyAutoUpdaterDisabled, false)
	v.SetDefault(KeyLockMode, "marker")
	v.SetDefault(KeyLastCheckAt, 0)
	v.SetDefault(KeyLastSuggestedVersion, "")
	v.SetDefault(KeyDynamicConfigURL, DefaultDynamicConfigURL)
	v.SetDefault(KeyRegistryURL, DefaultRegistryURL)
	v.SetDefault(KeyTelemetryEnabled, true)
}

func getViper() (*viper.Viper, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	configMu.RLock()
	defer configMu.RUnlock()
	if configInst == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return configInst, nil
}

// reset clears package state for tests.
func reset() {
	configMu.Lock()
	defer configMu.Unlock()
	configInst = nil
	initErr = nil
	configOnce = sync.Once{}
	userConfigPath = ""
}

// ResetForTesting clears package state for tests in other packages.
// The user config is redirected into a temp dir. Returns a cleanup function
// that should be deferred.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	_ = Initialize(WithWorkingDir(tmp), WithUserConfig(filepath.Join(tmp, dirName, "config.yaml")))
	return reset
}

// UpdateState is the persisted outcome of the last update check.
type UpdateState struct {
	LastCheckAt          time.Time
	LastSuggestedVersion string
}

// LoadUpdateState reads the update-check state from the loaded configuration.
func LoadUpdateState() (UpdateState, error) {
	if _, err := getViper(); err != nil {
		return UpdateState{}, err
	}
	var state UpdateState
	if ms := GetInt64(KeyLastCheckAt); ms > 0 {
		state.LastCheckAt = time.UnixMilli(ms)
	}
	state.LastSuggestedVersion = GetString(KeyLastSuggestedVersion)
	return state, nil
}

// SaveUpdateState persists the update-check state to the user config file
// (~/.kode/config.yaml) and mirrors it into the running configuration.
// Other keys already present in the file are preserved.
func SaveUpdateState(state UpdateState) error {
	if err := Initialize(); err != nil {
		return err
	}

	configMu.RLock()
	targetPath := userConfigPath
	configMu.RUnlock()
	if targetPath == "" {
		path, err := defaultUserConfigPath()
		if err != nil {
			return fmt.Errorf("find config path: %w", err)
		}
		targetPath = path
	}

	var checkedAt int64
	if !state.LastCheckAt.IsZero() {
		checkedAt = state.LastCheckAt.UnixMilli()
	}

	// Fresh viper instance for this file only
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(targetPath)
	_ = v.ReadInConfig() // ignore error if file doesn't exist

	v.Set(KeyLastCheckAt, checkedAt)
	if state.LastSuggestedVersion != "" {
		v.Set(KeyLastSuggestedVersion, state.LastSuggestedVersion)
	}

	dir := filepath.Dir(targetPath)
	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(targetPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	configMu.Lock()
	defer configMu.Unlock()
	if configInst != nil {
		configInst.Set(KeyLastCheckAt, checkedAt)
		if state.LastSuggestedVersion != "" {
			configInst.Set(KeyLastSuggestedVersion, state.LastSuggestedVersion)
		}
	}
	return nil
}
