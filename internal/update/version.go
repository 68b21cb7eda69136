package update

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	kerrors "kode/internal/errors"
)

// ParseVersion parses a semantic version string.
// Accepts versions with or without 'v' prefix (e.g., "1.2.3" or "v1.2.3").
func ParseVersion(s string) (*semver.Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return nil, kerrors.New(kerrors.CodeVersionParse, "empty version string", ErrInvalidVersion)
	}
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, kerrors.New(kerrors.CodeVersionParse, fmt.Sprintf("%q", s), fmt.Errorf("%w: %v", ErrInvalidVersion, err))
	}
	return v, nil
}

// CompareVersions compares two version strings using semver precedence.
// Returns -1 if a < b, 0 if equal, 1 if a > b.
func CompareVersions(a, b string) (int, error) {
	av, err := ParseVersion(a)
	if err != nil {
		return 0, fmt.Errorf("parsing version %q: %w", a, err)
	}
	bv, err := ParseVersion(b)
	if err != nil {
		return 0, fmt.Errorf("parsing version %q: %w", b, err)
	}
	return av.Compare(bv), nil
}

// IsNewer reports whether candidate is strictly greater than current.
func IsNewer(current, candidate string) (bool, error) {
	cmp, err := CompareVersions(current, candidate)
	if err != nil {
		return false, err
	}
	return cmp < 0, nil
}

// IsDevBuild reports whether v denotes an unversioned local build.
func IsDevBuild(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "dev", "development":
		return true
	}
	return false
}
