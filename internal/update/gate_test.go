package update

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type stubFetcher struct {
	payload string
	err     error
	keys    []string
}

func (s *stubFetcher) Get(ctx context.Context, key string, dst any) error {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.payload), dst)
}

func TestGateCheck(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		fetcher  *stubFetcher
		wantFail bool
	}{
		{"below minimum", "1.2.0", &stubFetcher{payload: `{"minVersion":"1.3.0"}`}, true},
		{"equal to minimum", "1.3.0", &stubFetcher{payload: `{"minVersion":"1.3.0"}`}, false},
		{"above minimum", "1.4.0", &stubFetcher{payload: `{"minVersion":"1.3.0"}`}, false},
		{"prerelease below release", "1.3.0-beta.1", &stubFetcher{payload: `{"minVersion":"1.3.0"}`}, true},
		{"fetch failure uses default", "0.0.1", &stubFetcher{err: errors.New("timeout")}, false},
		{"empty minimum never blocks", "0.0.1", &stubFetcher{payload: `{"minVersion":""}`}, false},
		{"missing field never blocks", "0.0.1", &stubFetcher{payload: `{}`}, false},
		{"garbage minimum is ignored", "1.0.0", &stubFetcher{payload: `{"minVersion":"soon"}`}, false},
		{"dev build is ignored", "dev", &stubFetcher{payload: `{"minVersion":"9.0.0"}`}, false},
		{"malformed payload uses default", "0.0.1", &stubFetcher{payload: `[`}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(tt.fetcher, PackageName, tt.current)
			err := g.Check(context.Background())
			if !tt.wantFail {
				if err != nil {
					t.Fatalf("Check() = %v, want nil", err)
				}
				return
			}
			var minErr *MinVersionError
			if !errors.As(err, &minErr) {
				t.Fatalf("Check() = %v, want *MinVersionError", err)
			}
			if minErr.Current != tt.current {
				t.Fatalf("Current = %q, want %q", minErr.Current, tt.current)
			}
			if len(minErr.Suggestions) == 0 {
				t.Fatal("expected upgrade suggestions")
			}
			for _, s := range minErr.Suggestions {
				if !strings.Contains(s, PackageName) {
					t.Fatalf("suggestion %q does not mention %s", s, PackageName)
				}
			}
		})
	}
}

func TestGateQueriesVersionConfigKey(t *testing.T) {
	f := &stubFetcher{payload: `{"minVersion":"0.0.0"}`}
	if err := NewGate(f, PackageName, "1.0.0").Check(context.Background()); err != nil {
		t.Fatalf("Check() = %v", err)
	}
	if len(f.keys) != 1 || f.keys[0] != VersionConfigKey {
		t.Fatalf("fetched keys = %v, want [%s]", f.keys, VersionConfigKey)
	}
}

func TestGateWithoutFetcher(t *testing.T) {
	if err := NewGate(nil, PackageName, "0.0.1").Check(context.Background()); err != nil {
		t.Fatalf("Check() = %v, want nil", err)
	}
}
