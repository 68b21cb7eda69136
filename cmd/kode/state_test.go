package main

import (
	"testing"
	"time"

	"kode/internal/config"
	"kode/internal/update"
)

func TestConfigStateStoreRoundTrip(t *testing.T) {
	t.Setenv("KODE_HOME", t.TempDir())
	cleanup := config.ResetForTesting(t)
	t.Cleanup(cleanup)

	store := configStateStore{}
	checked := time.UnixMilli(time.Now().UnixMilli())
	if err := store.Save(update.State{LastCheckAt: checked, LastSuggestedVersion: "1.4.0"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.LastCheckAt.Equal(checked) {
		t.Fatalf("expected %v, got %v", checked, got.LastCheckAt)
	}
	if got.LastSuggestedVersion != "1.4.0" {
		t.Fatalf("expected suggestion 1.4.0, got %q", got.LastSuggestedVersion)
	}
	if store.AutoUpdaterDisabled() {
		t.Fatal("auto updater should be enabled by default")
	}
}
