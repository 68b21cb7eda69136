package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"kode/internal/telemetry"
)

func TestPrintEvents(t *testing.T) {
	var buf bytes.Buffer
	printEvents(&buf, []telemetry.Event{
		{
			Name:      "npm_prefix_path_updated",
			Attrs:     map[string]string{"configPath": "/home/u/.zshrc"},
			CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local),
		},
	})

	out := buf.String()
	for _, want := range []string{"Recent update events", "2026-01-02 03:04:05", "npm_prefix_path_updated", "configPath=/home/u/.zshrc"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFormatAttrsSorted(t *testing.T) {
	got := formatAttrs(map[string]string{"b": "2", "a": "1"})
	if got != "a=1 b=2" {
		t.Fatalf("unexpected attrs %q", got)
	}
}
