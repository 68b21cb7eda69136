package update

import (
	"context"
	"testing"
)

func TestFirstSuccessOrder(t *testing.T) {
	var calls []string
	mk := func(name string, v int, ok bool) Strategy[int] {
		return Strategy[int]{Name: name, Try: func(context.Context) (int, bool) {
			calls = append(calls, name)
			return v, ok
		}}
	}

	v, name, ok := FirstSuccess(context.Background(), mk("a", 0, false), mk("b", 2, true), mk("c", 3, true))
	if !ok || v != 2 || name != "b" {
		t.Fatalf("FirstSuccess() = (%d, %q, %v), want (2, b, true)", v, name, ok)
	}
	if len(calls) != 2 {
		t.Fatalf("expected evaluation to stop after first success, calls = %v", calls)
	}
}

func TestFirstSuccessNoneSucceed(t *testing.T) {
	failing := Strategy[string]{Name: "x", Try: func(context.Context) (string, bool) { return "ignored", false }}
	v, name, ok := FirstSuccess(context.Background(), failing, failing)
	if ok || v != "" || name != "" {
		t.Fatalf("FirstSuccess() = (%q, %q, %v), want zero values", v, name, ok)
	}
}

func TestFirstSuccessRecoversPanics(t *testing.T) {
	boom := Strategy[string]{Name: "boom", Try: func(context.Context) (string, bool) { panic("kaboom") }}
	fallback := Strategy[string]{Name: "fallback", Try: func(context.Context) (string, bool) { return "ok", true }}

	v, name, ok := FirstSuccess(context.Background(), boom, fallback)
	if !ok || v != "ok" || name != "fallback" {
		t.Fatalf("FirstSuccess() = (%q, %q, %v), want (ok, fallback, true)", v, name, ok)
	}
}

func TestFirstSuccessStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	s := Strategy[int]{Name: "s", Try: func(context.Context) (int, bool) { called = true; return 1, true }}
	if _, _, ok := FirstSuccess(ctx, s); ok || called {
		t.Fatalf("expected cancelled context to skip strategies (ok=%v called=%v)", ok, called)
	}
}
