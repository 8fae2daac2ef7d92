package registry

import (
	"context"
	"testing"

	logx "jobd/pkg/logx"
)

func TestRegisterLookup(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop())

	if _, ok := r.Lookup("report"); ok {
		t.Fatal("expected miss on empty registry")
	}

	r.Register("report", func(context.Context) (string, error) { return "a", nil })
	body, ok := r.Lookup("report")
	if !ok {
		t.Fatal("expected hit after Register")
	}
	detail, err := body(context.Background())
	if err != nil || detail != "a" {
		t.Fatalf("body returned (%q, %v)", detail, err)
	}
}

func TestRegisterLastWins(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop())

	r.Register("cleanup", func(context.Context) (string, error) { return "first", nil })
	r.Register("cleanup", func(context.Context) (string, error) { return "second", nil })

	body, ok := r.Lookup("cleanup")
	if !ok {
		t.Fatal("expected hit")
	}
	detail, _ := body(context.Background())
	if detail != "second" {
		t.Fatalf("detail = %q, want second registration to win", detail)
	}
}

func TestRegisterNilRemoves(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop())

	r.Register("tmp", func(context.Context) (string, error) { return "", nil })
	r.Register("tmp", nil)
	if _, ok := r.Lookup("tmp"); ok {
		t.Fatal("expected miss after nil registration")
	}
}

func TestKeysSorted(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop())
	for _, k := range []string{"zeta", "alpha", "mid"} {
		r.Register(k, func(context.Context) (string, error) { return "", nil })
	}
	keys := r.Keys()
	want := []string{"alpha", "mid", "zeta"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}
