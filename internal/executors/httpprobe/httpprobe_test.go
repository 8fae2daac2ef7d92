package httpprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "jobd/pkg/logx"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
	}{
		{"empty url", Config{}},
		{"bad scheme", Config{URL: "ftp://host/file"}},
		{"bad method", Config{URL: "http://host/", Method: "POST"}},
		{"bad timeout", Config{URL: "http://host/", Timeout: "soon"}},
	}
	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, logx.Nop()); err == nil {
				t.Fatalf("New(%+v) succeeded, want error", tt.cfg)
			}
		})
	}
}

func TestProbeSuccess(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ts.Close)

	body, err := New(Config{URL: ts.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	detail, err := body(context.Background())
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(detail, "204") {
		t.Fatalf("detail = %q", detail)
	}
}

func TestProbeServerError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	body, err := New(Config{URL: ts.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := body(context.Background()); err == nil {
		t.Fatal("expected error for 500")
	}
}

func TestProbeExpectStatusPinsCode(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(ts.Close)

	// 418 would normally fail, but expect_status accepts it.
	body, err := New(Config{URL: ts.URL, ExpectStatus: http.StatusTeapot}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := body(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}

	// And a pinned status rejects everything else.
	body, err = New(Config{URL: ts.URL, ExpectStatus: http.StatusOK}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := body(context.Background()); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestProbeHonorsContext(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(ts.Close)

	body, err := New(Config{URL: ts.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := body(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
