package shellexec

import (
	"context"
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
		{"empty command", Config{}},
		{"bad timeout", Config{Command: "true", Timeout: "soon"}},
		{"negative timeout", Config{Command: "true", Timeout: "-1s"}},
		{"unbalanced quote", Config{Command: `echo "oops`}},
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

func TestRunSuccess(t *testing.T) {
	t.Parallel()
	body, err := New(Config{Command: "echo hello world"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	detail, err := body(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(detail, "exit 0") || !strings.Contains(detail, "hello world") {
		t.Fatalf("detail = %q", detail)
	}
}

func TestRunShellMode(t *testing.T) {
	t.Parallel()
	body, err := New(Config{Command: "echo a && echo b", Shell: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	detail, err := body(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Last output line is what ends up in the detail.
	if !strings.Contains(detail, "b") {
		t.Fatalf("detail = %q", detail)
	}
}

func TestRunFailureCarriesLastLine(t *testing.T) {
	t.Parallel()
	body, err := New(Config{Command: "echo broken pipe; exit 3", Shell: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = body(context.Background())
	if err == nil {
		t.Fatal("expected error for exit 3")
	}
	if !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("err = %v, want last output line included", err)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	body, err := New(Config{Command: "sleep 5", Timeout: "100ms"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = body(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err = %v, want timeout message", err)
	}
}

func TestEnvPassedToCommand(t *testing.T) {
	t.Parallel()
	body, err := New(Config{Command: "echo $GREETING", Shell: true, Env: []string{"GREETING=hi-from-env"}}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	detail, err := body(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(detail, "hi-from-env") {
		t.Fatalf("detail = %q", detail)
	}
}

func TestLastLine(t *testing.T) {
	t.Parallel()
	if got := lastLine("a\nb\nc"); got != "c" {
		t.Fatalf("lastLine = %q, want c", got)
	}
	long := strings.Repeat("x", 400)
	if got := lastLine(long); len(got) != 300 || !strings.HasSuffix(got, "...") {
		t.Fatalf("lastLine len = %d", len(got))
	}
}
