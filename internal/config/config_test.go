package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: DEBUG
  console: true
  file:
    enabled: false
    path: ""
server:
  enabled: true
  addr: "127.0.0.1:9090"
  rate_per_sec: 5
engine:
  workers: 3
  queue_size: 32
  timezone: "Asia/Taipei"
storage:
  driver: sqlite
  path: ./data/jobs.db
  busy_timeout: 2s
executors:
  nightly-report:
    enabled: true
    type: shell
    config:
      command: "/usr/local/bin/report --daily"
      timeout: 5m
  api-probe:
    enabled: false
    type: http
    config:
      url: "http://127.0.0.1:8081/healthz"
`)
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Fatalf("logging mismatch: %+v", cfg.Logging)
	}
	if !cfg.Server.Enabled || cfg.Server.Addr != "127.0.0.1:9090" || cfg.Server.RatePerSec != 5 {
		t.Fatalf("server mismatch: %+v", cfg.Server)
	}
	if cfg.Engine.Workers != 3 || cfg.Engine.QueueSize != 32 || cfg.Engine.Timezone != "Asia/Taipei" {
		t.Fatalf("engine mismatch: %+v", cfg.Engine)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "2s" {
		t.Fatalf("storage mismatch: %+v", cfg.Storage)
	}
	if len(cfg.Executors) != 2 {
		t.Fatalf("executors = %d, want 2", len(cfg.Executors))
	}
	ex := cfg.Executors["nightly-report"]
	if !ex.Enabled || ex.Type != "shell" || !strings.Contains(string(ex.Config), "--daily") {
		t.Fatalf("executor mismatch: %+v", ex)
	}
	if cfg.Executors["api-probe"].Enabled {
		t.Fatal("api-probe should be disabled")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "logging": {"level": "INFO", "console": true, "file": {"enabled": false, "path": ""}},
  "engine": {"workers": 1},
  "executors": {}
}`)
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Engine.Workers != 1 {
		t.Fatalf("engine mismatch: %+v", cfg.Engine)
	}
}

func TestParseRejectsUnknownTopLevelKey(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: INFO
  console: true
  file:
    enabled: false
    path: ""
engine: {}
executors: {}
schedular: {}
`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseRejectsUnknownExecutorKey(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: INFO
  console: true
  file:
    enabled: false
    path: ""
engine: {}
executors:
  thing:
    enabled: true
    type: shell
    comand: "typo"
`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown executor field")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("engine.timeout", "90s")
	if err != nil || d != 90*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	_, err = ParseDurationField("engine.timeout", "ninety")
	if err == nil {
		t.Fatal("expected error for bad duration")
	}
	if !strings.Contains(err.Error(), "engine.timeout") {
		t.Fatalf("error %v should name the field", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{}
	newCfg.Logging.Level = "DEBUG"
	newCfg.Engine.Workers = 8
	newCfg.Executors = map[string]ExecutorConfigRaw{
		"probe": {Enabled: true, Type: "http"},
	}

	sections, _, executorChanged := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"logging": true, "engine": true, "executors": true}
	if len(sections) != len(want) {
		t.Fatalf("sections = %v", sections)
	}
	for _, s := range sections {
		if !want[s] {
			t.Fatalf("unexpected section %q in %v", s, sections)
		}
	}
	if len(executorChanged) != 1 || executorChanged[0] != "probe" {
		t.Fatalf("executorChanged = %v", executorChanged)
	}

	// Same config twice: no changes.
	sections, _, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(sections) != 0 {
		t.Fatalf("sections = %v, want none", sections)
	}
}
