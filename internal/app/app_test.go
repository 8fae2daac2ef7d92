package app

import (
	"encoding/json"
	"testing"
	"time"

	"jobd/internal/config"
	"jobd/internal/registry"
	logx "jobd/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	sc, err := mapStorageConfig(&Config{})
	if err != nil || sc.Driver != "memory" {
		t.Fatalf("no storage block: (%+v, %v)", sc, err)
	}

	sc, err = mapStorageConfig(&Config{Storage: &config.StorageConfig{Driver: "none"}})
	if err != nil || sc.Driver != "memory" {
		t.Fatalf("driver none: (%+v, %v)", sc, err)
	}

	sc, err = mapStorageConfig(&Config{Storage: &config.StorageConfig{
		Driver: "sqlite", Path: "./jobs.db", BusyTimeout: "3s",
	}})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != "./jobs.db" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("sqlite mapped to %+v", sc)
	}

	if _, err := mapStorageConfig(&Config{Storage: &config.StorageConfig{Driver: "sqlite"}}); err == nil {
		t.Fatal("sqlite without path must fail")
	}
	if _, err := mapStorageConfig(&Config{Storage: &config.StorageConfig{Driver: "mongodb"}}); err == nil {
		t.Fatal("unknown driver must fail")
	}
}

func TestMapServerConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Server.Enabled = true

	api, err := mapServerConfig(cfg)
	if err != nil {
		t.Fatalf("mapServerConfig: %v", err)
	}
	if !api.Enabled {
		t.Fatal("enabled flag lost")
	}
	if api.ReadTimeout != 10*time.Second || api.WriteTimeout != 30*time.Second || api.IdleTimeout != 60*time.Second {
		t.Fatalf("timeout defaults wrong: %+v", api)
	}

	cfg.Server.ReadTimeout = "not-a-duration"
	if _, err := mapServerConfig(cfg); err == nil {
		t.Fatal("bad duration must fail")
	}
}

func TestBuildExecutorBody(t *testing.T) {
	t.Parallel()

	body, err := buildExecutorBody("greet", config.ExecutorConfigRaw{
		Enabled: true,
		Type:    "shell",
		Config:  json.RawMessage(`{"command":"echo hi"}`),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("shell executor: %v", err)
	}
	if body == nil {
		t.Fatal("nil body")
	}

	if _, err := buildExecutorBody("x", config.ExecutorConfigRaw{
		Enabled: true, Type: "carrier-pigeon", Config: json.RawMessage(`{}`),
	}, logx.Nop()); err == nil {
		t.Fatal("unknown type must fail")
	}

	if _, err := buildExecutorBody("x", config.ExecutorConfigRaw{
		Enabled: true, Type: "shell", Config: json.RawMessage(`{"command":"true","surprise":1}`),
	}, logx.Nop()); err == nil {
		t.Fatal("unknown field in executor config must fail")
	}

	if _, err := buildExecutorBody("x", config.ExecutorConfigRaw{
		Enabled: true, Type: "shell",
	}, logx.Nop()); err == nil {
		t.Fatal("missing config block must fail")
	}
}

func TestApplyExecutorsSyncsRegistry(t *testing.T) {
	t.Parallel()
	reg := registry.New(logx.Nop())
	log := logx.Nop()

	cur := map[string]config.ExecutorConfigRaw{
		"a": {Enabled: true, Type: "shell", Config: json.RawMessage(`{"command":"echo a"}`)},
		"b": {Enabled: false, Type: "shell", Config: json.RawMessage(`{"command":"echo b"}`)},
	}
	if err := applyExecutors(reg, nil, cur, log); err != nil {
		t.Fatalf("applyExecutors: %v", err)
	}
	if _, ok := reg.Lookup("a"); !ok {
		t.Fatal("enabled executor not registered")
	}
	if _, ok := reg.Lookup("b"); ok {
		t.Fatal("disabled executor registered")
	}

	// Remove "a", enable "b".
	next := map[string]config.ExecutorConfigRaw{
		"b": {Enabled: true, Type: "shell", Config: json.RawMessage(`{"command":"echo b"}`)},
	}
	if err := applyExecutors(reg, cur, next, log); err != nil {
		t.Fatalf("applyExecutors reload: %v", err)
	}
	if _, ok := reg.Lookup("a"); ok {
		t.Fatal("removed executor still registered")
	}
	if _, ok := reg.Lookup("b"); !ok {
		t.Fatal("newly enabled executor not registered")
	}

	// Bad config keeps the previous registration and reports the error.
	bad := map[string]config.ExecutorConfigRaw{
		"b": {Enabled: true, Type: "shell", Config: json.RawMessage(`{"command":""}`)},
	}
	if err := applyExecutors(reg, next, bad, log); err == nil {
		t.Fatal("bad reload must surface an error")
	}
	if body, ok := reg.Lookup("b"); !ok || body == nil {
		t.Fatal("previous registration lost on bad reload")
	}
}

func TestValidateExecutors(t *testing.T) {
	t.Parallel()
	ok := map[string]config.ExecutorConfigRaw{
		"probe": {Enabled: true, Type: "http", Config: json.RawMessage(`{"url":"http://127.0.0.1:9/x"}`)},
		"off":   {Enabled: false, Type: "bogus"},
	}
	if err := validateExecutors(ok); err != nil {
		t.Fatalf("validateExecutors: %v", err)
	}
	bad := map[string]config.ExecutorConfigRaw{
		"probe": {Enabled: true, Type: "http", Config: json.RawMessage(`{"url":"not a url"}`)},
	}
	if err := validateExecutors(bad); err == nil {
		t.Fatal("expected error for bad probe url")
	}
}
