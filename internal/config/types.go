package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Server controls the administrative HTTP API.
	Server ServerConfig `json:"server,omitempty"`

	// Engine controls scheduling and execution behavior.
	Engine EngineConfig `json:"engine"`

	// Storage selects the persistence layer for jobs and executions.
	// If omitted, an in-memory store is used (nothing survives restart).
	Storage *StorageConfig `json:"storage,omitempty"`

	// Executors declares named executor instances registered at startup.
	// The map key becomes the job type key feature jobs bind to.
	Executors map[string]ExecutorConfigRaw `json:"executors"`
}

// EngineConfig controls the execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 64
//   - timezone: "Asia/Taipei"
type EngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// Timezone every cron expression is interpreted in (one zone for the
	// whole process, not per job).
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./jobd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ServerConfig controls the administrative HTTP API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type ServerConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// RatePerSec throttles API requests (token bucket). 0 keeps the default of 20.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	Burst      int `json:"burst,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type ExecutorConfigRaw struct {
	Enabled bool `json:"enabled"`
	// Type selects the built-in runner ("shell" or "http").
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in executor blocks are
// caught during config reload instead of being silently ignored.
func (e *ExecutorConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Type    string          `json:"type"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*e = ExecutorConfigRaw{Enabled: t.Enabled, Type: t.Type, Config: t.Config}
	return nil
}
