// Package storage persists scheduled-job definitions and their execution
// ledger.
//
// It currently supports:
//   - SQLite (single writer, WAL)
//   - In-memory maps (tests, ephemeral runs)
package storage
