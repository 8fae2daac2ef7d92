package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps, nothing survives restart
//   - "sqlite": SQLite database file
//
// If Driver is empty, "memory" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ExecStatus is the lifecycle state of one job run.
//
// Transitions are one-directional: PENDING -> RUNNING -> SUCCESS|FAILED.
type ExecStatus string

const (
	StatusPending ExecStatus = "PENDING"
	StatusRunning ExecStatus = "RUNNING"
	StatusSuccess ExecStatus = "SUCCESS"
	StatusFailed  ExecStatus = "FAILED"
)

// ScheduledJob is a persisted job definition.
//
// JobTypeKey is an opaque identifier agreed between the executor registry and
// whoever registers the callback; it is not a type or class name.
type ScheduledJob struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	JobTypeKey     string    `json:"jobTypeKey"`
	CronExpression string    `json:"cronExpression"`
	Description    string    `json:"description,omitempty"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// JobExecution is one row of the execution ledger.
//
// Rows outlive their job: deleting a job keeps its history, so JobID may
// reference a job that no longer exists.
type JobExecution struct {
	ID            int64      `json:"id"`
	JobID         int64      `json:"jobId"`
	Status        ExecStatus `json:"status"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	ResultMessage string     `json:"resultMessage,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}
