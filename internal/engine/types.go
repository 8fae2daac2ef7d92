package engine

import (
	"time"

	"jobd/internal/storage"
)

// Config controls the execution engine.
type Config struct {
	// Workers is the size of the pool driving scheduled fires.
	// Manual triggers run on their own goroutines and never borrow from it.
	Workers int

	// QueueSize bounds the scheduled-fire queue. A full queue drops the fire
	// (logged); the next cron tick tries again.
	QueueSize int

	// Timezone every cron expression is interpreted in. One zone for the
	// whole process.
	Timezone string
}

const defaultTimezone = "Asia/Taipei"

// JobDef is the caller-supplied part of a job definition.
type JobDef struct {
	Name           string
	JobTypeKey     string
	CronExpression string
	Description    string
	Enabled        bool
}

// trigger distinguishes how a run was started; it only affects the success
// marker and log fields, never the state machine.
type trigger string

const (
	triggerScheduled trigger = "scheduled"
	triggerManual    trigger = "manual"
)

func (t trigger) successMarker() string {
	if t == triggerManual {
		return "manual run completed"
	}
	return "scheduled run completed"
}

// fire is one queued scheduled firing.
type fire struct {
	job     storage.ScheduledJob
	firedAt time.Time
}

// ExecutionEvent is published on the event bus for every lifecycle edge.
type ExecutionEvent struct {
	JobID       int64              `json:"job_id"`
	JobName     string             `json:"job_name,omitempty"`
	ExecutionID int64              `json:"execution_id"`
	Status      storage.ExecStatus `json:"status"`
	Trigger     string             `json:"trigger"`
	Duration    time.Duration      `json:"duration,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// RunningInfo describes one currently running execution.
type RunningInfo struct {
	JobID       int64 `json:"job_id"`
	ExecutionID int64 `json:"execution_id"`
}

// Snapshot is a point-in-time operational view of the engine.
type Snapshot struct {
	Timezone  string         `json:"timezone"`
	Workers   int            `json:"workers"`
	QueueLen  int            `json:"queue_len"`
	QueueCap  int            `json:"queue_cap"`
	Scheduled []ScheduleInfo `json:"scheduled"`
	Running   []RunningInfo  `json:"running"`
	Dropped   uint64         `json:"dropped"`
}

// ScheduleInfo describes one live timer.
type ScheduleInfo struct {
	JobID int64     `json:"job_id"`
	Name  string    `json:"name"`
	Spec  string    `json:"spec"`
	Next  time.Time `json:"next,omitempty"`
	Prev  time.Time `json:"prev,omitempty"`
}
