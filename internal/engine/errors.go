package engine

import "errors"

var (
	// ErrNotFound is returned by admin operations when the job id is unknown.
	ErrNotFound = errors.New("job not found")

	// ErrExecutorUnresolved is returned by ExecuteNow when no executor is
	// registered for the job's type key. The scheduled path only logs this
	// condition; the manual path surfaces it because the caller is waiting
	// for an execution id.
	ErrExecutorUnresolved = errors.New("no executor registered for job type key")

	// ErrInvalid wraps job definition validation failures.
	ErrInvalid = errors.New("invalid job definition")

	ErrStopped   = errors.New("engine stopped")
	ErrQueueFull = errors.New("engine queue full")
)
