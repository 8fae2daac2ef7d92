package storage

import (
	"context"
	"errors"
	"strings"

	logx "jobd/pkg/logx"
)

// Store is the persistence API for job definitions and the execution ledger.
// Plain CRUD; scheduling decisions live in the engine.
type Store interface {
	CreateJob(ctx context.Context, j ScheduledJob) (ScheduledJob, error)
	GetJob(ctx context.Context, id int64) (ScheduledJob, error)
	ListJobs(ctx context.Context) ([]ScheduledJob, error)
	UpdateJob(ctx context.Context, j ScheduledJob) (ScheduledJob, error)
	DeleteJob(ctx context.Context, id int64) error
	SetJobEnabled(ctx context.Context, id int64, enabled bool) (ScheduledJob, error)

	CreateExecution(ctx context.Context, e JobExecution) (JobExecution, error)
	GetExecution(ctx context.Context, id int64) (JobExecution, error)
	UpdateExecution(ctx context.Context, e JobExecution) error
	// ListExecutions returns executions for a job newest-first.
	// limit <= 0 means no limit.
	ListExecutions(ctx context.Context, jobID int64, limit int) ([]JobExecution, error)
	LatestExecution(ctx context.Context, jobID int64) (JobExecution, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
