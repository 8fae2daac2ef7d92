package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"jobd/internal/storage"
	logx "jobd/pkg/logx"
)

func (d JobDef) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalid)
	}
	if strings.TrimSpace(d.JobTypeKey) == "" {
		return fmt.Errorf("%w: job type key required", ErrInvalid)
	}
	if strings.TrimSpace(d.CronExpression) == "" {
		return fmt.Errorf("%w: cron expression required", ErrInvalid)
	}
	return nil
}

// Create persists a new job and, when enabled, installs its live timer.
// A bad cron expression or unresolvable key does not fail the create; the
// job stays persisted but dormant (logged by the scheduler).
// Duplicate names are allowed.
func (m *Manager) Create(ctx context.Context, def JobDef) (storage.ScheduledJob, error) {
	if err := def.validate(); err != nil {
		return storage.ScheduledJob{}, err
	}
	job, err := m.store.CreateJob(ctx, storage.ScheduledJob{
		Name:           strings.TrimSpace(def.Name),
		JobTypeKey:     strings.TrimSpace(def.JobTypeKey),
		CronExpression: strings.TrimSpace(def.CronExpression),
		Description:    def.Description,
		Enabled:        def.Enabled,
	})
	if err != nil {
		return storage.ScheduledJob{}, err
	}

	if job.Enabled {
		m.mu.Lock()
		m.sched.scheduleLocked(job)
		m.mu.Unlock()
	}
	m.log.Info("job created",
		logx.Int64("job_id", job.ID),
		logx.String("name", job.Name),
		logx.String("key", job.JobTypeKey),
		logx.Bool("enabled", job.Enabled),
	)
	return job, nil
}

// Update persists new fields for an existing job, then unconditionally
// cancels the old timer and installs a fresh one when enabled, so an edited
// cron expression takes effect without restart.
func (m *Manager) Update(ctx context.Context, id int64, def JobDef) (storage.ScheduledJob, error) {
	if err := def.validate(); err != nil {
		return storage.ScheduledJob{}, err
	}
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return storage.ScheduledJob{}, mapStoreErr(err)
	}
	job.Name = strings.TrimSpace(def.Name)
	job.JobTypeKey = strings.TrimSpace(def.JobTypeKey)
	job.CronExpression = strings.TrimSpace(def.CronExpression)
	job.Description = def.Description
	job.Enabled = def.Enabled

	job, err = m.store.UpdateJob(ctx, job)
	if err != nil {
		return storage.ScheduledJob{}, mapStoreErr(err)
	}

	m.mu.Lock()
	m.sched.cancelLocked(job.ID)
	if job.Enabled {
		m.sched.scheduleLocked(job)
	}
	m.mu.Unlock()

	m.log.Info("job updated",
		logx.Int64("job_id", job.ID),
		logx.String("name", job.Name),
		logx.Bool("enabled", job.Enabled),
	)
	return job, nil
}

// Delete cancels the timer, then removes the persisted row. Past executions
// are retained as history.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	m.sched.cancelLocked(id)
	m.mu.Unlock()

	if err := m.store.DeleteJob(ctx, id); err != nil {
		return mapStoreErr(err)
	}
	m.log.Info("job deleted", logx.Int64("job_id", id))
	return nil
}

// Toggle persists the enabled flag and synchronizes the live timer.
func (m *Manager) Toggle(ctx context.Context, id int64, enabled bool) (storage.ScheduledJob, error) {
	job, err := m.store.SetJobEnabled(ctx, id, enabled)
	if err != nil {
		return storage.ScheduledJob{}, mapStoreErr(err)
	}

	m.mu.Lock()
	if enabled {
		m.sched.scheduleLocked(job)
	} else {
		m.sched.cancelLocked(job.ID)
	}
	m.mu.Unlock()

	m.log.Info("job toggled", logx.Int64("job_id", job.ID), logx.Bool("enabled", enabled))
	return job, nil
}

// ExecuteNow runs a job immediately on a dedicated goroutine, outside its
// schedule. Unlike the scheduled path it fails synchronously when the job is
// unknown or its executor unresolvable, because the caller is waiting for an
// execution id. No ledger row is created on failure.
func (m *Manager) ExecuteNow(ctx context.Context, id int64) (int64, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	body, ok := m.reg.Lookup(job.JobTypeKey)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrExecutorUnresolved, job.JobTypeKey)
	}

	m.mu.Lock()
	sup := m.sup
	stopped := m.stopCh == nil || m.stopDone != nil
	m.mu.Unlock()
	if sup == nil || stopped {
		return 0, ErrStopped
	}

	exec, err := m.track.begin(ctx, job.ID)
	if err != nil {
		return 0, err
	}

	// Dedicated worker per manual trigger; never borrows pool capacity.
	name := fmt.Sprintf("manual.%d", exec.ID)
	sup.Go0(name, func(c context.Context) {
		m.track.run(c, job, body, exec.ID, triggerManual)
	})

	m.log.Info("manual trigger accepted",
		logx.Int64("job_id", job.ID),
		logx.String("name", job.Name),
		logx.Int64("execution_id", exec.ID),
	)
	return exec.ID, nil
}

// ---- reads ----

func (m *Manager) Jobs(ctx context.Context) ([]storage.ScheduledJob, error) {
	return m.store.ListJobs(ctx)
}

func (m *Manager) Job(ctx context.Context, id int64) (storage.ScheduledJob, error) {
	j, err := m.store.GetJob(ctx, id)
	if err != nil {
		return storage.ScheduledJob{}, mapStoreErr(err)
	}
	return j, nil
}

// Executions lists a job's ledger newest-first. The job itself may already be
// deleted; orphaned history is still readable.
func (m *Manager) Executions(ctx context.Context, jobID int64, limit int) ([]storage.JobExecution, error) {
	return m.store.ListExecutions(ctx, jobID, limit)
}

func (m *Manager) LatestExecution(ctx context.Context, jobID int64) (storage.JobExecution, error) {
	e, err := m.store.LatestExecution(ctx, jobID)
	if err != nil {
		return storage.JobExecution{}, mapStoreErr(err)
	}
	return e, nil
}

func (m *Manager) ExecutionByID(ctx context.Context, id int64) (storage.JobExecution, error) {
	e, err := m.store.GetExecution(ctx, id)
	if err != nil {
		return storage.JobExecution{}, mapStoreErr(err)
	}
	return e, nil
}

// Running returns the observational jobID -> executionID bookkeeping.
func (m *Manager) Running() []RunningInfo {
	return m.track.runningSnapshot()
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
