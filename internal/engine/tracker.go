package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"jobd/internal/eventbus"
	"jobd/internal/registry"
	"jobd/internal/storage"
	logx "jobd/pkg/logx"
)

const (
	// A freshly created execution row may not be visible to the worker's read
	// path yet (storage-dependent write visibility). The worker re-reads with
	// a bounded retry before degrading.
	readbackAttempts = 5
	readbackDelay    = 100 * time.Millisecond
)

// tracker drives the execution ledger state machine for any trigger.
//
// The running map is observational bookkeeping only; it does not enforce
// exclusion, so two runs of the same job may overlap (a manual trigger during
// a scheduled run, for instance).
type tracker struct {
	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus

	mu      sync.Mutex
	running map[int64]int64 // jobID -> executionID
}

func newTracker(store storage.Store, log logx.Logger, bus eventbus.Bus) *tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &tracker{store: store, log: log, bus: bus, running: map[int64]int64{}}
}

// begin inserts the PENDING row for a new run and returns it. This happens on
// the triggering context, before any worker is involved, so a manual caller
// gets the execution id back immediately.
func (t *tracker) begin(ctx context.Context, jobID int64) (storage.JobExecution, error) {
	return t.store.CreateExecution(ctx, storage.JobExecution{
		JobID:     jobID,
		Status:    storage.StatusPending,
		StartedAt: time.Now(),
	})
}

// run executes the full worker-side sequence for one execution:
// re-read the row (bounded retry), mark RUNNING, invoke the body, finalize
// SUCCESS or FAILED. Body errors and panics are swallowed here; they never
// reach the scheduler or crash the process.
func (t *tracker) run(ctx context.Context, job storage.ScheduledJob, body registry.Body, execID int64, trig trigger) {
	exec, ok := t.loadWithRetry(ctx, execID)
	if !ok {
		// Row still invisible after retries: degrade gracefully with a
		// replacement row so status reporting keeps working.
		t.log.Warn("execution row not visible; creating replacement",
			logx.Int64("job_id", job.ID),
			logx.Int64("execution_id", execID),
		)
		var err error
		exec, err = t.store.CreateExecution(ctx, storage.JobExecution{
			JobID:     job.ID,
			Status:    storage.StatusPending,
			StartedAt: time.Now(),
		})
		if err != nil {
			t.log.Error("execution replacement row failed; run not recorded",
				logx.Int64("job_id", job.ID),
				logx.Err(err),
			)
			return
		}
	}

	exec.Status = storage.StatusRunning
	if err := t.store.UpdateExecution(ctx, exec); err != nil {
		t.log.Warn("execution RUNNING update failed",
			logx.Int64("execution_id", exec.ID),
			logx.Err(err),
		)
	}

	t.mu.Lock()
	t.running[job.ID] = exec.ID
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.running, job.ID)
		t.mu.Unlock()
	}()

	t.publish("execution.started", ExecutionEvent{
		JobID: job.ID, JobName: job.Name, ExecutionID: exec.ID,
		Status: storage.StatusRunning, Trigger: string(trig),
	})
	t.log.Debug("execution started",
		logx.Int64("job_id", job.ID),
		logx.String("name", job.Name),
		logx.Int64("execution_id", exec.ID),
		logx.String("trigger", string(trig)),
	)

	start := time.Now()
	detail, err := t.invoke(ctx, job, body)
	dur := time.Since(start)

	// Reload before finalizing, same bounded retry; fall back to the copy we
	// already hold if the row went missing.
	if fresh, ok := t.loadWithRetry(ctx, exec.ID); ok {
		fresh.StartedAt = exec.StartedAt
		exec = fresh
	}
	now := time.Now()
	exec.CompletedAt = &now

	if err != nil {
		exec.Status = storage.StatusFailed
		exec.ErrorMessage = errorMessage(err)
		t.log.Warn("execution failed",
			logx.Int64("job_id", job.ID),
			logx.String("name", job.Name),
			logx.Int64("execution_id", exec.ID),
			logx.Duration("dur", dur),
			logx.Any("err", err),
		)
	} else {
		exec.Status = storage.StatusSuccess
		exec.ResultMessage = trig.successMarker()
		if detail != "" {
			exec.ResultMessage += ": " + detail
		}
		t.log.Info("execution completed",
			logx.Int64("job_id", job.ID),
			logx.String("name", job.Name),
			logx.Int64("execution_id", exec.ID),
			logx.Duration("dur", dur),
		)
	}

	if uerr := t.store.UpdateExecution(ctx, exec); uerr != nil {
		t.log.Error("execution finalize failed",
			logx.Int64("execution_id", exec.ID),
			logx.String("status", string(exec.Status)),
			logx.Err(uerr),
		)
	}

	evType := "execution.finished"
	if err != nil {
		evType = "execution.failed"
	}
	t.publish(evType, ExecutionEvent{
		JobID: job.ID, JobName: job.Name, ExecutionID: exec.ID,
		Status: exec.Status, Trigger: string(trig), Duration: dur, Error: exec.ErrorMessage,
	})
}

// invoke runs the body with panic capture so one bad job cannot take down a
// worker or the process.
func (t *tracker) invoke(ctx context.Context, job storage.ScheduledJob, body registry.Body) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			t.log.Error("execution panicked",
				logx.Int64("job_id", job.ID),
				logx.String("name", job.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	detail, err = body(ctx)
	return
}

// loadWithRetry re-reads an execution row, retrying on not-found because the
// insert may not be visible to this reader yet.
func (t *tracker) loadWithRetry(ctx context.Context, execID int64) (storage.JobExecution, bool) {
	for attempt := 1; ; attempt++ {
		e, err := t.store.GetExecution(ctx, execID)
		if err == nil {
			return e, true
		}
		if !errors.Is(err, storage.ErrNotFound) {
			t.log.Warn("execution read failed",
				logx.Int64("execution_id", execID),
				logx.Int("attempt", attempt),
				logx.Err(err),
			)
		}
		if attempt >= readbackAttempts {
			return storage.JobExecution{}, false
		}
		select {
		case <-ctx.Done():
			return storage.JobExecution{}, false
		case <-time.After(readbackDelay):
		}
	}
}

func (t *tracker) runningSnapshot() []RunningInfo {
	t.mu.Lock()
	out := make([]RunningInfo, 0, len(t.running))
	for jobID, execID := range t.running {
		out = append(out, RunningInfo{JobID: jobID, ExecutionID: execID})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

func (t *tracker) publish(typ string, ev ExecutionEvent) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// errorMessage mirrors the ledger contract: a FAILED row always carries a
// non-empty message, falling back to the error's type when its text is empty.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}
