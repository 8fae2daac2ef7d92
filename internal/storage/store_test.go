package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "jobd/pkg/logx"
)

// openStores builds one store per driver so the whole contract suite runs
// against both implementations.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	mem := NewMemory()
	t.Cleanup(func() { _ = mem.Close() })

	sq, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "jobs.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{"memory": mem, "sqlite": sq}
}

func TestJobCRUD(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			job, err := st.CreateJob(ctx, ScheduledJob{
				Name:           "nightly-report",
				JobTypeKey:     "report",
				CronExpression: "0 3 * * *",
				Description:    "aggregates yesterday",
				Enabled:        true,
			})
			if err != nil {
				t.Fatalf("CreateJob: %v", err)
			}
			if job.ID == 0 {
				t.Fatal("CreateJob did not assign an id")
			}
			if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
				t.Fatal("CreateJob did not stamp times")
			}

			got, err := st.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if got.Name != job.Name || got.JobTypeKey != job.JobTypeKey || got.CronExpression != job.CronExpression || !got.Enabled {
				t.Fatalf("GetJob mismatch: %+v", got)
			}

			got.CronExpression = "*/10 * * * *"
			got.Description = "edited"
			updated, err := st.UpdateJob(ctx, got)
			if err != nil {
				t.Fatalf("UpdateJob: %v", err)
			}
			if updated.CronExpression != "*/10 * * * *" || updated.Description != "edited" {
				t.Fatalf("UpdateJob mismatch: %+v", updated)
			}
			if updated.CreatedAt.IsZero() {
				t.Fatal("UpdateJob must preserve CreatedAt")
			}

			toggled, err := st.SetJobEnabled(ctx, job.ID, false)
			if err != nil {
				t.Fatalf("SetJobEnabled: %v", err)
			}
			if toggled.Enabled {
				t.Fatal("SetJobEnabled(false) left job enabled")
			}

			jobs, err := st.ListJobs(ctx)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(jobs) != 1 || jobs[0].ID != job.ID {
				t.Fatalf("ListJobs = %+v", jobs)
			}

			if err := st.DeleteJob(ctx, job.ID); err != nil {
				t.Fatalf("DeleteJob: %v", err)
			}
			if _, err := st.GetJob(ctx, job.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetJob after delete: %v, want ErrNotFound", err)
			}
		})
	}
}

func TestJobNotFound(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.GetJob(ctx, 999); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetJob: %v, want ErrNotFound", err)
			}
			if _, err := st.UpdateJob(ctx, ScheduledJob{ID: 999, Name: "x"}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("UpdateJob: %v, want ErrNotFound", err)
			}
			if err := st.DeleteJob(ctx, 999); !errors.Is(err, ErrNotFound) {
				t.Fatalf("DeleteJob: %v, want ErrNotFound", err)
			}
			if _, err := st.SetJobEnabled(ctx, 999, true); !errors.Is(err, ErrNotFound) {
				t.Fatalf("SetJobEnabled: %v, want ErrNotFound", err)
			}
		})
	}
}

func TestExecutionLedger(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			job, err := st.CreateJob(ctx, ScheduledJob{Name: "j", JobTypeKey: "k", CronExpression: "* * * * *"})
			if err != nil {
				t.Fatalf("CreateJob: %v", err)
			}

			var ids []int64
			base := time.Now().Add(-time.Minute)
			for i := 0; i < 3; i++ {
				e, err := st.CreateExecution(ctx, JobExecution{
					JobID:     job.ID,
					Status:    StatusPending,
					StartedAt: base.Add(time.Duration(i) * time.Second),
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				})
				if err != nil {
					t.Fatalf("CreateExecution: %v", err)
				}
				ids = append(ids, e.ID)
			}

			list, err := st.ListExecutions(ctx, job.ID, 0)
			if err != nil {
				t.Fatalf("ListExecutions: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("got %d executions, want 3", len(list))
			}
			// Newest first.
			if list[0].ID != ids[2] || list[2].ID != ids[0] {
				t.Fatalf("ordering wrong: %v", []int64{list[0].ID, list[1].ID, list[2].ID})
			}

			limited, err := st.ListExecutions(ctx, job.ID, 2)
			if err != nil {
				t.Fatalf("ListExecutions(limit): %v", err)
			}
			if len(limited) != 2 || limited[0].ID != ids[2] {
				t.Fatalf("limited = %+v", limited)
			}

			latest, err := st.LatestExecution(ctx, job.ID)
			if err != nil {
				t.Fatalf("LatestExecution: %v", err)
			}
			if latest.ID != ids[2] {
				t.Fatalf("latest = %d, want %d", latest.ID, ids[2])
			}

			// Finalize one row.
			e, err := st.GetExecution(ctx, ids[0])
			if err != nil {
				t.Fatalf("GetExecution: %v", err)
			}
			now := time.Now()
			e.Status = StatusSuccess
			e.CompletedAt = &now
			e.ResultMessage = "manual run completed"
			if err := st.UpdateExecution(ctx, e); err != nil {
				t.Fatalf("UpdateExecution: %v", err)
			}
			got, err := st.GetExecution(ctx, ids[0])
			if err != nil {
				t.Fatalf("GetExecution: %v", err)
			}
			if got.Status != StatusSuccess || got.CompletedAt == nil || got.ResultMessage != "manual run completed" {
				t.Fatalf("finalized row mismatch: %+v", got)
			}
		})
	}
}

func TestExecutionsSurviveJobDeletion(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			job, err := st.CreateJob(ctx, ScheduledJob{Name: "j", JobTypeKey: "k", CronExpression: "* * * * *"})
			if err != nil {
				t.Fatalf("CreateJob: %v", err)
			}
			e, err := st.CreateExecution(ctx, JobExecution{JobID: job.ID, Status: StatusPending, StartedAt: time.Now()})
			if err != nil {
				t.Fatalf("CreateExecution: %v", err)
			}
			if err := st.DeleteJob(ctx, job.ID); err != nil {
				t.Fatalf("DeleteJob: %v", err)
			}

			// Orphaned history stays readable.
			got, err := st.GetExecution(ctx, e.ID)
			if err != nil {
				t.Fatalf("GetExecution after job delete: %v", err)
			}
			if got.JobID != job.ID {
				t.Fatalf("JobID = %d, want %d", got.JobID, job.ID)
			}
			list, err := st.ListExecutions(ctx, job.ID, 0)
			if err != nil || len(list) != 1 {
				t.Fatalf("ListExecutions after job delete: %v (%d rows)", err, len(list))
			}
		})
	}
}

func TestExecutionNotFound(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.GetExecution(ctx, 12345); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetExecution: %v, want ErrNotFound", err)
			}
			if err := st.UpdateExecution(ctx, JobExecution{ID: 12345}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("UpdateExecution: %v, want ErrNotFound", err)
			}
			if _, err := st.LatestExecution(ctx, 12345); !errors.Is(err, ErrNotFound) {
				t.Fatalf("LatestExecution: %v, want ErrNotFound", err)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
