package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps everything in process memory. Used by tests and for
// ephemeral runs where no storage block is configured.
type memoryStore struct {
	mu sync.RWMutex

	jobs   map[int64]ScheduledJob
	execs  map[int64]JobExecution
	jobSeq int64
	exeSeq int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		jobs:  map[int64]ScheduledJob{},
		execs: map[int64]JobExecution{},
	}
}

func (m *memoryStore) Close() error { return nil }

// ---- jobs ----

func (m *memoryStore) CreateJob(_ context.Context, j ScheduledJob) (ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	m.jobSeq++
	j.ID = m.jobSeq
	m.jobs[j.ID] = j
	return j, nil
}

func (m *memoryStore) GetJob(_ context.Context, id int64) (ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return ScheduledJob{}, ErrNotFound
	}
	return j, nil
}

func (m *memoryStore) ListJobs(_ context.Context) ([]ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ScheduledJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *memoryStore) UpdateJob(_ context.Context, j ScheduledJob) (ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.jobs[j.ID]
	if !ok {
		return ScheduledJob{}, ErrNotFound
	}
	j.CreatedAt = old.CreatedAt
	j.UpdatedAt = time.Now()
	m.jobs[j.ID] = j
	return j, nil
}

func (m *memoryStore) DeleteJob(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	// Executions are history; they stay.
	delete(m.jobs, id)
	return nil
}

func (m *memoryStore) SetJobEnabled(_ context.Context, id int64, enabled bool) (ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ScheduledJob{}, ErrNotFound
	}
	j.Enabled = enabled
	j.UpdatedAt = time.Now()
	m.jobs[id] = j
	return j, nil
}

// ---- executions ----

func (m *memoryStore) CreateExecution(_ context.Context, e JobExecution) (JobExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.exeSeq++
	e.ID = m.exeSeq
	m.execs[e.ID] = e
	return e, nil
}

func (m *memoryStore) GetExecution(_ context.Context, id int64) (JobExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.execs[id]
	if !ok {
		return JobExecution{}, ErrNotFound
	}
	return e, nil
}

func (m *memoryStore) UpdateExecution(_ context.Context, e JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.execs[e.ID]
	if !ok {
		return ErrNotFound
	}
	e.CreatedAt = old.CreatedAt
	m.execs[e.ID] = e
	return nil
}

func (m *memoryStore) ListExecutions(_ context.Context, jobID int64, limit int) ([]JobExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []JobExecution
	for _, e := range m.execs {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID > out[k].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) LatestExecution(_ context.Context, jobID int64) (JobExecution, error) {
	list, err := m.ListExecutions(context.Background(), jobID, 1)
	if err != nil {
		return JobExecution{}, err
	}
	if len(list) == 0 {
		return JobExecution{}, ErrNotFound
	}
	return list[0], nil
}
