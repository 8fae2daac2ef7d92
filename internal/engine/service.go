package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"jobd/internal/eventbus"
	"jobd/internal/registry"
	rtsup "jobd/internal/runtime/supervisor"
	"jobd/internal/storage"
	logx "jobd/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Manager is the engine facade. Admin operations (CRUD, toggle, manual
// trigger, ledger reads) all go through it, and every mutation that changes
// schedulability synchronizes the live timers before returning.
type Manager struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	reg   *registry.Registry

	cfg Config

	// mu guards the scheduler state and the start/stop fields below. It is
	// what serializes cancel-then-schedule per job id.
	mu    sync.Mutex
	sched *scheduler
	track *tracker

	q        chan fire
	stopCh   chan struct{}
	stopDone chan struct{}
	sup      *rtsup.Supervisor

	dropped             uint64
	lastQueueFullWarnAt int64
}

func New(cfg Config, store storage.Store, reg *registry.Registry, log logx.Logger, bus eventbus.Bus) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	m := &Manager{
		log:   log,
		bus:   bus,
		store: store,
		reg:   reg,
		cfg:   cfg,
	}
	m.track = newTracker(store, log.With(logx.String("comp", "tracker")), bus)
	m.sched = newScheduler(cfg.Timezone, reg, log.With(logx.String("comp", "scheduler")), m.submitFire)
	return m
}

// Start brings up the run pool and the cron, then installs a live timer for
// every persisted enabled job. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	if m.stopCh != nil {
		// Already running (or stopping; let the stop finish first).
		done := m.stopDone
		m.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return m.Start(ctx)
		}
		return nil
	}

	m.q = make(chan fire, m.cfg.QueueSize)
	m.stopCh = make(chan struct{})
	m.stopDone = nil
	stopCh := m.stopCh
	queue := m.q
	workers := m.cfg.Workers

	m.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "engine"))),
		// Engine failures should not hard-kill the app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := m.sup

	for i := 0; i < workers; i++ {
		idx := i
		name := fmt.Sprintf("worker.%d", idx)
		// Auto-restart workers if they panic or exit unexpectedly.
		sup.GoRestart(name, func(c context.Context) error {
			m.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		},
			rtsup.WithPublishFirstError(true),
		)
	}

	m.sched.startLocked()

	jobs, err := m.store.ListJobs(ctx)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("load jobs: %w", err)
	}
	m.sched.syncAllLocked(jobs)
	m.mu.Unlock()

	m.log.Info("engine started",
		logx.Int("workers", workers),
		logx.Int("queue", cap(queue)),
		logx.String("tz", m.sched.loc.String()),
	)
	return nil
}

// Stop cancels all live timers and drains the pool. Runs that are already
// RUNNING finish on their own; there is no in-flight cancellation beyond the
// context handed to bodies.
func (m *Manager) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	if m.stopCh == nil {
		m.mu.Unlock()
		return
	}
	if m.stopDone != nil {
		done := m.stopDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	m.stopDone = done
	close(m.stopCh)
	m.sched.stopLocked(ctx.Done())
	sup := m.sup
	m.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		// Wait unbounded in background; caller can still time out.
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		m.mu.Lock()
		m.q = nil
		m.stopCh = nil
		m.stopDone = nil
		m.sup = nil
		m.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("engine stopped")
	case <-ctx.Done():
		m.log.Warn("engine stop timed out", logx.Any("err", ctx.Err()))
	}
}

// submitFire hands a scheduled firing to the pool without blocking. Cron
// callbacks must stay cheap; a full queue drops the fire and the next tick
// tries again.
func (m *Manager) submitFire(f fire) {
	m.mu.Lock()
	q := m.q
	stopping := m.stopCh == nil || m.stopDone != nil
	m.mu.Unlock()
	if q == nil || stopping {
		return
	}
	select {
	case q <- f:
	default:
		m.onQueueFullDropped(f, q)
	}
}

func (m *Manager) worker(ctx context.Context, stopCh <-chan struct{}, queue chan fire) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case f, ok := <-queue:
			if !ok {
				return
			}
			m.execScheduled(ctx, f)
		}
	}
}

// execScheduled performs the whole begin/run sequence for one scheduled fire.
// The pool worker is the detached worker of the execution lifecycle.
func (m *Manager) execScheduled(ctx context.Context, f fire) {
	// Re-resolve at fire time; the registration may have been replaced since
	// the timer was installed.
	body, ok := m.reg.Lookup(f.job.JobTypeKey)
	if !ok {
		m.log.Warn("scheduled fire skipped: executor unresolved",
			logx.Int64("job_id", f.job.ID),
			logx.String("key", f.job.JobTypeKey),
		)
		return
	}
	exec, err := m.track.begin(ctx, f.job.ID)
	if err != nil {
		m.log.Error("scheduled fire not recorded",
			logx.Int64("job_id", f.job.ID),
			logx.Err(err),
		)
		return
	}
	m.track.run(ctx, f.job, body, exec.ID, triggerScheduled)
}

func (m *Manager) onQueueFullDropped(f fire, q chan fire) {
	atomic.AddUint64(&m.dropped, 1)
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: "execution.dropped", Data: ExecutionEvent{
			JobID: f.job.ID, JobName: f.job.Name, Trigger: string(triggerScheduled), Error: "queue_full",
		}})
	}
	if !m.log.IsZero() && m.shouldWarn(&m.lastQueueFullWarnAt, time.Now()) {
		m.log.Warn("scheduled fire dropped: queue full",
			logx.Int64("job_id", f.job.ID),
			logx.String("name", f.job.Name),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped", atomic.LoadUint64(&m.dropped)),
		)
	}
}

func (m *Manager) shouldWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}

// Supervisor returns the engine's internal supervisor (nil if not started).
// Used for operational visibility.
func (m *Manager) Supervisor() *rtsup.Supervisor {
	m.mu.Lock()
	sup := m.sup
	m.mu.Unlock()
	return sup
}

// Snapshot returns a point-in-time operational view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		Timezone:  m.sched.loc.String(),
		Workers:   m.cfg.Workers,
		Scheduled: m.sched.snapshotLocked(),
		Dropped:   atomic.LoadUint64(&m.dropped),
	}
	if m.q != nil {
		snap.QueueLen = len(m.q)
		snap.QueueCap = cap(m.q)
	}
	m.mu.Unlock()
	snap.Running = m.track.runningSnapshot()
	return snap
}
