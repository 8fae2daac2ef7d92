package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jobd/internal/registry"
	"jobd/internal/storage"
	logx "jobd/pkg/logx"
)

// scheduler owns the jobID -> live cron entry map.
//
// Invariant: the set of job ids with a live entry equals the set of persisted
// jobs with enabled=true and a resolvable type key. Violations (bad cron
// spec, unresolvable key) are logged, never fatal; the job stays persisted
// but dormant until an admin re-saves it.
type scheduler struct {
	log logx.Logger
	reg *registry.Registry

	// submit hands a firing to the run pool. Never blocks.
	submit func(f fire)

	parser cron.Parser
	loc    *time.Location

	// All fields below are guarded by the manager's mu; scheduler methods are
	// only called with it held, which is what makes cancel-then-schedule
	// strictly ordered per job id.
	c       *cron.Cron
	entries map[int64]cron.EntryID
	specs   map[int64]string
	names   map[int64]string
}

func newScheduler(tz string, reg *registry.Registry, log logx.Logger, submit func(f fire)) *scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &scheduler{
		log:    log,
		reg:    reg,
		submit: submit,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:     loadLocation(tz, log),
		entries: map[int64]cron.EntryID{},
		specs:   map[int64]string{},
		names:   map[int64]string{},
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Any("err", err))
		return time.Local
	}
	return loc
}

func (s *scheduler) startLocked() {
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.c.Start()
}

// stop waits for in-flight cron callbacks to return (they only enqueue, so
// this is quick), bounded by done.
func (s *scheduler) stopLocked(done <-chan struct{}) {
	c := s.c
	s.c = nil
	s.entries = map[int64]cron.EntryID{}
	s.specs = map[int64]string{}
	s.names = map[int64]string{}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-done:
		// best-effort
	}
}

// scheduleLocked installs a live entry for job. Any existing entry for the
// same id is removed first. Non-fatal failures (unresolvable key, bad spec)
// leave the job unscheduled.
func (s *scheduler) scheduleLocked(job storage.ScheduledJob) {
	s.cancelLocked(job.ID)
	if s.c == nil {
		return
	}
	if _, ok := s.reg.Lookup(job.JobTypeKey); !ok {
		s.log.Warn("job not scheduled: executor unresolved",
			logx.Int64("job_id", job.ID),
			logx.String("name", job.Name),
			logx.String("key", job.JobTypeKey),
		)
		return
	}

	local := job
	eid, err := s.c.AddFunc(job.CronExpression, func() {
		s.submit(fire{job: local, firedAt: time.Now()})
	})
	if err != nil {
		// Never retried on a timer; admin must re-save the job to retry.
		s.log.Warn("job not scheduled: bad cron expression",
			logx.Int64("job_id", job.ID),
			logx.String("name", job.Name),
			logx.String("spec", job.CronExpression),
			logx.Any("err", err),
		)
		return
	}
	s.entries[job.ID] = eid
	s.specs[job.ID] = job.CronExpression
	s.names[job.ID] = job.Name
	s.log.Debug("job scheduled",
		logx.Int64("job_id", job.ID),
		logx.String("name", job.Name),
		logx.String("spec", job.CronExpression),
		logx.String("next", s.previewNextLocked(job.CronExpression, 3)),
	)
}

// cancelLocked removes the live entry for jobID, if any. It cancels only the
// future firing; an already-running invocation is not interrupted.
func (s *scheduler) cancelLocked(jobID int64) {
	eid, ok := s.entries[jobID]
	if !ok {
		return
	}
	if s.c != nil {
		s.c.Remove(eid)
	}
	delete(s.entries, jobID)
	delete(s.specs, jobID)
	delete(s.names, jobID)
	s.log.Debug("job unscheduled", logx.Int64("job_id", jobID))
}

// syncAllLocked installs entries for every enabled job. Used at startup.
func (s *scheduler) syncAllLocked(jobs []storage.ScheduledJob) {
	n := 0
	for _, j := range jobs {
		if !j.Enabled {
			continue
		}
		s.scheduleLocked(j)
		if _, ok := s.entries[j.ID]; ok {
			n++
		}
	}
	s.log.Info("schedules synced", logx.Int("jobs", len(jobs)), logx.Int("scheduled", n), logx.String("tz", s.loc.String()))
}

func (s *scheduler) snapshotLocked() []ScheduleInfo {
	out := make([]ScheduleInfo, 0, len(s.entries))
	for id, eid := range s.entries {
		info := ScheduleInfo{JobID: id, Name: s.names[id], Spec: s.specs[id]}
		if s.c != nil {
			e := s.c.Entry(eid)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// previewNextLocked returns a short human-friendly list of upcoming run times
// for spec, for debug logs only.
func (s *scheduler) previewNextLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
