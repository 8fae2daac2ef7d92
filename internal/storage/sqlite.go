package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "jobd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- jobs ----

func (s *sqliteStore) CreateJob(ctx context.Context, j ScheduledJob) (ScheduledJob, error) {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(name, job_type_key, cron_expression, description, enabled, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)`,
		j.Name, j.JobTypeKey, j.CronExpression, nullStr(j.Description), boolInt(j.Enabled),
		fmtTime(j.CreatedAt), fmtTime(j.UpdatedAt),
	)
	if err != nil {
		return ScheduledJob{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ScheduledJob{}, err
	}
	j.ID = id
	return j, nil
}

func (s *sqliteStore) GetJob(ctx context.Context, id int64) (ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, job_type_key, cron_expression, description, enabled, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, job_type_key, cron_expression, description, enabled, created_at, updated_at
		 FROM jobs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateJob(ctx context.Context, j ScheduledJob) (ScheduledJob, error) {
	j.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET name=?, job_type_key=?, cron_expression=?, description=?, enabled=?, updated_at=?
		 WHERE id=?`,
		j.Name, j.JobTypeKey, j.CronExpression, nullStr(j.Description), boolInt(j.Enabled),
		fmtTime(j.UpdatedAt), j.ID,
	)
	if err != nil {
		return ScheduledJob{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ScheduledJob{}, err
	}
	if n == 0 {
		return ScheduledJob{}, ErrNotFound
	}
	return s.GetJob(ctx, j.ID)
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) SetJobEnabled(ctx context.Context, id int64, enabled bool) (ScheduledJob, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET enabled=?, updated_at=? WHERE id=?`,
		boolInt(enabled), fmtTime(time.Now()), id,
	)
	if err != nil {
		return ScheduledJob{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ScheduledJob{}, err
	}
	if n == 0 {
		return ScheduledJob{}, ErrNotFound
	}
	return s.GetJob(ctx, id)
}

// ---- executions ----

func (s *sqliteStore) CreateExecution(ctx context.Context, e JobExecution) (JobExecution, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_executions(job_id, status, started_at, completed_at, result_message, error_message, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		e.JobID, string(e.Status), fmtTime(e.StartedAt), nullTime(e.CompletedAt),
		nullStr(e.ResultMessage), nullStr(e.ErrorMessage), fmtTime(e.CreatedAt),
	)
	if err != nil {
		return JobExecution{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return JobExecution{}, err
	}
	e.ID = id
	return e, nil
}

func (s *sqliteStore) GetExecution(ctx context.Context, id int64) (JobExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, status, started_at, completed_at, result_message, error_message, created_at
		 FROM job_executions WHERE id = ?`, id)
	return scanExecution(row)
}

func (s *sqliteStore) UpdateExecution(ctx context.Context, e JobExecution) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_executions SET status=?, started_at=?, completed_at=?, result_message=?, error_message=?
		 WHERE id=?`,
		string(e.Status), fmtTime(e.StartedAt), nullTime(e.CompletedAt),
		nullStr(e.ResultMessage), nullStr(e.ErrorMessage), e.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListExecutions(ctx context.Context, jobID int64, limit int) ([]JobExecution, error) {
	q := `SELECT id, job_id, status, started_at, completed_at, result_message, error_message, created_at
		 FROM job_executions WHERE job_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{jobID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LatestExecution(ctx context.Context, jobID int64) (JobExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, status, started_at, completed_at, result_message, error_message, created_at
		 FROM job_executions WHERE job_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, jobID)
	return scanExecution(row)
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (ScheduledJob, error) {
	var (
		j       ScheduledJob
		desc    sql.NullString
		enabled int
		created string
		updated string
	)
	err := r.Scan(&j.ID, &j.Name, &j.JobTypeKey, &j.CronExpression, &desc, &enabled, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduledJob{}, ErrNotFound
	}
	if err != nil {
		return ScheduledJob{}, err
	}
	j.Description = desc.String
	j.Enabled = enabled != 0
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	return j, nil
}

func scanExecution(r rowScanner) (JobExecution, error) {
	var (
		e         JobExecution
		status    string
		started   string
		completed sql.NullString
		result    sql.NullString
		errMsg    sql.NullString
		created   string
	)
	err := r.Scan(&e.ID, &e.JobID, &status, &started, &completed, &result, &errMsg, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return JobExecution{}, ErrNotFound
	}
	if err != nil {
		return JobExecution{}, err
	}
	e.Status = ExecStatus(status)
	e.StartedAt = parseTime(started)
	if completed.Valid {
		t := parseTime(completed.String)
		e.CompletedAt = &t
	}
	e.ResultMessage = result.String
	e.ErrorMessage = errMsg.String
	e.CreatedAt = parseTime(created)
	return e, nil
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return fmtTime(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
