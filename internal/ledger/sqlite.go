package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB implements Store on SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file; ":memory:" works for tests.

type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if p == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (l *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			env TEXT NOT NULL,
			dry_run INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NULL,
			status TEXT NOT NULL,
			total_targets INTEGER NOT NULL DEFAULT 0,
			ok_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			skipped_count INTEGER NOT NULL DEFAULT 0,
			success_pct REAL NOT NULL DEFAULT 0,
			report_json TEXT NULL,
			report_xlsx TEXT NULL,
			message TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_env ON runs(env);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS schedules(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			env TEXT NOT NULL,
			base_path TEXT NOT NULL,
			dry_run INTEGER NOT NULL,
			max_workers INTEGER NOT NULL,
			probe_timeout REAL NOT NULL,
			day_of_week TEXT NOT NULL,
			time_hhmm TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_trigger_key TEXT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := l.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (l *DB) Close() error { return l.db.Close() }

func (l *DB) InsertRunning(ctx context.Context, env string, dryRun bool, message string) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO runs(env, dry_run, started_at, status, message)
		VALUES(?, ?, ?, ?, ?);`,
		env, boolToInt(dryRun), time.Now().UTC(), string(StatusRunning), message)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CompleteRun writes the terminal state for a run. The RUNNING guard makes
// the update one-shot: a second reconciliation attempt for the same id
// matches zero rows and leaves the terminal state untouched.
func (l *DB) CompleteRun(ctx context.Context, id int64, out Outcome) error {
	if out.Status != StatusOK && out.Status != StatusFailed {
		return fmt.Errorf("non-terminal status %q for run %d", out.Status, id)
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE runs
		SET run_id=?, finished_at=?, status=?, total_targets=?, ok_count=?,
			failed_count=?, skipped_count=?, success_pct=?, report_json=?,
			report_xlsx=?, message=?
		WHERE id=? AND status=?;`,
		nullStr(out.RunID), time.Now().UTC(), string(out.Status), out.TotalTargets,
		out.OKCount, out.FailedCount, out.SkippedCount, out.SuccessPct,
		nullStr(out.ReportJSON), nullStr(out.ReportXLSX), out.Message,
		id, string(StatusRunning))
	return err
}

func (l *DB) GetRun(ctx context.Context, id int64) (Run, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, run_id, env, dry_run, started_at, finished_at, status,
			total_targets, ok_count, failed_count, skipped_count, success_pct,
			report_json, report_xlsx, message
		FROM runs WHERE id=?;`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	return r, err
}

func (l *DB) ListRuns(ctx context.Context, limit int, env string) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, run_id, env, dry_run, started_at, finished_at, status,
			total_targets, ok_count, failed_count, skipped_count, success_pct,
			report_json, report_xlsx, message
		FROM runs`
	args := []any{}
	if env != "" {
		q += ` WHERE env=?`
		args = append(args, env)
	}
	q += ` ORDER BY id DESC LIMIT ?;`
	args = append(args, limit)
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *DB) InsertSchedule(ctx context.Context, s Schedule) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO schedules(name, env, base_path, dry_run, max_workers,
			probe_timeout, day_of_week, time_hhmm, enabled)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		s.Name, s.Env, s.BasePath, boolToInt(s.DryRun), s.MaxWorkers,
		s.ProbeTimeout, s.DayOfWeek, s.TimeHHMM, boolToInt(s.Enabled))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (l *DB) ListSchedules(ctx context.Context, env string) ([]Schedule, error) {
	q := `
		SELECT id, name, env, base_path, dry_run, max_workers, probe_timeout,
			day_of_week, time_hhmm, enabled, last_trigger_key
		FROM schedules`
	args := []any{}
	if env != "" {
		q += ` WHERE env=?`
		args = append(args, env)
	}
	q += ` ORDER BY id;`
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSchedules(rows)
}

func (l *DB) EnabledSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, name, env, base_path, dry_run, max_workers, probe_timeout,
			day_of_week, time_hhmm, enabled, last_trigger_key
		FROM schedules WHERE enabled=1 ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSchedules(rows)
}

func (l *DB) ToggleSchedule(ctx context.Context, id int64) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE schedules SET enabled = 1 - enabled WHERE id=?;`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

func (l *DB) SetTriggerKey(ctx context.Context, id int64, key string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE schedules SET last_trigger_key=? WHERE id=?;`, key, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r          Run
		runID      sql.NullString
		dryRun     int
		finishedAt sql.NullTime
		reportJSON sql.NullString
		reportXLSX sql.NullString
		message    sql.NullString
		status     string
	)
	err := row.Scan(&r.ID, &runID, &r.Env, &dryRun, &r.StartedAt, &finishedAt,
		&status, &r.TotalTargets, &r.OKCount, &r.FailedCount, &r.SkippedCount,
		&r.SuccessPct, &reportJSON, &reportXLSX, &message)
	if err != nil {
		return Run{}, err
	}
	r.RunID = runID.String
	r.DryRun = dryRun != 0
	r.Status = RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	r.ReportJSON = reportJSON.String
	r.ReportXLSX = reportXLSX.String
	r.Message = message.String
	return r, nil
}

func scanSchedules(rows *sql.Rows) ([]Schedule, error) {
	out := make([]Schedule, 0)
	for rows.Next() {
		var (
			s       Schedule
			dryRun  int
			enabled int
			key     sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Env, &s.BasePath, &dryRun,
			&s.MaxWorkers, &s.ProbeTimeout, &s.DayOfWeek, &s.TimeHHMM,
			&enabled, &key); err != nil {
			return nil, err
		}
		s.DryRun = dryRun != 0
		s.Enabled = enabled != 0
		s.LastTriggerKey = key.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
