package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a lookup for a run or schedule id that does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the lifecycle state of a run row. Transitions are
// monotonic: RUNNING -> OK or RUNNING -> FAILED, never back.
type RunStatus string

const (
	StatusRunning RunStatus = "RUNNING"
	StatusOK      RunStatus = "OK"
	StatusFailed  RunStatus = "FAILED"
)

// Run represents one invocation of the patch engine against an environment.
// ID is assigned by the ledger; RunID is the engine's own identifier,
// recovered from the report during reconciliation.
type Run struct {
	ID           int64      `json:"id"`
	RunID        string     `json:"run_id,omitempty"`
	Env          string     `json:"env"`
	DryRun       bool       `json:"dry_run"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	TotalTargets int        `json:"total_targets"`
	OKCount      int        `json:"ok_count"`
	FailedCount  int        `json:"failed_count"`
	SkippedCount int        `json:"skipped_count"`
	SuccessPct   float64    `json:"success_pct"`
	ReportJSON   string     `json:"report_json,omitempty"`
	ReportXLSX   string     `json:"report_xlsx,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// Outcome carries the terminal result written by reconciliation.
type Outcome struct {
	RunID        string
	Status       RunStatus
	TotalTargets int
	OKCount      int
	FailedCount  int
	SkippedCount int
	SuccessPct   float64
	ReportJSON   string
	ReportXLSX   string
	Message      string
}

// Schedule is a recurring run definition. LastTriggerKey is the persisted
// dedupe marker "{id}:{YYYYMMDDHHMM}" written after a firing; it survives
// process restarts so the same calendar minute never fires twice.
type Schedule struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Env            string  `json:"env"`
	BasePath       string  `json:"base_path"`
	DryRun         bool    `json:"dry_run"`
	MaxWorkers     int     `json:"max_workers"`
	ProbeTimeout   float64 `json:"probe_timeout"`
	DayOfWeek      string  `json:"day_of_week"`
	TimeHHMM       string  `json:"time_hhmm"`
	Enabled        bool    `json:"enabled"`
	LastTriggerKey string  `json:"last_trigger_key,omitempty"`
}

// Store is the persistence contract for runs and schedules. All writes are
// single-row and atomic; each run row has exactly one writer after insert
// (the reconciliation step), so no multi-row transactions are needed.
type Store interface {
	EnsureSchema(ctx context.Context) error

	InsertRunning(ctx context.Context, env string, dryRun bool, message string) (int64, error)
	CompleteRun(ctx context.Context, id int64, out Outcome) error
	GetRun(ctx context.Context, id int64) (Run, error)
	ListRuns(ctx context.Context, limit int, env string) ([]Run, error)

	InsertSchedule(ctx context.Context, s Schedule) (int64, error)
	ListSchedules(ctx context.Context, env string) ([]Schedule, error)
	EnabledSchedules(ctx context.Context) ([]Schedule, error)
	ToggleSchedule(ctx context.Context, id int64) error
	SetTriggerKey(ctx context.Context, id int64, key string) error

	Close() error
}
