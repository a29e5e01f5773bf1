package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jlindqvist/autopatchd/internal/env"
	"github.com/jlindqvist/autopatchd/internal/history"
	"github.com/jlindqvist/autopatchd/internal/ledger"
	"github.com/jlindqvist/autopatchd/internal/logger"
	"github.com/jlindqvist/autopatchd/internal/metrics"
	"github.com/jlindqvist/autopatchd/internal/report"
)

// messageLimit caps the combined engine output stored on the run row.
const messageLimit = 4000

// Config locates the patch engine and its report output.
type Config struct {
	Python     string  `mapstructure:"python"`      // interpreter, default "python3"
	Script     string  `mapstructure:"script"`      // entry point, default "main.py"
	WorkDir    string  `mapstructure:"work_dir"`    // engine checkout, cwd for the process
	ReportsDir string  `mapstructure:"reports_dir"` // where the engine writes artifacts
	Env        env.Var `mapstructure:"env"`         // extra variables for the engine, ${VAR} expanded
}

func (c Config) withDefaults() Config {
	if c.Python == "" {
		c.Python = "python3"
	}
	if c.Script == "" {
		c.Script = "main.py"
	}
	if c.ReportsDir == "" && c.WorkDir != "" {
		c.ReportsDir = filepath.Join(c.WorkDir, "reports")
	}
	return c
}

// Options parameterizes one engine invocation.
type Options struct {
	Env          string  `json:"env"`
	BasePath     string  `json:"base_path"`
	MaxWorkers   int     `json:"max_workers"`
	ProbeTimeout float64 `json:"probe_timeout"`
	DryRun       bool    `json:"dry_run"`
	Trigger      string  `json:"trigger,omitempty"` // "manual" or "schedule"
}

func (o Options) validate() error {
	switch {
	case o.Env == "":
		return errors.New("env is required")
	case o.BasePath == "":
		return errors.New("base path is required")
	case o.MaxWorkers < 1:
		return fmt.Errorf("max workers %d out of range", o.MaxWorkers)
	case o.ProbeTimeout <= 0:
		return fmt.Errorf("probe timeout %v out of range", o.ProbeTimeout)
	}
	return nil
}

func (o Options) trigger() string {
	if o.Trigger == "" {
		return "manual"
	}
	return o.Trigger
}

// Launcher starts detached engine processes and reconciles their outcome
// into the run ledger. One goroutine follows each live run; the run row is
// completed exactly once regardless of how the process ends.
type Launcher struct {
	store   ledger.Store
	cfg     Config
	sink    history.Sink
	sampler *metrics.EngineSampler
	logCfg  logger.Config
	procEnv *env.Env
	wg      sync.WaitGroup
}

func New(store ledger.Store, cfg Config) *Launcher {
	cfg = cfg.withDefaults()
	pe := env.New()
	for k, v := range cfg.Env {
		pe.Set(k, v)
	}
	return &Launcher{store: store, cfg: cfg, procEnv: pe}
}

// SetHistorySink wires an optional run event sink.
func (l *Launcher) SetHistorySink(s history.Sink) { l.sink = s }

// SetSampler wires an optional engine resource sampler.
func (l *Launcher) SetSampler(s *metrics.EngineSampler) { l.sampler = s }

// SetEngineLog configures rotated files capturing engine output.
func (l *Launcher) SetEngineLog(c logger.Config) { l.logCfg = c }

// Enqueue records a RUNNING run row and starts the engine in the
// background. It returns as soon as the row exists; the caller never waits
// for the engine. A spawn failure is reconciled to FAILED like any other
// outcome, so no row is left RUNNING without a live process behind it.
func (l *Launcher) Enqueue(ctx context.Context, opts Options) (ledger.Run, error) {
	if err := opts.validate(); err != nil {
		return ledger.Run{}, err
	}
	id, err := l.store.InsertRunning(ctx, opts.Env, opts.DryRun, "")
	if err != nil {
		return ledger.Run{}, err
	}
	run, err := l.store.GetRun(ctx, id)
	if err != nil {
		return ledger.Run{}, err
	}

	metrics.IncRunStarted(opts.Env, opts.trigger())
	metrics.AddActiveRun(opts.Env, 1)
	l.emit(history.EventRunStarted, run)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.execute(id, run.StartedAt, opts)
	}()

	slog.Info("run enqueued", "id", id, "env", opts.Env, "dry_run", opts.DryRun, "trigger", opts.trigger())
	return run, nil
}

// Wait blocks until all in-flight reconciliations finish or ctx expires.
func (l *Launcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Launcher) args(opts Options) []string {
	args := []string{
		l.cfg.Script,
		"--env", opts.Env,
		"--base-path", opts.BasePath,
		"--max-workers", strconv.Itoa(opts.MaxWorkers),
		"--probe-timeout", strconv.FormatFloat(opts.ProbeTimeout, 'f', -1, 64),
		"--no-color",
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	return args
}

func (l *Launcher) execute(id int64, startedAt time.Time, opts Options) {
	ctx := context.Background()

	outTail := newTailWriter(messageLimit)
	errTail := newTailWriter(messageLimit)

	cmd := exec.Command(l.cfg.Python, l.args(opts)...)
	cmd.Dir = l.cfg.WorkDir
	cmd.Env = l.procEnv.Merge([]string{
		"AUTOPATCH_RUN_ID=" + strconv.FormatInt(id, 10),
		"AUTOPATCH_TRIGGER=" + opts.trigger(),
	})
	detach(cmd)

	var stdout io.Writer = outTail
	var stderr io.Writer = errTail
	if ow, ew, err := l.logCfg.EngineWriters(fmt.Sprintf("%s-%d", opts.Env, id)); err == nil {
		if ow != nil {
			stdout = io.MultiWriter(outTail, ow)
			defer func() { _ = ow.Close() }()
		}
		if ew != nil {
			stderr = io.MultiWriter(errTail, ew)
			defer func() { _ = ew.Close() }()
		}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		slog.Error("engine spawn failed", "id", id, "env", opts.Env, "err", err)
		l.finish(ctx, id, startedAt, opts, ledger.Outcome{
			Status:  ledger.StatusFailed,
			Message: "engine spawn failed: " + err.Error(),
		})
		return
	}
	slog.Info("engine started", "id", id, "env", opts.Env, "pid", cmd.Process.Pid)
	if l.sampler != nil {
		l.sampler.Watch(opts.Env, cmd.Process.Pid)
	}

	waitErr := cmd.Wait()
	l.finish(ctx, id, startedAt, opts, l.reconcile(opts, waitErr, outTail, errTail))
}

// reconcile derives the terminal outcome from the exit status and the
// newest report artifacts. A run only counts as OK when the engine exited
// zero, the report parsed, and no target failed.
func (l *Launcher) reconcile(opts Options, waitErr error, outTail, errTail *tailWriter) ledger.Outcome {
	out := ledger.Outcome{Status: ledger.StatusOK}
	if waitErr != nil {
		out.Status = ledger.StatusFailed
	}
	message := outTail.String() + "\n" + errTail.String()

	jsonFile, err := report.Latest(l.cfg.ReportsDir, opts.Env, "json")
	if err != nil {
		slog.Warn("report directory unreadable", "dir", l.cfg.ReportsDir, "err", err)
	}
	if xlsxFile, err := report.Latest(l.cfg.ReportsDir, opts.Env, "xlsx"); err == nil && xlsxFile != "" {
		out.ReportXLSX = filepath.Join(l.cfg.ReportsDir, xlsxFile)
	}
	if jsonFile != "" {
		out.ReportJSON = filepath.Join(l.cfg.ReportsDir, jsonFile)
		r, err := report.Load(out.ReportJSON)
		if err != nil {
			out.Status = ledger.StatusFailed
			message += "\ncould not read report: " + err.Error()
		} else {
			sum := report.Summarize(r)
			out.RunID = r.RunID
			out.TotalTargets = sum.Total
			out.OKCount = sum.OK
			out.FailedCount = sum.Failed
			out.SkippedCount = sum.Skipped
			out.SuccessPct = sum.SuccessPct
			if sum.Failed > 0 {
				out.Status = ledger.StatusFailed
			}
		}
	}
	if len(message) > messageLimit {
		message = message[len(message)-messageLimit:]
	}
	out.Message = message
	return out
}

func (l *Launcher) finish(ctx context.Context, id int64, startedAt time.Time, opts Options, out ledger.Outcome) {
	if err := l.store.CompleteRun(ctx, id, out); err != nil {
		slog.Error("run reconciliation failed", "id", id, "err", err)
	}
	metrics.AddActiveRun(opts.Env, -1)
	metrics.IncRunCompleted(opts.Env, string(out.Status))
	metrics.ObserveRunDuration(opts.Env, time.Since(startedAt).Seconds())

	run, err := l.store.GetRun(ctx, id)
	if err == nil {
		l.emit(history.EventRunCompleted, run)
	}
	slog.Info("run completed", "id", id, "env", opts.Env, "status", out.Status,
		"ok", out.OKCount, "failed", out.FailedCount, "skipped", out.SkippedCount)
}

func (l *Launcher) emit(typ history.EventType, run ledger.Run) {
	if l.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.sink.Send(ctx, history.Event{Type: typ, OccurredAt: time.Now().UTC(), Run: run}); err != nil {
		slog.Warn("history event send failed", "type", typ, "id", run.ID, "err", err)
	}
}

// tailWriter keeps the last limit bytes written. Safe for the single writer
// goroutine the exec package uses per stream.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailWriter(limit int) *tailWriter {
	return &tailWriter{limit: limit}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
