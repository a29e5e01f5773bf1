package autopatchd

import (
	"context"
	"net/http"
	"time"

	cfg "github.com/jlindqvist/autopatchd/internal/config"
	"github.com/jlindqvist/autopatchd/internal/history"
	"github.com/jlindqvist/autopatchd/internal/inventory"
	"github.com/jlindqvist/autopatchd/internal/launcher"
	"github.com/jlindqvist/autopatchd/internal/ldapauth"
	"github.com/jlindqvist/autopatchd/internal/ledger"
	"github.com/jlindqvist/autopatchd/internal/metrics"
	"github.com/jlindqvist/autopatchd/internal/scheduler"
	iapi "github.com/jlindqvist/autopatchd/internal/server"
	"github.com/jlindqvist/autopatchd/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Run = ledger.Run

type Schedule = ledger.Schedule

type RunOptions = launcher.Options

type EngineConfig = launcher.Config

type HistorySink = history.Sink

type DirectoryConfig = ldapauth.Config

type RunDefaults = iapi.RunDefaults

// Orchestrator is a thin facade over the run ledger, engine launcher and
// weekly scheduler. It provides a stable public API for embedding.

type Orchestrator struct {
	store  *ledger.DB
	launch *launcher.Launcher
	sched  *scheduler.Scheduler
}

// Open creates an orchestrator backed by a SQLite ledger at path.
func Open(ledgerPath string, engine EngineConfig) (*Orchestrator, error) {
	store, err := ledger.Open(ledgerPath)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		_ = store.Close()
		return nil, err
	}
	launch := launcher.New(store, engine)
	return &Orchestrator{store: store, launch: launch, sched: scheduler.New(store, launch)}, nil
}

// SetHistorySink wires run lifecycle events to an external sink.
func (o *Orchestrator) SetHistorySink(s HistorySink) { o.launch.SetHistorySink(s) }

func (o *Orchestrator) StartRun(ctx context.Context, opts RunOptions) (Run, error) {
	return o.launch.Enqueue(ctx, opts)
}

func (o *Orchestrator) Run(ctx context.Context, id int64) (Run, error) {
	return o.store.GetRun(ctx, id)
}

func (o *Orchestrator) Runs(ctx context.Context, limit int, env string) ([]Run, error) {
	return o.store.ListRuns(ctx, limit, env)
}

func (o *Orchestrator) AddSchedule(ctx context.Context, s Schedule) (int64, error) {
	return o.store.InsertSchedule(ctx, s)
}

func (o *Orchestrator) Schedules(ctx context.Context, env string) ([]Schedule, error) {
	return o.store.ListSchedules(ctx, env)
}

func (o *Orchestrator) ToggleSchedule(ctx context.Context, id int64) error {
	return o.store.ToggleSchedule(ctx, id)
}

// StartScheduler begins firing enabled schedules. Safe to call once.
func (o *Orchestrator) StartScheduler() { o.sched.Start() }

// Wait blocks until all in-flight runs have reconciled or ctx expires.
func (o *Orchestrator) Wait(ctx context.Context) error { return o.launch.Wait(ctx) }

// Close stops the scheduler and releases the ledger.
func (o *Orchestrator) Close() error {
	o.sched.Stop()
	return o.store.Close()
}

func LoadConfig(path string) (cfg.Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the daemon API backed by
// this orchestrator. Authentication goes against the given directory;
// sessionSecret seals the session cookies.
func NewHTTPServer(addr, basePath string, o *Orchestrator, dir DirectoryConfig, sessionSecret string, defaults RunDefaults, inv inventory.Config) (*http.Server, error) {
	router := iapi.NewRouter(
		o.store,
		o.launch,
		ldapauth.NewVerifier(dir, nil),
		inventory.NewRunner(inv),
		session.NewCodec(sessionSecret, 0),
		defaults,
		basePath,
	)
	return iapi.NewServer(addr, router)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
