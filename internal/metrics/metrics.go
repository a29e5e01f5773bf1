package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopatchd",
			Subsystem: "runs",
			Name:      "started_total",
			Help:      "Number of patch runs started.",
		}, []string{"env", "trigger"},
	)
	runsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopatchd",
			Subsystem: "runs",
			Name:      "completed_total",
			Help:      "Number of patch runs completed, by final status.",
		}, []string{"env", "status"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autopatchd",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of completed patch runs.",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"env"},
	)
	runsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "autopatchd",
			Subsystem: "runs",
			Name:      "active",
			Help:      "Patch runs currently executing, per environment.",
		}, []string{"env"},
	)
	schedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autopatchd",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Number of scheduler evaluation passes.",
		},
	)
	schedulerTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopatchd",
			Subsystem: "scheduler",
			Name:      "triggers_total",
			Help:      "Number of runs launched by the scheduler.",
		}, []string{"env"},
	)
	engineCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "autopatchd",
			Subsystem: "engine",
			Name:      "cpu_percent",
			Help:      "CPU usage of the running patch engine process.",
		}, []string{"env"},
	)
	engineMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "autopatchd",
			Subsystem: "engine",
			Name:      "memory_mb",
			Help:      "Resident memory of the running patch engine process in MB.",
		}, []string{"env"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runsStarted, runsCompleted, runDuration, runsActive, schedulerTicks, schedulerTriggers, engineCPUPercent, engineMemoryMB}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRunStarted(env, trigger string) {
	if regOK.Load() {
		runsStarted.WithLabelValues(env, trigger).Inc()
	}
}
func IncRunCompleted(env, status string) {
	if regOK.Load() {
		runsCompleted.WithLabelValues(env, status).Inc()
	}
}
func ObserveRunDuration(env string, seconds float64) {
	if regOK.Load() {
		runDuration.WithLabelValues(env).Observe(seconds)
	}
}
func AddActiveRun(env string, delta int) {
	if regOK.Load() {
		runsActive.WithLabelValues(env).Add(float64(delta))
	}
}
func IncSchedulerTick() {
	if regOK.Load() {
		schedulerTicks.Inc()
	}
}
func IncSchedulerTrigger(env string) {
	if regOK.Load() {
		schedulerTriggers.WithLabelValues(env).Inc()
	}
}
func SetEngineUsage(env string, cpuPercent, memoryMB float64) {
	if regOK.Load() {
		engineCPUPercent.WithLabelValues(env).Set(cpuPercent)
		engineMemoryMB.WithLabelValues(env).Set(memoryMB)
	}
}
func ClearEngineUsage(env string) {
	if regOK.Load() {
		engineCPUPercent.DeleteLabelValues(env)
		engineMemoryMB.DeleteLabelValues(env)
	}
}
