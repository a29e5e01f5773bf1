package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jlindqvist/autopatchd/internal/launcher"
	"github.com/jlindqvist/autopatchd/internal/ledger"
	"github.com/jlindqvist/autopatchd/internal/metrics"
)

// TickInterval is how often enabled schedules are evaluated. The dedupe
// key is minute-granular, so any interval below one minute is safe.
const TickInterval = 15 * time.Second

var dayMap = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// Launcher starts runs; satisfied by *launcher.Launcher.
type Launcher interface {
	Enqueue(ctx context.Context, opts launcher.Options) (ledger.Run, error)
}

// Scheduler fires enabled schedules at their weekly slot. Every firing
// writes a trigger key "{id}:{YYYYMMDDHHMM}" back to the store before the
// next evaluation, so a slot fires at most once even across restarts.
type Scheduler struct {
	store   ledger.Store
	launch  Launcher
	started atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

func New(store ledger.Store, launch Launcher) *Scheduler {
	return &Scheduler{
		store:  store,
		launch: launch,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start begins the evaluation loop. Calling it more than once is a no-op.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick(s.now())
			}
		}
	}()
	slog.Info("scheduler started", "interval", TickInterval)
}

// Stop ends the loop and waits for a tick in flight.
func (s *Scheduler) Stop() {
	if !s.started.Load() {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

// tick evaluates every enabled schedule against one instant.
func (s *Scheduler) tick(now time.Time) {
	metrics.IncSchedulerTick()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schedules, err := s.store.EnabledSchedules(ctx)
	if err != nil {
		slog.Error("schedule load failed", "err", err)
		return
	}

	hhmm := now.Format("15:04")
	dedupe := now.Format("200601021504")

	for _, item := range schedules {
		wd, ok := dayMap[item.DayOfWeek]
		if !ok {
			slog.Warn("schedule has unknown day of week", "id", item.ID, "day", item.DayOfWeek)
			continue
		}
		if wd != now.Weekday() || item.TimeHHMM != hhmm {
			continue
		}

		key := fmt.Sprintf("%d:%s", item.ID, dedupe)
		if item.LastTriggerKey == key {
			continue
		}

		_, err := s.launch.Enqueue(ctx, launcher.Options{
			Env:          item.Env,
			BasePath:     item.BasePath,
			MaxWorkers:   item.MaxWorkers,
			ProbeTimeout: item.ProbeTimeout,
			DryRun:       item.DryRun,
			Trigger:      "schedule",
		})
		if err != nil {
			// key stays unset so the slot is retried on the next tick
			slog.Error("scheduled run enqueue failed", "id", item.ID, "env", item.Env, "err", err)
			continue
		}
		metrics.IncSchedulerTrigger(item.Env)
		if err := s.store.SetTriggerKey(ctx, item.ID, key); err != nil {
			slog.Error("trigger key persist failed", "id", item.ID, "key", key, "err", err)
		}
		slog.Info("schedule fired", "id", item.ID, "name", item.Name, "env", item.Env, "key", key)
	}
}
