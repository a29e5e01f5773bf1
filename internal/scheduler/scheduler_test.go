package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jlindqvist/autopatchd/internal/launcher"
	"github.com/jlindqvist/autopatchd/internal/ledger"
)

type fakeLauncher struct {
	calls []launcher.Options
	err   error
}

func (f *fakeLauncher) Enqueue(_ context.Context, opts launcher.Options) (ledger.Run, error) {
	if f.err != nil {
		return ledger.Run{}, f.err
	}
	f.calls = append(f.calls, opts)
	return ledger.Run{ID: int64(len(f.calls)), Env: opts.Env, Status: ledger.StatusRunning}, nil
}

func newTestStore(t *testing.T) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func addSchedule(t *testing.T, db *ledger.DB, s ledger.Schedule) int64 {
	t.Helper()
	if s.Name == "" {
		s.Name = "nightly"
	}
	if s.BasePath == "" {
		s.BasePath = "/srv/autopatch"
	}
	if s.MaxWorkers == 0 {
		s.MaxWorkers = 2
	}
	if s.ProbeTimeout == 0 {
		s.ProbeTimeout = 5
	}
	id, err := db.InsertSchedule(context.Background(), s)
	if err != nil {
		t.Fatalf("insert schedule: %v", err)
	}
	return id
}

// Monday 2026-09-07 02:00 local time.
var monday0200 = time.Date(2026, 9, 7, 2, 0, 5, 0, time.Local)

func TestTickFiresMatchingSchedule(t *testing.T) {
	db := newTestStore(t)
	id := addSchedule(t, db, ledger.Schedule{
		Env: "qa", DayOfWeek: "mon", TimeHHMM: "02:00", Enabled: true, DryRun: true,
	})

	launch := &fakeLauncher{}
	s := New(db, launch)
	s.tick(monday0200)

	if len(launch.calls) != 1 {
		t.Fatalf("expected 1 enqueue, got %d", len(launch.calls))
	}
	got := launch.calls[0]
	if got.Env != "qa" || !got.DryRun || got.Trigger != "schedule" || got.MaxWorkers != 2 {
		t.Fatalf("unexpected options: %+v", got)
	}

	items, err := db.ListSchedules(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := fmt.Sprintf("%d:202609070200", id)
	if items[0].ID != id || items[0].LastTriggerKey != want {
		t.Fatalf("trigger key: got %q want %q", items[0].LastTriggerKey, want)
	}
}

func TestTickDedupesWithinMinute(t *testing.T) {
	db := newTestStore(t)
	addSchedule(t, db, ledger.Schedule{Env: "qa", DayOfWeek: "mon", TimeHHMM: "02:00", Enabled: true})

	launch := &fakeLauncher{}
	s := New(db, launch)
	s.tick(monday0200)
	s.tick(monday0200.Add(15 * time.Second))
	s.tick(monday0200.Add(30 * time.Second))

	if len(launch.calls) != 1 {
		t.Fatalf("same minute must fire once, got %d", len(launch.calls))
	}
}

func TestDedupeSurvivesRestart(t *testing.T) {
	db := newTestStore(t)
	addSchedule(t, db, ledger.Schedule{Env: "qa", DayOfWeek: "mon", TimeHHMM: "02:00", Enabled: true})

	first := &fakeLauncher{}
	New(db, first).tick(monday0200)
	if len(first.calls) != 1 {
		t.Fatalf("expected first fire")
	}

	// Fresh scheduler over the same store, same minute: the persisted key
	// must suppress a second fire.
	second := &fakeLauncher{}
	New(db, second).tick(monday0200.Add(20 * time.Second))
	if len(second.calls) != 0 {
		t.Fatalf("restart must not refire the slot, got %d", len(second.calls))
	}
}

func TestTickSkipsNonMatching(t *testing.T) {
	db := newTestStore(t)
	addSchedule(t, db, ledger.Schedule{Env: "a", DayOfWeek: "tue", TimeHHMM: "02:00", Enabled: true})
	addSchedule(t, db, ledger.Schedule{Env: "b", DayOfWeek: "mon", TimeHHMM: "02:01", Enabled: true})
	addSchedule(t, db, ledger.Schedule{Env: "c", DayOfWeek: "mon", TimeHHMM: "02:00", Enabled: false})
	addSchedule(t, db, ledger.Schedule{Env: "d", DayOfWeek: "someday", TimeHHMM: "02:00", Enabled: true})

	launch := &fakeLauncher{}
	New(db, launch).tick(monday0200)
	if len(launch.calls) != 0 {
		t.Fatalf("nothing should fire, got %+v", launch.calls)
	}
}

func TestEnqueueFailureRetriesNextTick(t *testing.T) {
	db := newTestStore(t)
	addSchedule(t, db, ledger.Schedule{Env: "qa", DayOfWeek: "mon", TimeHHMM: "02:00", Enabled: true})

	launch := &fakeLauncher{err: errors.New("ledger unavailable")}
	s := New(db, launch)
	s.tick(monday0200)

	// Enqueue failed, so the key was not persisted and the slot retries.
	launch.err = nil
	s.tick(monday0200.Add(15 * time.Second))
	if len(launch.calls) != 1 {
		t.Fatalf("expected retry to fire once, got %d", len(launch.calls))
	}
}

func TestStartIsIdempotentAndStops(t *testing.T) {
	db := newTestStore(t)
	s := New(db, &fakeLauncher{})
	s.Start()
	s.Start()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
