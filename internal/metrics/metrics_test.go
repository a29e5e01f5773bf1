package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncRunStarted("qa", "manual")
	IncRunStarted("qa", "schedule")
	IncRunCompleted("qa", "OK")
	ObserveRunDuration("qa", 42.5)
	AddActiveRun("qa", 1)
	AddActiveRun("qa", -1)
	IncSchedulerTick()
	IncSchedulerTrigger("qa")
	SetEngineUsage("qa", 12.5, 256)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"autopatchd_runs_started_total":       false,
		"autopatchd_runs_completed_total":     false,
		"autopatchd_runs_duration_seconds":    false,
		"autopatchd_runs_active":              false,
		"autopatchd_scheduler_ticks_total":    false,
		"autopatchd_scheduler_triggers_total": false,
		"autopatchd_engine_cpu_percent":       false,
		"autopatchd_engine_memory_mb":         false,
	}
	for _, mf := range mfs {
		if _, ok := wantNames[mf.GetName()]; ok {
			wantNames[mf.GetName()] = true
		}
	}
	for name, seen := range wantNames {
		if !seen {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	_ = Register(prometheus.DefaultRegisterer)
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("expected default collector output")
	}
}

func TestEngineSamplerStopsWhenProcessExits(t *testing.T) {
	if os.Getenv("CI") != "" {
		t.Skip("process timing is unreliable on shared runners")
	}
	_ = Register(prometheus.DefaultRegisterer)

	cmd := exec.Command("sleep", "1")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	s := NewEngineSampler(100 * time.Millisecond)
	s.Watch("qa", cmd.Process.Pid)

	_ = cmd.Wait()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sampler did not stop after process exit")
	}
}
