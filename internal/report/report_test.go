package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	r := &Report{
		Standalone: Standalone{Items: []HostItem{
			{Host: "a", Patch: PatchResult{Status: "OK"}},
			{Host: "b", Patch: PatchResult{Status: "OK"}},
			{Host: "c", Patch: PatchResult{Status: "FAILED"}},
			{Host: "d", Patch: PatchResult{Status: "SKIPPED"}},
		}},
		Clusters: Clusters{Summary: []ClusterOutcome{
			{Cluster: "web", Status: "OK"},
		}},
	}
	s := Summarize(r)
	if s.OK != 3 || s.Failed != 1 || s.Skipped != 1 || s.Total != 5 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.SuccessPct != 60.0 {
		t.Fatalf("success pct: got %v want 60.0", s.SuccessPct)
	}
}

func TestSummarizeEmptyAndUnknownStatus(t *testing.T) {
	if s := Summarize(&Report{}); s.Total != 0 || s.SuccessPct != 0 {
		t.Fatalf("empty report: %+v", s)
	}
	r := &Report{Standalone: Standalone{Items: []HostItem{
		{Host: "a", Patch: PatchResult{Status: ""}},
		{Host: "b", Patch: PatchResult{Status: "WEIRD"}},
		{Host: "c", Patch: PatchResult{Status: "OK"}},
	}}}
	s := Summarize(r)
	if s.Skipped != 2 || s.Total != 3 {
		t.Fatalf("unknown statuses must count as skipped: %+v", s)
	}
	if s.SuccessPct != 33.3 {
		t.Fatalf("success pct: got %v want 33.3", s.SuccessPct)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "autopatch_qa_20260901.json")
	body := `{"env":"qa","run_id":"20260901T0200","dry_run":true,
		"standalone":{"items":[{"host":"a","patch":{"status":"OK","duration":12.5}}]},
		"clusters":{"summary":[],"members":[]}}`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.RunID != "20260901T0200" || !r.DryRun || len(r.Standalone.Items) != 1 {
		t.Fatalf("unexpected report: %+v", r)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "autopatch_qa_1.json")
	fresh := filepath.Join(dir, "autopatch_qa_2.json")
	for _, p := range []string{old, fresh,
		filepath.Join(dir, "autopatch_prod_9.json"),
		filepath.Join(dir, "autopatch_qa_3.xlsx"),
	} {
		if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// Directory read order must not matter, only mtime.
	base := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, base.Add(time.Minute), base.Add(time.Minute)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(fresh, base.Add(2*time.Minute), base.Add(2*time.Minute)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	name, err := Latest(dir, "qa", "json")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if name != "autopatch_qa_2.json" {
		t.Fatalf("latest json: got %q", name)
	}
	name, err = Latest(dir, "qa", "xlsx")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if name != "autopatch_qa_3.xlsx" {
		t.Fatalf("latest xlsx: got %q", name)
	}
	name, err = Latest(dir, "stage", "json")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if name != "" {
		t.Fatalf("expected no match, got %q", name)
	}
}
