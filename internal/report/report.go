package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Report mirrors the JSON document the patch engine writes next to its
// spreadsheet artifact after every run.
type Report struct {
	Env         string     `json:"env"`
	RunID       string     `json:"run_id"`
	DryRun      bool       `json:"dry_run"`
	GeneratedAt string     `json:"generated_at"`
	Standalone  Standalone `json:"standalone"`
	Clusters    Clusters   `json:"clusters"`
}

type Standalone struct {
	Items []HostItem `json:"items"`
}

type Clusters struct {
	Summary []ClusterOutcome `json:"summary"`
	Members []ClusterMember  `json:"members"`
}

// HostItem is one standalone host with its connectivity probe and patch
// outcome.
type HostItem struct {
	Host  string      `json:"host"`
	Probe Probe       `json:"probe"`
	Patch PatchResult `json:"patch"`
}

type Probe struct {
	PingOK           bool    `json:"ping_ok"`
	SSHOK            bool    `json:"ssh_ok"`
	SSHLoginOK       *bool   `json:"ssh_login_ok"`
	UsedUser         *string `json:"used_user"`
	AutopatchEnabled bool    `json:"autopatch_enabled"`
	FreeIPAManaged   bool    `json:"freeipa_managed"`
}

type PatchResult struct {
	Status      string   `json:"status"`
	Reason      string   `json:"reason"`
	Duration    float64  `json:"duration"`
	FailedHosts []string `json:"failed_hosts"`
}

type ClusterOutcome struct {
	Cluster       string   `json:"cluster"`
	Status        string   `json:"status"`
	Reason        string   `json:"reason"`
	DurationTotal float64  `json:"duration_total"`
	FailedHosts   []string `json:"failed_hosts"`
	Batches       []Batch  `json:"batches"`
}

type Batch struct {
	User        string   `json:"user"`
	Duration    float64  `json:"duration"`
	FailedHosts []string `json:"failed_hosts"`
}

type ClusterMember struct {
	Cluster          string  `json:"cluster"`
	Host             string  `json:"host"`
	PingOK           bool    `json:"ping_ok"`
	SSHOK            bool    `json:"ssh_ok"`
	SSHLoginOK       *bool   `json:"ssh_login_ok"`
	UsedUser         *string `json:"used_user"`
	AutopatchEnabled bool    `json:"autopatch_enabled"`
	FreeIPAManaged   bool    `json:"freeipa_managed"`
}

// Summary aggregates the per-target outcomes of a report. Standalone
// hosts and cluster rollups each count as one target.
type Summary struct {
	OK         int
	Failed     int
	Skipped    int
	Total      int
	SuccessPct float64
}

// Summarize counts target statuses across standalone items and cluster
// summaries. Anything that is not OK or FAILED counts as skipped. The
// success percentage is rounded to one decimal.
func Summarize(r *Report) Summary {
	var s Summary
	count := func(status string) {
		switch status {
		case "OK":
			s.OK++
		case "FAILED":
			s.Failed++
		default:
			s.Skipped++
		}
		s.Total++
	}
	for _, it := range r.Standalone.Items {
		count(it.Patch.Status)
	}
	for _, co := range r.Clusters.Summary {
		count(co.Status)
	}
	if s.Total > 0 {
		s.SuccessPct = math.Round(float64(s.OK)/float64(s.Total)*1000) / 10
	}
	return s
}

// Load reads and parses an engine report file.
func Load(path string) (*Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

// Latest returns the name of the newest artifact for env with the given
// extension (without the dot), or "" when the directory holds none. Engine
// artifacts are named autopatch_<env>_<run-id>.<ext>.
func Latest(dir, env, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	prefix := "autopatch_" + env + "_"
	suffix := "." + ext
	var (
		best  string
		newest time.Time
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(newest) {
			best = name
			newest = info.ModTime()
		}
	}
	return best, nil
}
