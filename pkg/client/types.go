package client

import "time"

// RunRequest parameterizes a manual run. Zero-valued fields fall back to
// the daemon's configured defaults.
type RunRequest struct {
	Env          string  `json:"env,omitempty"`
	BasePath     string  `json:"base_path,omitempty"`
	MaxWorkers   int     `json:"max_workers,omitempty"`
	ProbeTimeout float64 `json:"probe_timeout,omitempty"`
	DryRun       bool    `json:"dry_run,omitempty"`
}

// Run is one patch engine invocation as recorded by the daemon.
type Run struct {
	ID           int64      `json:"id"`
	RunID        string     `json:"run_id,omitempty"`
	Env          string     `json:"env"`
	DryRun       bool       `json:"dry_run"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       string     `json:"status"`
	TotalTargets int        `json:"total_targets"`
	OKCount      int        `json:"ok_count"`
	FailedCount  int        `json:"failed_count"`
	SkippedCount int        `json:"skipped_count"`
	SuccessPct   float64    `json:"success_pct"`
	ReportJSON   string     `json:"report_json,omitempty"`
	ReportXLSX   string     `json:"report_xlsx,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// Schedule is a recurring run definition.
type Schedule struct {
	ID           int64   `json:"id,omitempty"`
	Name         string  `json:"name"`
	Env          string  `json:"env"`
	BasePath     string  `json:"base_path,omitempty"`
	DryRun       bool    `json:"dry_run,omitempty"`
	MaxWorkers   int     `json:"max_workers,omitempty"`
	ProbeTimeout float64 `json:"probe_timeout,omitempty"`
	DayOfWeek    string  `json:"day_of_week"`
	TimeHHMM     string  `json:"time_hhmm"`
	Enabled      bool    `json:"enabled"`
}

// User is the authenticated identity returned by login and whoami.
type User struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Groups      []string `json:"groups"`
}

// InventoryServer is one host known to an environment's inventory.
type InventoryServer struct {
	Hostname string `json:"hostname"`
	Cluster  string `json:"cluster"`
	Env      string `json:"env"`
}

// InventoryCluster groups hosts patched as one unit.
type InventoryCluster struct {
	Name  string   `json:"name"`
	Nodes int      `json:"nodes"`
	Hosts []string `json:"hosts"`
}

// InventorySummary describes an environment's patch targets.
type InventorySummary struct {
	Env           string             `json:"env"`
	InventoryPath string             `json:"inventory_path"`
	ServerCount   int                `json:"server_count"`
	ClusterCount  int                `json:"cluster_count"`
	Servers       []InventoryServer  `json:"servers"`
	Clusters      []InventoryCluster `json:"clusters"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
