package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds one inventory summary invocation.
const DefaultTimeout = 30 * time.Second

// Server is one host in an environment inventory. Hosts outside any
// cluster group carry cluster "standalone".
type Server struct {
	Hostname string `json:"hostname"`
	Cluster  string `json:"cluster"`
	Env      string `json:"env"`
}

type Cluster struct {
	Name  string   `json:"name"`
	Nodes int      `json:"nodes"`
	Hosts []string `json:"hosts"`
}

// Summary is the JSON document the inventory helper prints.
type Summary struct {
	Env           string    `json:"env"`
	InventoryPath string    `json:"inventory_path"`
	ServerCount   int       `json:"server_count"`
	ClusterCount  int       `json:"cluster_count"`
	Servers       []Server  `json:"servers"`
	Clusters      []Cluster `json:"clusters"`
}

// Config locates the inventory helper script.
type Config struct {
	Python   string        `mapstructure:"python"`    // default "python3"
	Script   string        `mapstructure:"script"`    // default "inventory_summary.py"
	WorkDir  string        `mapstructure:"work_dir"`  // engine checkout
	BasePath string        `mapstructure:"base_path"` // ansible environments root
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Runner shells out to the inventory helper and parses its output.
type Runner struct {
	cfg Config
}

func NewRunner(cfg Config) *Runner {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Script == "" {
		cfg.Script = "inventory_summary.py"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Runner{cfg: cfg}
}

// Summarize returns the inventory for one environment.
func (r *Runner) Summarize(ctx context.Context, env string) (Summary, error) {
	env = strings.TrimSpace(env)
	if env == "" {
		return Summary{}, fmt.Errorf("env is required")
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := []string{r.cfg.Script, "--env", env}
	if r.cfg.BasePath != "" {
		args = append(args, "--base-path", r.cfg.BasePath)
	}
	cmd := exec.CommandContext(ctx, r.cfg.Python, args...)
	cmd.Dir = r.cfg.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Summary{}, fmt.Errorf("inventory summary for %s: %s", env, msg)
	}

	var s Summary
	if err := json.Unmarshal(stdout.Bytes(), &s); err != nil {
		return Summary{}, fmt.Errorf("parse inventory summary for %s: %w", env, err)
	}
	return s, nil
}
