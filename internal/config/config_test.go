package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autopatchd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ":9000"

[engine]
python = "python3"
script = "main.py"
work_dir = "/srv/autopatch"
reports_dir = "/srv/autopatch/reports"
base_path = "/srv/environments"
default_env = "prod"
default_max_workers = 4
default_probe_timeout = 3.5

[inventory]
script = "inventory_summary.py"
work_dir = "/srv/autopatch"
base_path = "/srv/environments"
timeout = "20s"

[ledger]
path = "/var/lib/autopatchd/ledger.db"

[metrics]
enabled = true
listen = ":9100"

[history]
sinks = ["sqlite:///var/lib/autopatchd/history.db", "clickhouse://ch:9000?table=run_history"]

[log]
level = "debug"
color = true

[log.file]
dir = "/var/log/autopatchd"
max_size_mb = 20
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Listen != ":9000" {
		t.Fatalf("server.listen: %q", c.Server.Listen)
	}
	if c.Engine.WorkDir != "/srv/autopatch" || c.Engine.BasePath != "/srv/environments" {
		t.Fatalf("engine: %+v", c.Engine)
	}
	if c.Engine.DefaultEnv != "prod" || c.Engine.DefaultMaxWorkers != 4 || c.Engine.DefaultProbeTimeout != 3.5 {
		t.Fatalf("engine defaults: %+v", c.Engine)
	}
	if c.Inventory.Timeout != 20*time.Second {
		t.Fatalf("inventory timeout: %v", c.Inventory.Timeout)
	}
	if c.Ledger.Path != "/var/lib/autopatchd/ledger.db" {
		t.Fatalf("ledger path: %q", c.Ledger.Path)
	}
	if !c.Metrics.Enabled || c.Metrics.Listen != ":9100" {
		t.Fatalf("metrics: %+v", c.Metrics)
	}
	if len(c.History.Sinks) != 2 {
		t.Fatalf("history sinks: %v", c.History.Sinks)
	}
	if c.Log.Level != "debug" || !c.Log.Color || c.Log.File.Dir != "/var/log/autopatchd" || c.Log.File.MaxSizeMB != 20 {
		t.Fatalf("log: %+v", c.Log)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "[engine]\nwork_dir = \"/srv/autopatch\"\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Listen != ":8080" || c.Ledger.Path != "autopatchd.db" || c.Metrics.Listen != ":9090" {
		t.Fatalf("defaults: %+v", c)
	}
	if c.Engine.DefaultEnv != "qa" || c.Engine.DefaultMaxWorkers != 2 || c.Engine.DefaultProbeTimeout != 5.0 {
		t.Fatalf("engine defaults: %+v", c.Engine)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error")
	}
}

func directoryEnv() map[string]string {
	return map[string]string{
		"FREEIPA_HOST":               "ipa.example.net",
		"FREEIPA_PORT":               "636",
		"FREEIPA_BASE_DN":            "dc=example,dc=net",
		"FREEIPA_BIND_DN":            "uid=svc,cn=users,dc=example,dc=net",
		"FREEIPA_BIND_PASSWORD":      "secret",
		"FREEIPA_USER_SEARCH_BASE":   "cn=users,dc=example,dc=net",
		"FREEIPA_USER_SEARCH_FILTER": "(uid={{username}})",
		"FREEIPA_USE_TLS":            "true",
	}
}

func setDirectoryEnv(t *testing.T, overrides map[string]string) {
	t.Helper()
	env := directoryEnv()
	for k, v := range overrides {
		env[k] = v
	}
	for k, v := range env {
		if v == "" {
			t.Setenv(k, "")
			os.Unsetenv(k)
			continue
		}
		t.Setenv(k, v)
	}
}

func TestDirectoryFromEnv(t *testing.T) {
	setDirectoryEnv(t, nil)
	cfg, err := DirectoryFromEnv()
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	if cfg.Host != "ipa.example.net" || cfg.Port != 636 || !cfg.UseTLS {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Timeout <= 0 {
		t.Fatal("timeout must default")
	}
}

func TestDirectoryFromEnvFailClosed(t *testing.T) {
	cases := []map[string]string{
		{"FREEIPA_HOST": ""},
		{"FREEIPA_HOST": "ldaps://ipa.example.net"},
		{"FREEIPA_PORT": "notaport"},
		{"FREEIPA_PORT": "70000"},
		{"FREEIPA_BIND_PASSWORD": ""},
		{"FREEIPA_USER_SEARCH_FILTER": "(uid=someone)"},
		{"FREEIPA_USE_TLS": "yes"},
	}
	for i, overrides := range cases {
		setDirectoryEnv(t, overrides)
		if _, err := DirectoryFromEnv(); err == nil {
			t.Fatalf("case %d: expected error for %v", i, overrides)
		}
	}
}

func TestSessionSecretRequired(t *testing.T) {
	t.Setenv("AUTOPATCH_SESSION_SECRET", "")
	os.Unsetenv("AUTOPATCH_SESSION_SECRET")
	if _, err := SessionSecret(); err == nil {
		t.Fatal("expected error when secret unset")
	}
	t.Setenv("AUTOPATCH_SESSION_SECRET", "super-secret")
	got, err := SessionSecret()
	if err != nil || got != "super-secret" {
		t.Fatalf("got %q, %v", got, err)
	}
}
