package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/jlindqvist/autopatchd/internal/inventory"
	"github.com/jlindqvist/autopatchd/internal/launcher"
	"github.com/jlindqvist/autopatchd/internal/ldapauth"
	"github.com/jlindqvist/autopatchd/internal/logger"
	"github.com/jlindqvist/autopatchd/internal/tls"
)

// Config is the top-level TOML structure. Directory and session settings
// deliberately live in the environment, not the file: they carry
// credentials and are loaded strictly via DirectoryFromEnv / SessionSecret.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Engine    EngineConfig     `mapstructure:"engine"`
	Inventory inventory.Config `mapstructure:"inventory"`
	Ledger    LedgerConfig     `mapstructure:"ledger"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	History   HistoryConfig    `mapstructure:"history"`
	Log       logger.Config    `mapstructure:"log"`
}

type ServerConfig struct {
	Listen string      `mapstructure:"listen"`
	TLS    *tls.Config `mapstructure:"tls"`
}

// EngineConfig extends the launcher settings with the defaults applied to
// manual runs that omit parameters.
type EngineConfig struct {
	launcher.Config     `mapstructure:",squash"`
	BasePath            string  `mapstructure:"base_path"`
	DefaultEnv          string  `mapstructure:"default_env"`
	DefaultMaxWorkers   int     `mapstructure:"default_max_workers"`
	DefaultProbeTimeout float64 `mapstructure:"default_probe_timeout"`
}

type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HistoryConfig lists run event sink DSNs (sqlite path, postgres://,
// clickhouse://, opensearch://).
type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

// Load reads a TOML config file and applies defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("ledger.path", "autopatchd.db")
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("engine.default_env", "qa")
	v.SetDefault("engine.default_max_workers", 2)
	v.SetDefault("engine.default_probe_timeout", 5.0)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func requireEnv(name string) (string, error) {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return "", fmt.Errorf("missing required environment variable: %s", name)
	}
	return val, nil
}

// SessionSecret returns the token key material from the environment.
// There is no development fallback; an unset secret is a startup error.
func SessionSecret() (string, error) {
	return requireEnv("AUTOPATCH_SESSION_SECRET")
}

// DirectoryFromEnv builds the directory configuration from FREEIPA_*
// environment variables. Every variable is required and validated, so a
// partially configured directory can never be dialed.
func DirectoryFromEnv() (ldapauth.Config, error) {
	var cfg ldapauth.Config

	host, err := requireEnv("FREEIPA_HOST")
	if err != nil {
		return cfg, err
	}
	if strings.Contains(host, "://") || strings.Contains(host, "/") {
		return cfg, fmt.Errorf("FREEIPA_HOST must only contain the LDAP host (no protocol or path)")
	}

	portRaw, err := requireEnv("FREEIPA_PORT")
	if err != nil {
		return cfg, err
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port < 1 || port > 65535 {
		return cfg, fmt.Errorf("FREEIPA_PORT must be a valid TCP port between 1 and 65535")
	}

	baseDN, err := requireEnv("FREEIPA_BASE_DN")
	if err != nil {
		return cfg, err
	}
	bindDN, err := requireEnv("FREEIPA_BIND_DN")
	if err != nil {
		return cfg, err
	}
	bindPassword, err := requireEnv("FREEIPA_BIND_PASSWORD")
	if err != nil {
		return cfg, err
	}
	searchBase, err := requireEnv("FREEIPA_USER_SEARCH_BASE")
	if err != nil {
		return cfg, err
	}

	filter, err := requireEnv("FREEIPA_USER_SEARCH_FILTER")
	if err != nil {
		return cfg, err
	}
	if !strings.Contains(filter, "{{username}}") {
		return cfg, fmt.Errorf("FREEIPA_USER_SEARCH_FILTER must include the placeholder {{username}}")
	}

	tlsRaw, err := requireEnv("FREEIPA_USE_TLS")
	if err != nil {
		return cfg, err
	}
	var useTLS bool
	switch tlsRaw {
	case "true":
		useTLS = true
	case "false":
		useTLS = false
	default:
		return cfg, fmt.Errorf("FREEIPA_USE_TLS must be either %q or %q", "true", "false")
	}

	cfg = ldapauth.Config{
		Host:             host,
		Port:             port,
		BaseDN:           baseDN,
		BindDN:           bindDN,
		BindPassword:     bindPassword,
		UserSearchBase:   searchBase,
		UserSearchFilter: filter,
		UseTLS:           useTLS,
		Timeout:          ldapauth.DefaultTimeout,
	}
	return cfg, nil
}
