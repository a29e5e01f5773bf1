package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jlindqvist/autopatchd/internal/config"
	"github.com/jlindqvist/autopatchd/internal/history"
	"github.com/jlindqvist/autopatchd/internal/history/factory"
	"github.com/jlindqvist/autopatchd/internal/inventory"
	"github.com/jlindqvist/autopatchd/internal/launcher"
	"github.com/jlindqvist/autopatchd/internal/ldapauth"
	"github.com/jlindqvist/autopatchd/internal/ledger"
	"github.com/jlindqvist/autopatchd/internal/metrics"
	"github.com/jlindqvist/autopatchd/internal/scheduler"
	"github.com/jlindqvist/autopatchd/internal/server"
	"github.com/jlindqvist/autopatchd/internal/session"
	apptls "github.com/jlindqvist/autopatchd/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags shared by remote commands
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
	PidFile    string
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createLoginCommand(apiFlags),
		createLogoutCommand(apiFlags),
		createWhoamiCommand(apiFlags),
		createRunCommand(apiFlags),
		createRunsCommand(apiFlags),
		createScheduleCommand(apiFlags),
		createInventoryCommand(apiFlags),
	)
	root.PersistentFlags().StringVar(&apiFlags.APIUrl, "api-url", "", "daemon base URL (default http://localhost:8080)")
	root.PersistentFlags().DurationVar(&apiFlags.APITimeout, "api-timeout", 10*time.Second, "API request timeout")
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "autopatchd",
		Short: "Patch run orchestration daemon and CLI",
		Long: `Autopatchd launches and supervises Linux patch runs of the autopatch
engine, records their outcomes, and fires scheduled runs.

Examples:
  autopatchd serve --config=config.toml   # Start daemon
  autopatchd login --username=jdoe        # Authenticate against a daemon
  autopatchd run --env=qa --dry-run       # Launch a patch run
  autopatchd runs --limit=5               # Recent run outcomes`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (serve only)")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the autopatchd daemon",
		Long: `Start the autopatchd daemon. All configuration is loaded from the
TOML config file; directory and session settings come from the environment.

Examples:
  autopatchd serve --config=config.toml
  autopatchd serve config.toml
  autopatchd serve config.toml --daemonize`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write daemon PID to file")

	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=config.toml or provide as argument")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// Fail closed on auth before touching anything else: a daemon without
	// a session secret or directory settings must not come up.
	secret, err := config.SessionSecret()
	if err != nil {
		return err
	}
	dirCfg, err := config.DirectoryFromEnv()
	if err != nil {
		return err
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	cfg.Log.Setup()

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}

	launch := launcher.New(store, cfg.Engine.Config)
	launch.SetEngineLog(cfg.Log)

	var sinks history.Multi
	for _, dsn := range cfg.History.Sinks {
		sink, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			return fmt.Errorf("history sink %q: %w", dsn, err)
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) > 0 {
		launch.SetHistorySink(sinks)
		defer closeSinks(sinks)
	}

	var sampler *metrics.EngineSampler
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		sampler = metrics.NewEngineSampler(0)
		launch.SetSampler(sampler)
		if cfg.Metrics.Listen != "" {
			go serveMetrics(cfg.Metrics.Listen)
		}
	}

	sched := scheduler.New(store, launch)
	sched.Start()

	invCfg := cfg.Inventory
	if invCfg.WorkDir == "" {
		invCfg.WorkDir = cfg.Engine.WorkDir
	}
	if invCfg.BasePath == "" {
		invCfg.BasePath = cfg.Engine.BasePath
	}

	verifier := ldapauth.NewVerifier(dirCfg, nil)
	codec := session.NewCodec(secret, 0)
	defaults := server.RunDefaults{
		Env:          cfg.Engine.DefaultEnv,
		BasePath:     cfg.Engine.BasePath,
		MaxWorkers:   cfg.Engine.DefaultMaxWorkers,
		ProbeTimeout: cfg.Engine.DefaultProbeTimeout,
	}
	router := server.NewRouter(store, launch, verifier, inventory.NewRunner(invCfg), codec, defaults, "")

	tlsConfig, err := apptls.Setup(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("failed to set up TLS: %w", err)
	}
	var srv *http.Server
	if tlsConfig != nil {
		srv, err = server.NewTLSServer(cfg.Server.Listen, router, tlsConfig)
	} else {
		srv, err = server.NewServer(cfg.Server.Listen, router)
	}
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	scheme := "http"
	if tlsConfig != nil {
		scheme = "https"
	}
	fmt.Printf("Starting autopatchd server on %s (%s)\n", cfg.Server.Listen, scheme)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	sched.Stop()
	if sampler != nil {
		sampler.Stop()
	}
	// Give in-flight runs a moment to reconcile; they are detached and
	// survive the daemon, but completed ones should land in the ledger.
	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = launch.Wait(waitCtx)
	return srv.Close()
}

func serveMetrics(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		fmt.Printf("Metrics server error: %v\n", err)
	}
}

func closeSinks(sinks history.Multi) {
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}
