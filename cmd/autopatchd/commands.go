package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jlindqvist/autopatchd/pkg/client"
	"github.com/spf13/cobra"
)

// LoginFlags holds flags for the login command
type LoginFlags struct {
	Username string
	Password string
}

// RunFlags holds flags for the run command
type RunFlags struct {
	Env          string
	BasePath     string
	MaxWorkers   int
	ProbeTimeout float64
	DryRun       bool
	Wait         bool
}

// RunsFlags holds flags for the runs command
type RunsFlags struct {
	Limit int
	Env   string
	ID    int64
}

// ScheduleFlags holds flags for schedule add
type ScheduleFlags struct {
	Name         string
	Env          string
	BasePath     string
	DryRun       bool
	MaxWorkers   int
	ProbeTimeout float64
	Day          string
	Time         string
	Disabled     bool
}

// createLoginCommand creates the login command
func createLoginCommand(apiFlags *APIFlags) *cobra.Command {
	flags := &LoginFlags{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to an autopatchd daemon",
		Long: `Login to an autopatchd daemon and save the session for future commands.

Examples:
  autopatchd login --username=jdoe
  autopatchd login --api-url=http://remote:8080 --username=jdoe --password=secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(apiFlags, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Username, "username", "", "directory username (required)")
	cmd.Flags().StringVar(&flags.Password, "password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func runLogin(apiFlags *APIFlags, flags *LoginFlags) error {
	password := flags.Password
	if password == "" {
		fmt.Print("Password: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	c := newAPIClient(apiFlags)
	user, err := c.Login(cmdContext(), flags.Username, password)
	if err != nil {
		return err
	}

	sm := NewSessionManager()
	sess := &Session{
		Token:     c.SessionToken(),
		ExpiresAt: time.Now().Add(10 * time.Hour),
		Username:  user.Username,
		ServerURL: apiURL(apiFlags),
	}
	if err := sm.SaveSession(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	fmt.Printf("Logged in as %s (%s)\n", user.Username, user.DisplayName)
	return nil
}

// createLogoutCommand creates the logout command
func createLogoutCommand(apiFlags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Logout and clear the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(apiFlags)
			// Best effort: the server session dies with the cookie either way.
			_ = c.Logout(cmdContext())
			if err := NewSessionManager().ClearSession(); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

// createWhoamiCommand creates the whoami command
func createWhoamiCommand(apiFlags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity behind the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := newAPIClient(apiFlags).Me(cmdContext())
			if err != nil {
				return err
			}
			printJSON(user)
			return nil
		},
	}
}

// createRunCommand creates the run command
func createRunCommand(apiFlags *APIFlags) *cobra.Command {
	flags := &RunFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch a patch run",
		Long: `Launch a patch run on the daemon. Omitted parameters fall back to the
daemon's configured defaults.

Examples:
  autopatchd run --env=qa --dry-run
  autopatchd run --env=prod --max-workers=4 --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStartRun(apiFlags, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Env, "env", "", "target environment")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "ansible environments root")
	cmd.Flags().IntVar(&flags.MaxWorkers, "max-workers", 0, "parallel standalone workers")
	cmd.Flags().Float64Var(&flags.ProbeTimeout, "probe-timeout", 0, "ssh probe timeout in seconds")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "probe and plan without patching")
	cmd.Flags().BoolVar(&flags.Wait, "wait", false, "poll until the run finishes")

	return cmd
}

func runStartRun(apiFlags *APIFlags, flags *RunFlags) error {
	c := newAPIClient(apiFlags)
	run, err := c.StartRun(cmdContext(), client.RunRequest{
		Env:          flags.Env,
		BasePath:     flags.BasePath,
		MaxWorkers:   flags.MaxWorkers,
		ProbeTimeout: flags.ProbeTimeout,
		DryRun:       flags.DryRun,
	})
	if err != nil {
		return err
	}
	if !flags.Wait {
		printJSON(run)
		return nil
	}

	fmt.Printf("Run %d started, waiting...\n", run.ID)
	for run.Status == "RUNNING" {
		time.Sleep(5 * time.Second)
		run, err = c.Run(cmdContext(), run.ID)
		if err != nil {
			return err
		}
	}
	printJSON(run)
	if run.Status != "OK" {
		return fmt.Errorf("run %d finished %s", run.ID, run.Status)
	}
	return nil
}

// createRunsCommand creates the runs command
func createRunsCommand(apiFlags *APIFlags) *cobra.Command {
	flags := &RunsFlags{}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs or show one run",
		Long: `List recent runs, newest first, or show a single run in detail.

Examples:
  autopatchd runs --limit=5
  autopatchd runs --env=prod
  autopatchd runs --id=42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(apiFlags)
			if flags.ID > 0 {
				run, err := c.Run(cmdContext(), flags.ID)
				if err != nil {
					return err
				}
				printJSON(run)
				return nil
			}
			runs, err := c.Runs(cmdContext(), flags.Limit, flags.Env)
			if err != nil {
				return err
			}
			printJSON(runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "maximum rows returned")
	cmd.Flags().StringVar(&flags.Env, "env", "", "filter by environment")
	cmd.Flags().Int64Var(&flags.ID, "id", 0, "show one run by id")

	return cmd
}

// createScheduleCommand creates the schedule command with subcommands
func createScheduleCommand(apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring patch runs",
		Long: `Manage weekly patch run schedules on the daemon.

Examples:
  autopatchd schedule add --name=nightly --env=qa --day=mon --time=02:00
  autopatchd schedule list
  autopatchd schedule toggle 3`,
	}

	cmd.AddCommand(
		createScheduleAddCommand(apiFlags),
		createScheduleListCommand(apiFlags),
		createScheduleToggleCommand(apiFlags),
	)

	return cmd
}

func createScheduleAddCommand(apiFlags *APIFlags) *cobra.Command {
	flags := &ScheduleFlags{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a weekly schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := newAPIClient(apiFlags).CreateSchedule(cmdContext(), client.Schedule{
				Name:         flags.Name,
				Env:          flags.Env,
				BasePath:     flags.BasePath,
				DryRun:       flags.DryRun,
				MaxWorkers:   flags.MaxWorkers,
				ProbeTimeout: flags.ProbeTimeout,
				DayOfWeek:    flags.Day,
				TimeHHMM:     flags.Time,
				Enabled:      !flags.Disabled,
			})
			if err != nil {
				return err
			}
			printJSON(created)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "schedule name (required)")
	cmd.Flags().StringVar(&flags.Env, "env", "", "target environment (required)")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "ansible environments root")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "schedule dry runs")
	cmd.Flags().IntVar(&flags.MaxWorkers, "max-workers", 0, "parallel standalone workers")
	cmd.Flags().Float64Var(&flags.ProbeTimeout, "probe-timeout", 0, "ssh probe timeout in seconds")
	cmd.Flags().StringVar(&flags.Day, "day", "", "day of week: mon..sun (required)")
	cmd.Flags().StringVar(&flags.Time, "time", "", "wall clock time HH:MM (required)")
	cmd.Flags().BoolVar(&flags.Disabled, "disabled", false, "create the schedule disabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("env")
	_ = cmd.MarkFlagRequired("day")
	_ = cmd.MarkFlagRequired("time")

	return cmd
}

func createScheduleListCommand(apiFlags *APIFlags) *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newAPIClient(apiFlags).Schedules(cmdContext(), env)
			if err != nil {
				return err
			}
			printJSON(items)
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "filter by environment")
	return cmd
}

func createScheduleToggleCommand(apiFlags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Enable or disable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("schedule id must be a number: %q", args[0])
			}
			if err := newAPIClient(apiFlags).ToggleSchedule(cmdContext(), id); err != nil {
				return err
			}
			fmt.Printf("Schedule %d toggled\n", id)
			return nil
		},
	}
}

// createInventoryCommand creates the inventory command
func createInventoryCommand(apiFlags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory <env>",
		Short: "Show an environment's patch targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := newAPIClient(apiFlags).Inventory(cmdContext(), args[0])
			if err != nil {
				return err
			}
			printJSON(sum)
			return nil
		},
	}
}
