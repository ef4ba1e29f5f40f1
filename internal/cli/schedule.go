package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mtlcap/internal/report"
	"mtlcap/internal/schedule"
	"mtlcap/internal/scenario"
	"mtlcap/internal/storage/models"
	"mtlcap/internal/sweep"
	"mtlcap/internal/telemetry"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring sweeps",
	Long: `Add, list and remove recurring sweeps, and run the daemon that executes them.

Schedules run one at a time because they share the hosts.`,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <name> <scenario.yaml>",
	Short: "Add a recurring sweep",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		path, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		sc, err := scenario.Load(path)
		if err != nil {
			return err
		}

		every, _ := cmd.Flags().GetDuration("every")
		maxProbe, _ := cmd.Flags().GetInt("max")
		startProbe, _ := cmd.Flags().GetInt("start")
		if !cmd.Flags().Changed("start") {
			startProbe = defaultStart(maxProbe)
		}

		s := &models.Schedule{
			Name:         args[0],
			ScenarioPath: path,
			StartProbe:   startProbe,
			MaxProbe:     maxProbe,
		}
		if err := schedule.Create(ctx, appInstance.Storage, s, every); err != nil {
			return fmt.Errorf("failed to create schedule: %w", err)
		}

		fmt.Printf("Schedule added: %s\n\n", s.Name)
		fmt.Printf("  Scenario: %s\n", sc.Label())
		fmt.Printf("  File:     %s\n", s.ScenarioPath)
		fmt.Printf("  Range:    start %d, max %d\n", s.StartProbe, s.MaxProbe)
		fmt.Printf("  Every:    %s\n", every)
		fmt.Println("\nRun 'mtlcap schedule daemon' to execute schedules.")
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		schedules, err := appInstance.Storage.GetAllSchedules(ctx)
		if err != nil {
			return fmt.Errorf("failed to get schedules: %w", err)
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules. Add one with: mtlcap schedule add <name> <scenario.yaml>")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tEVERY\tRANGE\tENABLED\tLAST RUN\tNEXT RUN\tLAST SWEEP\tSCENARIO")
		fmt.Fprintln(w, "----\t-----\t-----\t-------\t--------\t--------\t----------\t--------")

		for _, s := range schedules {
			enabled := "✗"
			if s.Enabled {
				enabled = "✓"
			}
			last := "-"
			if s.LastSweepID != nil {
				last = shortID(*s.LastSweepID)
			}
			fmt.Fprintf(w, "%s\t%s\t%d..%d\t%s\t%s\t%s\t%s\t%s\n",
				s.Name, time.Duration(s.Interval)*time.Second, s.StartProbe, s.MaxProbe,
				enabled, formatTime(s.LastRun), formatTime(s.NextRun), last, s.ScenarioPath)
		}

		w.Flush()
		return nil
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:               "remove <name>",
	Short:             "Remove a schedule",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeScheduleNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		s, err := appInstance.Storage.GetScheduleByName(ctx, args[0])
		if err != nil {
			return fmt.Errorf("schedule not found: %s", args[0])
		}
		if err := appInstance.Storage.DeleteSchedule(ctx, s.ID); err != nil {
			return fmt.Errorf("failed to remove schedule: %w", err)
		}
		fmt.Printf("Schedule removed: %s\n", s.Name)
		return nil
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:               "enable <name>",
	Short:             "Enable a schedule",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeScheduleNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScheduleEnabled(args[0], true)
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:               "disable <name>",
	Short:             "Disable a schedule",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeScheduleNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScheduleEnabled(args[0], false)
	},
}

func setScheduleEnabled(name string, enabled bool) error {
	ctx := context.Background()

	s, err := appInstance.Storage.GetScheduleByName(ctx, name)
	if err != nil {
		return fmt.Errorf("schedule not found: %s", name)
	}
	s.Enabled = enabled
	if err := appInstance.Storage.UpdateSchedule(ctx, s); err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Schedule %s: %s\n", state, s.Name)
	return nil
}

var scheduleDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run due schedules until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		textfile, _ := cmd.Flags().GetString("metrics-textfile")
		interval, _ := cmd.Flags().GetDuration("check-interval")

		exporter := telemetry.NewExporter()
		observers := []sweep.Observer{exporter}
		if textfile != "" {
			observers = append(observers, report.NewTextfile(exporter, textfile, appInstance.Logger))
		}
		if metricsAddr != "" {
			go func() {
				if err := exporter.Serve(ctx, metricsAddr, appInstance.Logger); err != nil {
					appInstance.Logger.Error("metrics endpoint failed", "addr", metricsAddr, "error", err)
				}
			}()
		}

		run := func(ctx context.Context, s *models.Schedule) (string, error) {
			return appInstance.RunSchedule(ctx, s, observers...)
		}
		sched, err := schedule.NewScheduler(appInstance.Storage, run, appInstance.Logger)
		if err != nil {
			return err
		}
		sched.CheckInterval = interval
		if err := sched.Start(ctx); err != nil {
			return err
		}
		appInstance.Logger.Info("schedule daemon started", "check_interval", interval)

		<-ctx.Done()
		appInstance.Logger.Info("schedule daemon stopping")
		return sched.Stop()
	},
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func init() {
	scheduleAddCmd.Flags().Duration("every", 24*time.Hour, "run interval (at least 1m)")
	scheduleAddCmd.Flags().Int("max", 32, "largest session count to probe")
	scheduleAddCmd.Flags().Int("start", 0, "first session count to probe (default half of --max)")

	scheduleDaemonCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
	scheduleDaemonCmd.Flags().String("metrics-textfile", "", "write prometheus metrics to this textfile")
	scheduleDaemonCmd.Flags().Duration("check-interval", time.Minute, "how often to look for due schedules")

	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleDisableCmd)
	scheduleCmd.AddCommand(scheduleDaemonCmd)
	rootCmd.AddCommand(scheduleCmd)
}
