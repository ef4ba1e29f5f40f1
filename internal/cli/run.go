package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mtlcap/internal/app"
	"mtlcap/internal/paths"
	"mtlcap/internal/report"
	"mtlcap/internal/scenario"
	"mtlcap/internal/sweep"
	"mtlcap/internal/telemetry"
	"mtlcap/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a capacity sweep",
	Long: `Run a capacity sweep for a scenario file.

Axis flags override the scenario. Giving several values to an axis flag runs
one sweep per combination, in order:

  mtlcap run dual-host.yaml --direction send,receive --fps 50,59.94

Tuning values come from the settings table unless overridden here, either by
the dedicated flags or with --set key=value. A JSON report of every sweep is
written to the reports directory, or to --json for a single sweep.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		scenarios, err := scenariosFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		set, err := appInstance.Settings(ctx)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if err := applySettingFlags(cmd, &set); err != nil {
			return err
		}

		maxProbe, _ := cmd.Flags().GetInt("max")
		startProbe, _ := cmd.Flags().GetInt("start")
		if !cmd.Flags().Changed("start") {
			startProbe = defaultStart(maxProbe)
		}
		name, _ := cmd.Flags().GetString("name")
		jsonPath, _ := cmd.Flags().GetString("json")
		textfile, _ := cmd.Flags().GetString("metrics-textfile")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		useTUI, _ := cmd.Flags().GetBool("tui")

		if len(scenarios) > 1 && (jsonPath != "" || useTUI) {
			return fmt.Errorf("--json and --tui need a single scenario, got %d combinations", len(scenarios))
		}

		exporter := telemetry.NewExporter()
		observers := []sweep.Observer{exporter}
		if textfile != "" {
			observers = append(observers, report.NewTextfile(exporter, textfile, appInstance.Logger))
		}
		if jsonPath != "" {
			observers = append(observers, report.NewJSONFile(jsonPath, appInstance.Logger))
		}
		if metricsAddr != "" {
			go func() {
				if err := exporter.Serve(ctx, metricsAddr, appInstance.Logger); err != nil {
					appInstance.Logger.Error("metrics endpoint failed", "addr", metricsAddr, "error", err)
				}
			}()
		}

		var failed []error
		for i, sc := range scenarios {
			if ctx.Err() != nil {
				break
			}
			if len(scenarios) > 1 {
				fmt.Printf("[%d/%d] %s\n", i+1, len(scenarios), sc.Label())
			}
			req := app.SweepRequest{
				Name:       sweepName(name, sc),
				Scenario:   sc,
				StartProbe: startProbe,
				MaxProbe:   maxProbe,
				Settings:   set,
				Observers:  observers,
			}

			var r *sweep.Report
			if useTUI {
				r, err = runWithTUI(ctx, req)
			} else {
				r, err = appInstance.RunSweep(ctx, req)
			}
			if r == nil {
				return err
			}

			fmt.Print(report.Summary(r))
			if jsonPath == "" && len(r.Iterations) > 0 {
				if path, jerr := saveReport(r); jerr != nil {
					fmt.Fprintf(os.Stderr, "failed to save report: %v\n", jerr)
				} else {
					fmt.Printf("Report saved to %s\n", path)
				}
			}
			if err != nil {
				failed = append(failed, fmt.Errorf("%s: %w", sc.Label(), err))
			}
			fmt.Println()
		}

		if ctx.Err() != nil {
			failed = append(failed, fmt.Errorf("interrupted: %w", ctx.Err()))
		}
		return errors.Join(failed...)
	},
}

// scenariosFromFlags loads the scenario file and applies axis overrides.
// Several values on any axis flag expand into a matrix of scenarios.
func scenariosFromFlags(cmd *cobra.Command, path string) ([]*scenario.Descriptor, error) {
	base, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("duration") {
		base.Duration, _ = cmd.Flags().GetDuration("duration")
	}

	var m scenario.Matrix
	axes := false
	if cmd.Flags().Changed("direction") {
		vals, _ := cmd.Flags().GetStringSlice("direction")
		for _, v := range vals {
			m.Directions = append(m.Directions, scenario.Direction(strings.ToLower(v)))
		}
		axes = true
	}
	if cmd.Flags().Changed("redundant") {
		m.Redundancy, _ = cmd.Flags().GetBoolSlice("redundant")
		axes = true
	}
	if cmd.Flags().Changed("core-mode") {
		vals, _ := cmd.Flags().GetStringSlice("core-mode")
		for _, v := range vals {
			m.CoreModes = append(m.CoreModes, scenario.CoreMode(strings.ToLower(v)))
		}
		axes = true
	}
	if cmd.Flags().Changed("fps") {
		m.FPS, _ = cmd.Flags().GetFloat64Slice("fps")
		axes = true
	}
	if cmd.Flags().Changed("resolution") {
		m.Resolutions, _ = cmd.Flags().GetStringSlice("resolution")
		axes = true
	}
	if cmd.Flags().Changed("accelerator") {
		m.Accelerator, _ = cmd.Flags().GetBoolSlice("accelerator")
		axes = true
	}

	if !axes {
		if err := base.Validate(); err != nil {
			return nil, err
		}
		return []*scenario.Descriptor{base}, nil
	}

	scenarios, errs := m.Expand(base)
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "skipping combination: %v\n", err)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no valid scenario combination: %w", errors.Join(errs...))
	}
	return scenarios, nil
}

// settingFlags maps run flags to the settings they override.
var settingFlags = map[string]string{
	"warm-up":   "warm_up",
	"cool-down": "cool_down",
	"threshold": "threshold",
	"settle":    "settle",
}

func applySettingFlags(cmd *cobra.Command, set *app.Settings) error {
	for flag, key := range settingFlags {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		if err := set.Set(key, cmd.Flags().Lookup(flag).Value.String()); err != nil {
			return fmt.Errorf("--%s: %w", flag, err)
		}
	}
	overrides, _ := cmd.Flags().GetStringArray("set")
	for _, kv := range overrides {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--set %q: want key=value", kv)
		}
		if err := set.Set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("--set %s: %w", key, err)
		}
	}
	return nil
}

// defaultStart probes the middle of the range first.
func defaultStart(maxProbe int) int {
	return max(1, maxProbe/2)
}

func sweepName(name string, sc *scenario.Descriptor) string {
	if name != "" {
		return name
	}
	if sc.Name != "" {
		return sc.Name
	}
	return sc.Label()
}

func saveReport(r *sweep.Report) (string, error) {
	dir, err := paths.ReportsDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, r.ID+".json")
	if err := report.WriteJSON(path, r); err != nil {
		return "", err
	}
	paths.ChownToRealUser(path)
	return path, nil
}

// runWithTUI runs the sweep in the background while the live monitor owns
// the terminal. Quitting the monitor aborts the sweep.
func runWithTUI(ctx context.Context, req app.SweepRequest) (*sweep.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p, obs := tui.NewProgram(tui.Deps{
		Storage:  appInstance.Storage,
		Cancel:   cancel,
		Validate: app.ValidateSetting,
	})
	req.Observers = append(append([]sweep.Observer(nil), req.Observers...), obs)

	type outcome struct {
		report *sweep.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := appInstance.RunSweep(ctx, req)
		done <- outcome{r, err}
	}()

	_, perr := p.Run()
	cancel()
	out := <-done
	if perr != nil {
		return out.report, fmt.Errorf("TUI error: %w", perr)
	}
	return out.report, out.err
}

func init() {
	runFlags(runCmd)

	runCmd.RegisterFlagCompletionFunc("direction", cobra.FixedCompletions(
		[]string{string(scenario.DirectionSend), string(scenario.DirectionReceive)}, cobra.ShellCompDirectiveNoFileComp))
	runCmd.RegisterFlagCompletionFunc("core-mode", cobra.FixedCompletions(
		[]string{string(scenario.CoreModeSingle), string(scenario.CoreModeMulti)}, cobra.ShellCompDirectiveNoFileComp))
	runCmd.RegisterFlagCompletionFunc("set", completeSettingKeys)

	rootCmd.AddCommand(runCmd)
}

func runFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("direction", nil, "media direction on the measured host (send, receive)")
	cmd.Flags().BoolSlice("redundant", nil, "use redundant paths")
	cmd.Flags().StringSlice("core-mode", nil, "scheduler core mode (single, multi)")
	cmd.Flags().Float64Slice("fps", nil, "target frame rate")
	cmd.Flags().StringSlice("resolution", nil, "video resolution (e.g. 1080p, 2160p)")
	cmd.Flags().BoolSlice("accelerator", nil, "use the hardware accelerator")
	cmd.Flags().Duration("duration", 0, "test duration of each iteration")

	cmd.Flags().Int("max", 32, "largest session count to probe")
	cmd.Flags().Int("start", 0, "first session count to probe (default half of --max)")
	cmd.Flags().String("name", "", "name recorded in history (default the scenario name)")

	cmd.Flags().Duration("warm-up", 0, "override the warm_up setting")
	cmd.Flags().Duration("cool-down", 0, "override the cool_down setting")
	cmd.Flags().Float64("threshold", 0, "override the threshold setting")
	cmd.Flags().Duration("settle", 0, "override the settle setting")
	cmd.Flags().StringArray("set", nil, "override any setting for this run (key=value)")

	cmd.Flags().String("json", "", "write the report to this file as the sweep progresses")
	cmd.Flags().String("metrics-textfile", "", "write prometheus metrics to this textfile")
	cmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address during the run")
	cmd.Flags().Bool("tui", false, "watch the sweep in the interactive terminal UI")
}
