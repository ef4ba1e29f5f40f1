package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mtlcap/internal/report"
	"mtlcap/internal/storage"
	pkgerrors "mtlcap/pkg/errors"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		limit, _ := cmd.Flags().GetInt("limit")
		label, _ := cmd.Flags().GetString("label")
		status, _ := cmd.Flags().GetString("status")

		sweeps, err := appInstance.Storage.GetSweeps(ctx, storage.SweepFilter{
			Label:  label,
			Status: status,
			Limit:  limit,
		})
		if err != nil {
			return fmt.Errorf("failed to get sweeps: %w", err)
		}

		if len(sweeps) == 0 {
			fmt.Println("No sweeps recorded. Run one with: mtlcap run <scenario.yaml>")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tNAME\tSCENARIO\tSTATUS\tMAX\tITER\tDURATION")
		fmt.Fprintln(w, "--\t-------\t----\t--------\t------\t---\t----\t--------")

		for _, s := range sweeps {
			took := "-"
			if d := s.Duration(); d > 0 {
				took = d.Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				shortID(s.ID), s.StartedAt.Local().Format("2006-01-02 15:04"),
				s.Name, s.Label, s.Status, s.MaxPassing, s.Iterations, took)
		}

		w.Flush()
		fmt.Printf("\nTotal: %d sweeps\n", len(sweeps))

		return nil
	},
}

var showCmd = &cobra.Command{
	Use:               "show <sweep-id>",
	Short:             "Show a recorded sweep",
	Long:              "Show a recorded sweep with every iteration. The id may be abbreviated to an unambiguous prefix.",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeSweepIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		r, err := report.Load(ctx, appInstance.Storage, args[0])
		if errors.Is(err, pkgerrors.ErrSweepNotFound) {
			return fmt.Errorf("sweep not found: %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to load sweep: %w", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}
		fmt.Print(report.Summary(r))
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:               "delete <sweep-id>",
	Short:             "Delete a recorded sweep",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeSweepIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		s, err := appInstance.Storage.GetSweep(ctx, args[0])
		if err != nil {
			return fmt.Errorf("sweep not found: %s", args[0])
		}

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Printf("Delete sweep %s (%s, %d iterations)? [y/N]: ", shortID(s.ID), s.Label, s.Iterations)
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		if err := appInstance.Storage.DeleteSweep(ctx, s.ID); err != nil {
			return fmt.Errorf("failed to delete sweep: %w", err)
		}
		fmt.Printf("Sweep deleted: %s\n", shortID(s.ID))
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of sweeps to show (0 for all)")
	historyCmd.Flags().String("label", "", "only sweeps of this scenario label")
	historyCmd.Flags().String("status", "", "only sweeps with this status (running, completed, zero_capacity, aborted)")

	showCmd.Flags().Bool("json", false, "print the report as JSON")

	historyDeleteCmd.Flags().BoolP("force", "f", false, "skip confirmation")

	historyCmd.AddCommand(historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
}
