package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mtlcap/internal/app"
)

var (
	appInstance *app.App
	version     = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mtlcap",
	Short: "mtlcap - media transport capacity sweeper",
	Long: `mtlcap - media transport capacity sweeper

  Find how many concurrent media sessions a host can carry.

  Quick start:
    mtlcap run scenario.yaml --max 64
    mtlcap run scenario.yaml --direction send,receive --core-mode single,multi
    mtlcap history
    mtlcap show <sweep-id>

  Each sweep binary-searches the session count between 1 and --max,
  running the media application on a measured and a companion host,
  classifying every iteration and recovering NIC functions after crashes.
  Results are kept in a local history database.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		opts := app.Options{}
		opts.DBPath, _ = cmd.Flags().GetString("db")
		if cmd.Flags().Changed("log-level") {
			opts.LogLevel, _ = cmd.Flags().GetString("log-level")
		}
		opts.LogFile, _ = cmd.Flags().GetBool("log-file")
		if f := cmd.Flags().Lookup("tui"); f != nil && f.Value.String() == "true" {
			opts.Quiet = true
		}
		if cmd.Name() == "tui" {
			opts.Quiet = true
		}

		var err error
		appInstance, err = app.New(opts)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance == nil {
			return nil
		}
		err := appInstance.Close()
		appInstance = nil
		return err
	},
}

// Execute executes the root command
func Execute() {
	err := rootCmd.Execute()
	if appInstance != nil {
		// PersistentPostRunE does not run when a command fails.
		appInstance.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error); defaults to the log_level setting")
	rootCmd.PersistentFlags().String("db", "", "database path")
	rootCmd.PersistentFlags().Bool("log-file", false, "also write logs to mtlcap.log in the cache directory")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mtlcap %s\n", version)
	},
}
