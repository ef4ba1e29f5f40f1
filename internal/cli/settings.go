package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mtlcap/internal/app"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and change tuning settings",
	Long: `Show and change the tuning settings stored in the history database.

Settings apply to every sweep, including scheduled ones. 'mtlcap run' can
override them for a single run with --set key=value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return settingsListCmd.RunE(cmd, args)
	},
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		stored, err := appInstance.Storage.GetAllSettings(ctx)
		if err != nil {
			return fmt.Errorf("failed to get settings: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE\tDEFAULT\tDESCRIPTION")
		fmt.Fprintln(w, "---\t-----\t-------\t-----------")
		for _, key := range app.SettingKeys() {
			value, ok := stored[key]
			if !ok {
				value = app.Defaults[key]
			}
			def := app.Defaults[key]
			if value == def {
				def = "="
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", key, value, def, app.SettingHelp(key))
		}
		w.Flush()
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:               "get <key>",
	Short:             "Print one setting",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeSettingKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		key := args[0]
		def, ok := app.Defaults[key]
		if !ok {
			return fmt.Errorf("unknown setting: %s", key)
		}
		value, err := appInstance.Storage.GetSetting(ctx, key)
		if err != nil {
			value = def
		}
		fmt.Println(value)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:               "set <key> <value>",
	Short:             "Change one setting",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeSettingKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		key, value := args[0], args[1]
		if err := app.ValidateSetting(key, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if err := appInstance.Storage.SetSetting(ctx, key, value); err != nil {
			return fmt.Errorf("failed to save setting: %w", err)
		}
		fmt.Printf("%s = %s\n", key, value)
		return nil
	},
}

var settingsResetCmd = &cobra.Command{
	Use:               "reset <key>",
	Short:             "Restore a setting to its default",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeSettingKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		key := args[0]
		def, ok := app.Defaults[key]
		if !ok {
			return fmt.Errorf("unknown setting: %s", key)
		}
		if err := appInstance.Storage.SetSetting(ctx, key, def); err != nil {
			return fmt.Errorf("failed to save setting: %w", err)
		}
		fmt.Printf("%s = %s\n", key, def)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)
	rootCmd.AddCommand(settingsCmd)
}
