package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mtlcap/internal/app"
	"mtlcap/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive terminal UI",
	Long: `Launch the full-screen terminal UI to browse sweep history and edit settings.

To watch a sweep live, use 'mtlcap run <scenario.yaml> --tui'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _ := tui.NewProgram(tui.Deps{
			Storage:  appInstance.Storage,
			Validate: app.ValidateSetting,
		})
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
