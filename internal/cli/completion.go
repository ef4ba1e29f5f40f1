package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"mtlcap/internal/app"
	"mtlcap/internal/storage"
)

// ensureApp lazily initializes appInstance for shell completion.
// Cobra may invoke ValidArgsFunction without running PersistentPreRunE.
func ensureApp() error {
	if appInstance != nil {
		return nil
	}
	var err error
	appInstance, err = app.New(app.Options{Quiet: true})
	return err
}

// completeSweepIDs provides shell completion for recorded sweep ids.
func completeSweepIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	ctx := context.Background()
	sweeps, err := appInstance.Storage.GetSweeps(ctx, storage.SweepFilter{Limit: 50})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, s := range sweeps {
		if strings.HasPrefix(s.ID, toComplete) {
			completions = append(completions, s.ID+"\t"+s.Label)
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completeScheduleNames provides shell completion for schedule names.
func completeScheduleNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	ctx := context.Background()
	schedules, err := appInstance.Storage.GetAllSchedules(ctx)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, s := range schedules {
		if strings.HasPrefix(strings.ToLower(s.Name), strings.ToLower(toComplete)) {
			completions = append(completions, s.Name)
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completeSettingKeys provides completion for setting keys, as the first
// argument or the key part of --set.
func completeSettingKeys(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 && cmd.Name() != "run" {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var completions []string
	for _, key := range app.SettingKeys() {
		if strings.HasPrefix(key, toComplete) {
			completions = append(completions, key+"\t"+app.SettingHelp(key))
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
}
