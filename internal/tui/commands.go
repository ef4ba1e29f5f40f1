package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"mtlcap/internal/report"
	"mtlcap/internal/storage"
)

const historyLimit = 100

// loadHistory fetches the most recent sweeps.
func loadHistory(store storage.Storage) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		sweeps, err := store.GetSweeps(ctx, storage.SweepFilter{Limit: historyLimit})
		return historyLoadedMsg{sweeps: sweeps, err: err}
	}
}

// loadDetail rebuilds the full report of one stored sweep.
func loadDetail(store storage.Storage, id string) tea.Cmd {
	return func() tea.Msg {
		r, err := report.Load(context.Background(), store, id)
		return detailLoadedMsg{report: r, err: err}
	}
}

// loadSettings fetches all application settings.
func loadSettings(store storage.Storage) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		settings, err := store.GetAllSettings(ctx)
		return settingsLoadedMsg{settings: settings, err: err}
	}
}

// saveSetting validates and persists a setting value.
func saveSetting(store storage.Storage, validate func(key, value string) error, key, value string) tea.Cmd {
	return func() tea.Msg {
		if validate != nil {
			if err := validate(key, value); err != nil {
				return settingSavedMsg{key: key, value: value, err: err}
			}
		}
		err := store.SetSetting(context.Background(), key, value)
		return settingSavedMsg{key: key, value: value, err: err}
	}
}

// elapsedTick refreshes the elapsed sweep time once a second.
func elapsedTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return elapsedTickMsg{}
	})
}

func clearNotification(after time.Duration, version int) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
