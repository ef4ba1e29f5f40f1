package tui

import (
	"mtlcap/internal/executor"
	"mtlcap/internal/storage/models"
	"mtlcap/internal/sweep"
)

// Live sweep messages, sent by Observer from the sweeping goroutine.

type sweepStartedMsg struct {
	report sweep.Report
}

type iterationFinishedMsg struct {
	result     *executor.Result
	maxPassing int
}

type sweepFinishedMsg struct {
	report sweep.Report
}

type elapsedTickMsg struct{}

// Data loading messages.

type historyLoadedMsg struct {
	sweeps []*models.Sweep
	err    error
}

type detailLoadedMsg struct {
	report *sweep.Report
	err    error
}

type settingsLoadedMsg struct {
	settings map[string]string
	err      error
}

// Settings update messages.

type settingSavedMsg struct {
	key   string
	value string
	err   error
}

// Notification message.

type clearNotificationMsg struct {
	version int
}
