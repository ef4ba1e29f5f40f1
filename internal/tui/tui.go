package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mtlcap/internal/storage"
)

// Tab indices.
const (
	tabSweep    = 0
	tabHistory  = 1
	tabSettings = 2
	tabCount    = 3
)

// Model is the root BubbleTea model.
type Model struct {
	// Dependencies.
	store    storage.Storage
	cancel   context.CancelFunc
	validate func(key, value string) error
	program  *tea.Program

	// Dimensions.
	width  int
	height int

	// Navigation.
	activeTab int
	showHelp  bool

	// Tab models.
	sweepTab    sweepModel
	historyTab  historyModel
	settingsTab settingsModel

	// Notification.
	notification    string
	notificationErr bool
	notifVersion    int

	spinner spinner.Model
}

// Deps holds all dependencies injected into the TUI.
type Deps struct {
	Storage storage.Storage
	// Cancel aborts the sweep being watched. Nil when only browsing.
	Cancel context.CancelFunc
	// Validate checks a setting before it is saved.
	Validate func(key, value string) error
}

// NewModel creates a new root Model.
func NewModel(deps Deps) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	tab := tabHistory
	if deps.Cancel != nil {
		tab = tabSweep
	}
	return &Model{
		store:       deps.Storage,
		cancel:      deps.Cancel,
		validate:    deps.Validate,
		activeTab:   tab,
		spinner:     s,
		sweepTab:    newSweepModel(),
		historyTab:  newHistoryModel(),
		settingsTab: newSettingsModel(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		loadHistory(m.store),
		loadSettings(m.store),
		m.spinner.Tick,
		elapsedTick(),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}

	// Live sweep.
	case sweepStartedMsg:
		m.sweepTab.start(msg.report)
		m.activeTab = tabSweep
	case iterationFinishedMsg:
		m.sweepTab.addIteration(msg.result, msg.maxPassing)
	case sweepFinishedMsg:
		m.sweepTab.finish(msg.report)
		if msg.report.Reason != "" {
			m.setNotification(fmt.Sprintf("Sweep %s: %s", msg.report.Status, msg.report.Reason), true)
		} else {
			m.setNotification(fmt.Sprintf("Sweep %s: max %d sessions", msg.report.Status, msg.report.MaxPassing), false)
		}
		cmds = append(cmds, loadHistory(m.store))
	case elapsedTickMsg:
		cmds = append(cmds, elapsedTick())

	// Data loading.
	case historyLoadedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Load history failed: %v", msg.err), true)
		} else {
			m.historyTab.setSweeps(msg.sweeps)
		}
	case detailLoadedMsg:
		m.historyTab.loading = false
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Load sweep failed: %v", msg.err), true)
		} else {
			m.historyTab.detail = msg.report
		}
	case settingsLoadedMsg:
		if msg.err == nil {
			m.settingsTab.setSettings(msg.settings)
		}

	// Settings.
	case settingSavedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Save %s failed: %v", msg.key, msg.err), true)
		} else {
			m.settingsTab.applySaved(msg.key, msg.value)
			m.setNotification(fmt.Sprintf("Saved %s", msg.key), false)
		}

	// Notification.
	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	// Spinner.
	if m.sweepTab.running() || m.historyTab.loading {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Schedule notification auto-clear when a new notification was set.
	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	// Delegate key input to the active tab.
	if _, ok := msg.(tea.KeyMsg); ok {
		switch m.activeTab {
		case tabSweep:
			cmds = append(cmds, m.sweepTab.Update(msg))
		case tabHistory:
			cmds = append(cmds, m.historyTab.Update(msg, m))
		case tabSettings:
			cmds = append(cmds, m.settingsTab.Update(msg, m))
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := renderHeader(m.activeTab, m.sweepTab.status(), m.width)

	var content string
	switch m.activeTab {
	case tabSweep:
		content = m.sweepTab.View(m.spinner)
	case tabHistory:
		content = m.historyTab.View(m.spinner)
	case tabSettings:
		content = m.settingsTab.View()
	}

	var notif string
	if m.notification != "" {
		if m.notificationErr {
			notif = notifErrorStyle.Render("! " + m.notification)
		} else {
			notif = notifSuccessStyle.Render("* " + m.notification)
		}
	}

	helpText := renderHelpBar(m.showHelp)
	footer := renderFooter(helpText, m.width)

	parts := []string{header}
	if notif != "" {
		parts = append(parts, notif)
	}
	parts = append(parts, content, footer)
	output := lipgloss.JoinVertical(lipgloss.Left, parts...)

	// Force exactly m.height lines to prevent BubbleTea rendering drift.
	return forceHeight(output, m.width, m.height)
}

// forceHeight ensures the string has exactly `height` lines, each padded to `width`.
// This prevents BubbleTea from leaving ghost lines when switching tabs.
func forceHeight(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	blank := strings.Repeat(" ", width)
	for len(lines) < height {
		lines = append(lines, blank)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) contentHeight() int {
	overhead := 5
	if m.showHelp {
		overhead += 3
	}
	h := m.height - overhead
	if h < 1 {
		h = 1
	}
	return h
}

func (m *Model) resize() {
	ch := m.contentHeight()
	m.sweepTab.setSize(m.width, ch)
	m.historyTab.setSize(m.width, ch)
	m.settingsTab.setSize(m.width, ch)
}

// handleGlobalKey reports whether the key was consumed.
func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	// Don't intercept while a setting is being edited.
	if m.activeTab == tabSettings && m.settingsTab.editing {
		return nil, false
	}

	switch {
	case key.Matches(msg, keys.Quit):
		if m.cancel != nil {
			m.cancel()
		}
		return tea.Quit, true

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		m.resize()
		return nil, true

	case key.Matches(msg, keys.TabNext):
		m.activeTab = (m.activeTab + 1) % tabCount
		return nil, true

	case key.Matches(msg, keys.TabPrev):
		m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		return nil, true

	case key.Matches(msg, keys.Cancel):
		if m.cancel != nil && m.sweepTab.running() {
			m.cancel()
			m.setNotification("Aborting sweep after the current iteration step", true)
			return clearNotification(4*time.Second, m.notifVersion), true
		}
		return nil, true

	case key.Matches(msg, keys.Refresh):
		return tea.Batch(loadHistory(m.store), loadSettings(m.store)), true
	}

	return nil, false
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

// Observer returns a sweep observer feeding this program.
func (m *Model) Observer() *Observer {
	return NewObserver(m.program)
}

// NewProgram creates a bubbletea program with alt screen.
func NewProgram(deps Deps) (*tea.Program, *Observer) {
	m := NewModel(deps)
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.program = p
	return p, m.Observer()
}
