package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"mtlcap/internal/app"
	"mtlcap/internal/classify"
	"mtlcap/internal/executor"
	"mtlcap/internal/scenario"
	"mtlcap/internal/storage/models"
	"mtlcap/internal/sweep"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func testReport(status sweep.Status) sweep.Report {
	return sweep.Report{
		ID: "0b6f3c1e-5d7a-4f7e-9a55-1c2d3e4f5a6b",
		Scenario: &scenario.Descriptor{
			Direction:  scenario.DirectionSend,
			CoreMode:   scenario.CoreModeSingle,
			FPS:        59.94,
			Resolution: "1080p",
			Duration:   30 * time.Second,
			Measured:   scenario.HostSpec{Name: "dut"},
			Companion:  scenario.HostSpec{Name: "peer"},
		},
		StartProbe: 8,
		MaxProbe:   32,
		Status:     status,
		Started:    time.Now().Add(-time.Minute),
	}
}

func newTestModel(cancel func()) *Model {
	m := NewModel(Deps{Cancel: cancel})
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m
}

func TestSweepMessages(t *testing.T) {
	m := newTestModel(func() {})
	m.activeTab = tabSettings

	m.Update(sweepStartedMsg{report: testReport(sweep.StatusRunning)})
	if m.activeTab != tabSweep || !m.sweepTab.running() {
		t.Fatalf("tab = %d, running = %v", m.activeTab, m.sweepTab.running())
	}

	res := &executor.Result{Index: 0, Sessions: 8, Label: classify.Pass, PassedCount: 8, Duration: 40 * time.Second}
	m.Update(iterationFinishedMsg{result: res, maxPassing: 8})
	if got := len(m.sweepTab.table.Rows()); got != 1 {
		t.Fatalf("rows = %d, want 1", got)
	}
	if m.sweepTab.maxPassing != 8 {
		t.Errorf("max passing = %d", m.sweepTab.maxPassing)
	}
	if v := m.View(); !strings.Contains(v, "Probe 2 of at most") {
		t.Errorf("view missing progress line:\n%s", v)
	}

	done := testReport(sweep.StatusCompleted)
	done.Iterations = []*executor.Result{res}
	done.MaxPassing = 8
	done.Finished = time.Now()
	_, cmd := m.Update(sweepFinishedMsg{report: done})
	if cmd == nil {
		t.Error("finish did not reload history")
	}
	if m.sweepTab.running() || m.notificationErr || !strings.Contains(m.notification, "max 8") {
		t.Errorf("notification = %q err=%v", m.notification, m.notificationErr)
	}
	if v := m.View(); !strings.Contains(v, "Done after 1 probes") {
		t.Errorf("view missing final line:\n%s", v)
	}
}

func TestCancelKey(t *testing.T) {
	cancels := 0
	m := newTestModel(func() { cancels++ })

	m.Update(runes("x"))
	if cancels != 0 {
		t.Fatal("cancelled with no sweep running")
	}

	m.Update(sweepStartedMsg{report: testReport(sweep.StatusRunning)})
	m.Update(runes("x"))
	if cancels != 1 || !m.notificationErr {
		t.Errorf("cancels = %d, notification = %q", cancels, m.notification)
	}

	_, cmd := m.Update(runes("q"))
	if cancels != 2 {
		t.Errorf("quit did not cancel, cancels = %d", cancels)
	}
	if cmd == nil {
		t.Fatal("quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit command did not quit")
	}
}

func TestTabNavigation(t *testing.T) {
	m := newTestModel(nil)
	if m.activeTab != tabHistory {
		t.Fatalf("browse mode starts on tab %d", m.activeTab)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.activeTab != tabSettings {
		t.Errorf("tab = %d, want settings", m.activeTab)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.activeTab != tabSweep {
		t.Errorf("tab = %d, want sweep", m.activeTab)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.activeTab != tabSettings {
		t.Errorf("tab = %d, want settings", m.activeTab)
	}

	// Quitting a browse session has nothing to cancel.
	if _, cmd := m.Update(runes("q")); cmd == nil {
		t.Error("quit returned no command")
	}
}

func TestHistoryLoaded(t *testing.T) {
	m := newTestModel(nil)
	finished := time.Now()
	m.Update(historyLoadedMsg{sweeps: []*models.Sweep{
		{ID: "aaaaaaaa-1111", Label: "send-single-path-single-1080p-59.94fps", Status: "completed", MaxPassing: 12, Iterations: 5, StartedAt: finished.Add(-time.Hour), FinishedAt: &finished},
		{ID: "bbbbbbbb-2222", Label: "receive-single-path-single-1080p-59.94fps", Status: "running", StartedAt: finished},
	}})
	rows := m.historyTab.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0][0] != "aaaaaaaa" || rows[0][6] != "1h0m0s" || rows[1][6] != "-" {
		t.Errorf("rows = %v", rows)
	}
	if s := m.historyTab.selected(); s == nil || s.ID != "aaaaaaaa-1111" {
		t.Errorf("selected = %+v", s)
	}

	// Enter asks for the detail, esc leaves it.
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil || !m.historyTab.loading {
		t.Fatal("enter did not load detail")
	}
	r := testReport(sweep.StatusCompleted)
	m.Update(detailLoadedMsg{report: &r})
	if m.historyTab.detail == nil || m.historyTab.loading {
		t.Fatal("detail not shown")
	}
	if v := m.View(); !strings.Contains(v, "Sweep "+r.ID) {
		t.Errorf("detail view:\n%s", v)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.historyTab.detail != nil {
		t.Error("esc did not close detail")
	}

	m.Update(detailLoadedMsg{err: errors.New("sweep not found")})
	if !m.notificationErr {
		t.Error("load failure not reported")
	}
}

func TestSettingSaved(t *testing.T) {
	m := newTestModel(nil)
	m.Update(settingsLoadedMsg{settings: map[string]string{"settle": "10s"}})

	m.Update(settingSavedMsg{key: "settle", value: "3s"})
	if got := m.settingsTab.settings["settle"]; got != "3s" {
		t.Errorf("settle = %q", got)
	}

	m.Update(settingSavedMsg{key: "threshold", value: "2", err: errors.New("must be in (0, 1]")})
	if _, ok := m.settingsTab.settings["threshold"]; ok {
		t.Error("rejected value applied")
	}
	if !m.notificationErr {
		t.Error("rejection not reported")
	}
}

func TestSettingDefsFollowSettingsTable(t *testing.T) {
	if len(settingDefs) != len(app.Defaults) {
		t.Errorf("%d setting defs, %d defaults", len(settingDefs), len(app.Defaults))
	}
	byKey := map[string]settingDef{}
	for _, def := range settingDefs {
		byKey[def.key] = def
		if def.defaultVal != app.Defaults[def.key] {
			t.Errorf("%s default = %q, want %q", def.key, def.defaultVal, app.Defaults[def.key])
		}
		if def.kind == settingChoice {
			for _, c := range def.choices {
				if err := app.ValidateSetting(def.key, c); err != nil {
					t.Errorf("%s choice %q rejected: %v", def.key, c, err)
				}
			}
		}
	}

	tests := []struct {
		key, label string
		kind       settingKind
	}{
		{"link_recovery", "Link Recovery", settingText},
		{"sudo", "Sudo", settingChoice},
		{"log_level", "Log Level", settingChoice},
	}
	for _, tt := range tests {
		def := byKey[tt.key]
		if def.label != tt.label || def.kind != tt.kind {
			t.Errorf("%s = label %q kind %d, want %q %d", tt.key, def.label, def.kind, tt.label, tt.kind)
		}
	}
	if d := byKey["warm_up"].description; d == "" || d[:1] != strings.ToUpper(d[:1]) {
		t.Errorf("warm_up description = %q", d)
	}
}

func TestObserverSnapshots(t *testing.T) {
	var got []tea.Msg
	o := &Observer{send: func(msg tea.Msg) { got = append(got, msg) }}

	r := testReport(sweep.StatusRunning)
	o.SweepStarted(&r)
	res := &executor.Result{Sessions: 8, Label: classify.Pass}
	r.Iterations = append(r.Iterations, res)
	r.MaxPassing = 8
	o.IterationFinished(&r, res)
	r.Status = sweep.StatusCompleted
	o.SweepFinished(&r)

	// Later mutation must not leak into sent snapshots.
	r.Iterations = append(r.Iterations, &executor.Result{Sessions: 16})
	r.Iterations[0] = nil

	if len(got) != 3 {
		t.Fatalf("sent %d messages", len(got))
	}
	started := got[0].(sweepStartedMsg)
	if started.report.Status != sweep.StatusRunning || len(started.report.Iterations) != 0 {
		t.Errorf("started snapshot = %+v", started.report)
	}
	if it := got[1].(iterationFinishedMsg); it.result != res || it.maxPassing != 8 {
		t.Errorf("iteration msg = %+v", it)
	}
	finished := got[2].(sweepFinishedMsg)
	if finished.report.Status != sweep.StatusCompleted || len(finished.report.Iterations) != 1 || finished.report.Iterations[0] != res {
		t.Errorf("finished snapshot = %+v", finished.report)
	}
}

func TestProbeBound(t *testing.T) {
	tests := []struct{ max, want int }{
		{0, 1},
		{1, 3},
		{32, 8},
		{100, 9},
	}
	for _, tt := range tests {
		if got := probeBound(tt.max); got != tt.want {
			t.Errorf("probeBound(%d) = %d, want %d", tt.max, got, tt.want)
		}
	}
}

func TestForceHeight(t *testing.T) {
	out := forceHeight("a\nb\nc", 4, 2)
	if out != "a\nb" {
		t.Errorf("truncate = %q", out)
	}
	out = forceHeight("a", 3, 3)
	if lines := strings.Split(out, "\n"); len(lines) != 3 || lines[2] != "   " {
		t.Errorf("pad = %q", out)
	}
}
