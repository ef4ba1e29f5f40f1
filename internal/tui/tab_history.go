package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"mtlcap/internal/report"
	"mtlcap/internal/storage/models"
	"mtlcap/internal/sweep"
)

type historyModel struct {
	sweeps []*models.Sweep
	table  table.Model

	// Detail view of the selected sweep.
	detail  *sweep.Report
	loading bool

	width  int
	height int
}

func newHistoryModel() historyModel {
	t := table.New(
		table.WithColumns(historyColumns(100)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(tableStyles())
	return historyModel{table: t}
}

func historyColumns(w int) []table.Column {
	scenario := w - 58
	if scenario < 20 {
		scenario = 20
	}
	return []table.Column{
		{Title: "ID", Width: 8},
		{Title: "Started", Width: 16},
		{Title: "Scenario", Width: scenario},
		{Title: "Status", Width: 13},
		{Title: "Max", Width: 4},
		{Title: "Iter", Width: 4},
		{Title: "Took", Width: 7},
	}
}

func (hm *historyModel) setSize(w, h int) {
	hm.width = w
	hm.height = h
	hm.table.SetColumns(historyColumns(w))
	th := h - 2
	if th < 1 {
		th = 1
	}
	hm.table.SetHeight(th)
}

func (hm *historyModel) setSweeps(sweeps []*models.Sweep) {
	hm.sweeps = sweeps
	rows := make([]table.Row, len(sweeps))
	for i, s := range sweeps {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		took := "-"
		if d := s.Duration(); d > 0 {
			took = d.Round(time.Second).String()
		}
		rows[i] = table.Row{
			id,
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.Label,
			s.Status,
			strconv.Itoa(s.MaxPassing),
			strconv.Itoa(s.Iterations),
			took,
		}
	}
	hm.table.SetRows(rows)
	if hm.table.Cursor() >= len(rows) {
		hm.table.SetCursor(0)
	}
}

func (hm *historyModel) selected() *models.Sweep {
	i := hm.table.Cursor()
	if i < 0 || i >= len(hm.sweeps) {
		return nil
	}
	return hm.sweeps[i]
}

func (hm *historyModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, keys.Back):
			hm.detail = nil
			return nil
		case key.Matches(km, keys.Enter):
			if hm.detail != nil || hm.loading {
				return nil
			}
			if s := hm.selected(); s != nil {
				hm.loading = true
				return loadDetail(root.store, s.ID)
			}
			return nil
		}
	}
	if hm.detail != nil {
		return nil
	}
	var cmd tea.Cmd
	hm.table, cmd = hm.table.Update(msg)
	return cmd
}

func (hm *historyModel) View(s spinner.Model) string {
	if hm.detail != nil {
		out := report.Summary(hm.detail) + dimStyle.Render("esc to go back")
		return forceHeight(out, hm.width, hm.height)
	}

	var b strings.Builder
	if len(hm.sweeps) == 0 {
		b.WriteString(dimStyle.Render("No sweeps recorded yet."))
		return forceHeight(b.String(), hm.width, hm.height)
	}
	header := fmt.Sprintf("%d sweeps", len(hm.sweeps))
	if hm.loading {
		header += "  " + s.View() + " loading"
	}
	b.WriteString(dimStyle.Render(header) + "\n")
	b.WriteString(hm.table.View())
	return forceHeight(b.String(), hm.width, hm.height)
}
