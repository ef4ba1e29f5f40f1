package tui

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mtlcap/internal/executor"
	"mtlcap/internal/sweep"
)

// sweepModel shows the sweep in progress.
type sweepModel struct {
	report     *sweep.Report
	iterations []*executor.Result
	maxPassing int
	finished   time.Time

	table    table.Model
	progress progress.Model
	width    int
	height   int
}

func newSweepModel() sweepModel {
	t := table.New(
		table.WithColumns(iterationColumns(100)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(tableStyles())

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithoutPercentage(),
	)
	return sweepModel{table: t, progress: p}
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(colorPurple)
	s.Selected = s.Selected.
		Foreground(colorFg).
		Background(lipgloss.AdaptiveColor{Light: "#E8E0F0", Dark: "#2A1A3E"}).
		Bold(true)
	return s
}

func iterationColumns(w int) []table.Column {
	detail := w - 62
	if detail < 20 {
		detail = 20
	}
	return []table.Column{
		{Title: "#", Width: 3},
		{Title: "Sessions", Width: 8},
		{Title: "Label", Width: 13},
		{Title: "Passed", Width: 7},
		{Title: "Exit", Width: 5},
		{Title: "Recovery", Width: 8},
		{Title: "Time", Width: 6},
		{Title: "Detail", Width: detail},
	}
}

func (sm *sweepModel) setSize(w, h int) {
	sm.width = w
	sm.height = h
	sm.table.SetColumns(iterationColumns(w))
	// Card plus progress line above the table.
	th := h - 9
	if th < 1 {
		th = 1
	}
	sm.table.SetHeight(th)
	sm.progress.Width = w - 4
}

// probeBound is an upper estimate of how many probes a sweep can take.
func probeBound(maxProbe int) int {
	if maxProbe < 1 {
		return 1
	}
	return bits.Len(uint(maxProbe)) + 2
}

func (sm *sweepModel) start(r sweep.Report) {
	sm.report = &r
	sm.iterations = nil
	sm.maxPassing = 0
	sm.finished = time.Time{}
	sm.table.SetRows(nil)
}

func (sm *sweepModel) addIteration(res *executor.Result, maxPassing int) {
	sm.iterations = append(sm.iterations, res)
	sm.maxPassing = maxPassing
	sm.setRows()
}

func (sm *sweepModel) finish(r sweep.Report) {
	sm.report = &r
	sm.iterations = r.Iterations
	sm.maxPassing = r.MaxPassing
	sm.finished = r.Finished
	sm.setRows()
}

func (sm *sweepModel) setRows() {
	rows := make([]table.Row, len(sm.iterations))
	for i, res := range sm.iterations {
		detail, _, _ := strings.Cut(res.Detail, "\n")
		rows[i] = table.Row{
			strconv.Itoa(res.Index + 1),
			strconv.Itoa(res.Sessions),
			string(res.Label),
			fmt.Sprintf("%d/%d", res.PassedCount, res.Sessions),
			strconv.Itoa(res.ExitCode),
			string(res.Recovery.Action),
			res.Duration.Round(time.Second).String(),
			detail,
		}
	}
	sm.table.SetRows(rows)
	if len(rows) > 0 {
		sm.table.SetCursor(len(rows) - 1)
	}
}

func (sm *sweepModel) status() sweep.Status {
	if sm.report == nil {
		return ""
	}
	return sm.report.Status
}

func (sm *sweepModel) running() bool {
	return sm.status() == sweep.StatusRunning
}

func (sm *sweepModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	sm.table, cmd = sm.table.Update(msg)
	return cmd
}

func (sm *sweepModel) View(s spinner.Model) string {
	if sm.report == nil {
		return forceHeight(dimStyle.Render("No sweep running. Start one with mtlcap run --tui."), sm.width, sm.height)
	}
	r := sm.report

	var b strings.Builder
	field := func(label, value string) string {
		return cardLabelStyle.Render(label) + cardValueStyle.Render(value)
	}

	elapsed := time.Since(r.Started)
	if !sm.finished.IsZero() {
		elapsed = sm.finished.Sub(r.Started)
	}
	lines := []string{
		cardTitleStyle.Render(r.Scenario.Label()),
		field("Sweep", r.ID),
		field("Hosts", fmt.Sprintf("%s → %s", r.Scenario.Measured.Name, r.Scenario.Companion.Name)),
		field("Range", fmt.Sprintf("start %d, max %d", r.StartProbe, r.MaxProbe)),
		field("Max passing", strconv.Itoa(sm.maxPassing)),
		field("Elapsed", elapsed.Round(time.Second).String()),
	}
	if r.Reason != "" {
		lines = append(lines, cardLabelStyle.Render("Reason")+errorStyle.Render(r.Reason))
	}
	b.WriteString(cardStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	bound := probeBound(r.MaxProbe)
	pct := float64(len(sm.iterations)) / float64(bound)
	if sm.finished.IsZero() {
		if pct > 1 {
			pct = 1
		}
		b.WriteString(fmt.Sprintf("%s Probe %d of at most %d ", s.View(), len(sm.iterations)+1, bound))
	} else {
		pct = 1
		b.WriteString(successStyle.Render(fmt.Sprintf("Done after %d probes ", len(sm.iterations))))
	}
	b.WriteString(sm.progress.ViewAs(pct))
	b.WriteString("\n")

	if last := sm.lastResult(); last != nil {
		b.WriteString(labelStyle(last.Label).Render(fmt.Sprintf("Last: %d sessions %s", last.Sessions, last.Label)))
		if len(last.Warnings) > 0 {
			b.WriteString("  " + warningStyle.Render(fmt.Sprintf("%d counter warnings", len(last.Warnings))))
		}
		b.WriteString("\n")
	}

	b.WriteString(sm.table.View())
	return forceHeight(b.String(), sm.width, sm.height)
}

func (sm *sweepModel) lastResult() *executor.Result {
	if len(sm.iterations) == 0 {
		return nil
	}
	return sm.iterations[len(sm.iterations)-1]
}
