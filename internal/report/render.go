package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"mtlcap/internal/classify"
	"mtlcap/internal/sweep"
)

var (
	colorPurple = lipgloss.AdaptiveColor{Light: "#7B2FBE", Dark: "#B97EFF"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#FF4672"}
	colorAmber  = lipgloss.AdaptiveColor{Light: "#FF8C00", Dark: "#FFA500"}
	colorDimFg  = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	colorBorder = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPurple)
	labelStyle = lipgloss.NewStyle().Foreground(colorDimFg).Width(14)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
)

// LabelStyle colors an iteration label.
func LabelStyle(l classify.Label) lipgloss.Style {
	switch l {
	case classify.Pass:
		return lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	case classify.CapacityFail:
		return lipgloss.NewStyle().Foreground(colorAmber)
	default:
		return lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	}
}

// StatusStyle colors a sweep status.
func StatusStyle(s sweep.Status) lipgloss.Style {
	switch s {
	case sweep.StatusCompleted:
		return lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	case sweep.StatusZeroCapacity:
		return lipgloss.NewStyle().Foreground(colorAmber).Bold(true)
	case sweep.StatusRunning:
		return lipgloss.NewStyle().Foreground(colorPurple)
	default:
		return lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	}
}

// Summary renders a sweep report for the terminal.
func Summary(r *sweep.Report) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Sweep "+r.ID) + "\n\n")
	field := func(name, value string) {
		b.WriteString(labelStyle.Render(name) + value + "\n")
	}
	field("Scenario", r.Scenario.Label())
	field("Hosts", fmt.Sprintf("%s (measured) / %s (companion)", r.Scenario.Measured.Name, r.Scenario.Companion.Name))
	field("Range", fmt.Sprintf("%d..%d, start %d", 1, r.MaxProbe, r.StartProbe))
	field("Status", StatusStyle(r.Status).Render(string(r.Status)))
	field("Max passing", strconv.Itoa(r.MaxPassing))
	field("Duration", r.Duration().Round(time.Second).String())
	if r.Reason != "" {
		field("Reason", r.Reason)
	}
	b.WriteString("\n")

	if len(r.Iterations) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(colorDimFg).Render("No iterations run.") + "\n")
		return b.String()
	}
	b.WriteString(IterationTable(r) + "\n")
	return b.String()
}

// IterationTable renders the iteration trace as a table.
func IterationTable(r *sweep.Report) string {
	rows := make([][]string, 0, len(r.Iterations))
	for _, res := range r.Iterations {
		rows = append(rows, []string{
			strconv.Itoa(res.Index + 1),
			strconv.Itoa(res.Sessions),
			LabelStyle(res.Label).Render(string(res.Label)),
			fmt.Sprintf("%d/%d", res.PassedCount, res.Sessions),
			strconv.Itoa(res.ExitCode),
			string(res.Recovery.Action),
			res.Duration.Round(time.Second).String(),
			truncate(firstLine(res.Detail), 60),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers("#", "SESSIONS", "LABEL", "PASSED", "EXIT", "RECOVERY", "TIME", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style { return cellStyle }).
		Render()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
