package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"mtlcap/internal/executor"
	"mtlcap/internal/sweep"
)

// Observer forwards sweep progress to a running program. The report is
// copied on every call because the controller keeps mutating it.
type Observer struct {
	send func(tea.Msg)
}

// NewObserver creates an Observer delivering to p.
func NewObserver(p *tea.Program) *Observer {
	return &Observer{send: p.Send}
}

func (o *Observer) SweepStarted(r *sweep.Report) {
	o.send(sweepStartedMsg{report: snapshot(r)})
}

func (o *Observer) IterationFinished(r *sweep.Report, res *executor.Result) {
	o.send(iterationFinishedMsg{result: res, maxPassing: r.MaxPassing})
}

func (o *Observer) SweepFinished(r *sweep.Report) {
	o.send(sweepFinishedMsg{report: snapshot(r)})
}

func snapshot(r *sweep.Report) sweep.Report {
	c := *r
	c.Iterations = append([]*executor.Result(nil), r.Iterations...)
	return c
}
