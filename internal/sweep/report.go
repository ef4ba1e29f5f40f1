package sweep

import (
	"time"

	"mtlcap/internal/classify"
	"mtlcap/internal/command"
	"mtlcap/internal/executor"
	"mtlcap/internal/scenario"
)

// Status is the final state of a sweep.
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusZeroCapacity Status = "zero_capacity"
	StatusAborted      Status = "aborted"
)

// Report is the artifact of one sweep. The controller fills it while the
// sweep runs; it is read-only once SweepFinished has been delivered.
type Report struct {
	ID         string               `json:"id"`
	Scenario   *scenario.Descriptor `json:"scenario"`
	StartProbe int                  `json:"start_probe"`
	MaxProbe   int                  `json:"max_probe"`
	Iterations []*executor.Result   `json:"iterations"`
	MaxPassing int                  `json:"max_passing"`
	// Config is the measured configuration of the iteration that produced
	// MaxPassing.
	Config   *command.AppConfig `json:"config,omitempty"`
	Status   Status             `json:"status"`
	Reason   string             `json:"reason,omitempty"`
	Started  time.Time          `json:"started"`
	Finished time.Time          `json:"finished"`
}

// Probes returns the session counts in the order they were probed.
func (r *Report) Probes() []int {
	out := make([]int, len(r.Iterations))
	for i, it := range r.Iterations {
		out[i] = it.Sessions
	}
	return out
}

// Count returns how many iterations ended with label.
func (r *Report) Count(label classify.Label) int {
	n := 0
	for _, it := range r.Iterations {
		if it.Label == label {
			n++
		}
	}
	return n
}

// Duration is the wall time of the sweep.
func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}

// Observer is notified as a sweep progresses. Calls are made from the
// sweeping goroutine, in order.
type Observer interface {
	SweepStarted(r *Report)
	IterationFinished(r *Report, res *executor.Result)
	SweepFinished(r *Report)
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) SweepStarted(r *Report) {
	for _, ob := range o {
		ob.SweepStarted(r)
	}
}

func (o Observers) IterationFinished(r *Report, res *executor.Result) {
	for _, ob := range o {
		ob.IterationFinished(r, res)
	}
}

func (o Observers) SweepFinished(r *Report) {
	for _, ob := range o {
		ob.SweepFinished(r)
	}
}
