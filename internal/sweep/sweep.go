// Package sweep finds the largest session count a device sustains by a
// bounded binary search over iterations.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mtlcap/internal/classify"
	"mtlcap/internal/executor"
	"mtlcap/internal/logging"
	"mtlcap/internal/scenario"
	pkgerrors "mtlcap/pkg/errors"
)

// Runner executes one iteration.
type Runner interface {
	RunIteration(ctx context.Context, attempt scenario.Attempt) *executor.Result
}

// Controller drives sweeps. Iterations run strictly one after another.
type Controller struct {
	runner   Runner
	observer Observer
	logger   *slog.Logger
}

// NewController creates a Controller reporting to observers.
func NewController(r Runner, logger *slog.Logger, observers ...Observer) *Controller {
	return &Controller{
		runner:   r,
		observer: Observers(observers),
		logger:   logging.Component(logger, "sweep"),
	}
}

// search holds the state of one sweep.
type search struct {
	c      *Controller
	ctx    context.Context
	report *Report
	best   *executor.Result
}

// Sweep searches [1, max] for the largest passing session count, starting
// with a probe of start. The returned report is never nil. The error is
// ErrSweepAborted when an infrastructure failure or cancellation stopped the
// search and ErrZeroCapacity when no count passed.
func (c *Controller) Sweep(ctx context.Context, sc *scenario.Descriptor, start, max int) (*Report, error) {
	report := &Report{
		ID:         uuid.NewString(),
		Scenario:   sc,
		StartProbe: start,
		MaxProbe:   max,
		Iterations: []*executor.Result{},
		Status:     StatusRunning,
		Started:    time.Now(),
	}
	logger := c.logger.With("sweep", report.ID)

	if start < 1 || start > max {
		report.Status = StatusAborted
		report.Reason = fmt.Sprintf("need 1 <= start <= max, got start=%d max=%d", start, max)
		report.Finished = time.Now()
		return report, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidProbe, report.Reason)
	}

	s := &search{c: c, ctx: ctx, report: report}
	logger.Info("sweep started", "scenario", sc.Label(), "start", start, "max", max)
	c.observer.SweepStarted(report)

	err := s.run(start, max)
	report.Finished = time.Now()
	if s.best != nil {
		report.Config = s.best.Config
	}

	switch {
	case err != nil:
		report.Status = StatusAborted
		report.Reason = err.Error()
	case report.MaxPassing == 0:
		report.Status = StatusZeroCapacity
		report.Reason = "no session count passed"
		err = pkgerrors.ErrZeroCapacity
	default:
		report.Status = StatusCompleted
	}

	logger.Info("sweep finished",
		"status", report.Status,
		"max_passing", report.MaxPassing,
		"iterations", len(report.Iterations),
		"duration", report.Duration().Round(time.Second),
	)
	c.observer.SweepFinished(report)
	return report, err
}

func (s *search) run(start, max int) error {
	res, err := s.probe(start)
	if err != nil {
		return err
	}

	var lo, hi int
	if res.Label == classify.Pass {
		lo, hi = start+1, max
		// Probe the ceiling first: a passing max ends the search.
		if lo <= hi {
			top, err := s.probe(hi)
			if err != nil {
				return err
			}
			if top.Label == classify.Pass {
				return nil
			}
			hi--
		}
	} else {
		lo, hi = 1, start-1
	}

	for lo <= hi {
		mid := lo + (hi-lo)/2
		res, err := s.probe(mid)
		if err != nil {
			return err
		}
		if res.Label == classify.Pass {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return nil
}

// probe runs one iteration and records it. It returns an error when the
// sweep must stop.
func (s *search) probe(n int) (*executor.Result, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrSweepAborted, err)
	}
	attempt := scenario.Attempt{Scenario: s.report.Scenario, Sessions: n, Index: len(s.report.Iterations)}
	res := s.c.runner.RunIteration(s.ctx, attempt)
	s.report.Iterations = append(s.report.Iterations, res)
	if res.Label == classify.Pass && n > s.report.MaxPassing {
		s.report.MaxPassing = n
		s.best = res
	}
	s.c.observer.IterationFinished(s.report, res)

	if res.Label.Aborts() {
		return res, &pkgerrors.ProbeError{Sessions: n, Err: fmt.Errorf("%w: %s", pkgerrors.ErrSweepAborted, firstLine(res.Detail))}
	}
	return res, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
