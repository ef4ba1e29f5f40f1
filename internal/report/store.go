// Package report hands sweep reports to their sinks: sweep history in
// storage, a structured log block, a JSON file and a prometheus textfile.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mtlcap/internal/classify"
	"mtlcap/internal/command"
	"mtlcap/internal/device"
	"mtlcap/internal/executor"
	"mtlcap/internal/logging"
	"mtlcap/internal/monitor"
	"mtlcap/internal/scenario"
	"mtlcap/internal/storage"
	"mtlcap/internal/storage/models"
	"mtlcap/internal/sweep"
)

// artifacts is the JSON stored in the iterations.metrics column.
type artifacts struct {
	Measured  *monitor.Metrics   `json:"measured,omitempty"`
	Companion *monitor.Metrics   `json:"companion,omitempty"`
	Config    *command.AppConfig `json:"config,omitempty"`
	Commands  []string           `json:"commands,omitempty"`
	Recovery  device.Outcome     `json:"recovery"`
}

// Store persists sweeps and their iterations as they happen, so an
// interrupted sweep still leaves its trace behind.
type Store struct {
	ctx    context.Context
	store  storage.Storage
	name   string
	logger *slog.Logger

	mu  sync.Mutex
	err error
}

// NewStore creates a storage sink. name is stored with the sweep, usually
// the schedule or scenario file that started it.
func NewStore(ctx context.Context, st storage.Storage, name string, logger *slog.Logger) *Store {
	return &Store{
		ctx:    context.WithoutCancel(ctx),
		store:  st,
		name:   name,
		logger: logging.Component(logger, "report"),
	}
}

// Err returns the first storage error seen, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Store) fail(op string, err error) {
	s.logger.Error("failed to persist sweep", "op", op, "error", err)
	s.mu.Lock()
	if s.err == nil {
		s.err = fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Unlock()
}

func (s *Store) SweepStarted(r *sweep.Report) {
	m, err := sweepModel(r, s.name)
	if err != nil {
		s.fail("encode sweep", err)
		return
	}
	if err := s.store.CreateSweep(s.ctx, m); err != nil {
		s.fail("create sweep", err)
	}
}

func (s *Store) IterationFinished(r *sweep.Report, res *executor.Result) {
	it, err := iterationModel(r.ID, res)
	if err != nil {
		s.fail("encode iteration", err)
		return
	}
	if err := s.store.AddIteration(s.ctx, it); err != nil {
		s.fail("add iteration", err)
	}
}

func (s *Store) SweepFinished(r *sweep.Report) {
	m, err := sweepModel(r, s.name)
	if err != nil {
		s.fail("encode sweep", err)
		return
	}
	if err := s.store.UpdateSweep(s.ctx, m); err != nil {
		s.fail("update sweep", err)
	}
}

func sweepModel(r *sweep.Report, name string) (*models.Sweep, error) {
	sc, err := json.Marshal(r.Scenario)
	if err != nil {
		return nil, err
	}
	m := &models.Sweep{
		ID:         r.ID,
		Name:       name,
		Label:      r.Scenario.Label(),
		Measured:   r.Scenario.Measured.Name,
		Companion:  r.Scenario.Companion.Name,
		StartProbe: r.StartProbe,
		MaxProbe:   r.MaxProbe,
		MaxPassing: r.MaxPassing,
		Status:     string(r.Status),
		Reason:     r.Reason,
		Scenario:   sc,
		StartedAt:  r.Started,
	}
	if m.Status == "" {
		m.Status = string(sweep.StatusRunning)
	}
	if r.Config != nil {
		if m.Config, err = json.Marshal(r.Config); err != nil {
			return nil, err
		}
	}
	if !r.Finished.IsZero() {
		finished := r.Finished
		m.FinishedAt = &finished
	}
	return m, nil
}

func iterationModel(sweepID string, res *executor.Result) (*models.Iteration, error) {
	data, err := json.Marshal(artifacts{
		Measured:  res.Measured,
		Companion: res.Companion,
		Config:    res.Config,
		Commands:  res.Commands,
		Recovery:  res.Recovery,
	})
	if err != nil {
		return nil, err
	}
	recovery := string(res.Recovery.Action)
	if recovery == "" {
		recovery = string(device.ActionNone)
	}
	return &models.Iteration{
		SweepID:        sweepID,
		Index:          res.Index,
		Sessions:       res.Sessions,
		Label:          string(res.Label),
		PassedCount:    res.PassedCount,
		ExitCode:       res.ExitCode,
		CompanionAlive: res.CompanionAlive,
		Detail:         res.Detail,
		Exception:      res.Exception,
		Recovery:       recovery,
		Warnings:       res.Warnings,
		Metrics:        data,
		StartedAt:      res.Started,
		DurationMS:     res.Duration.Milliseconds(),
	}, nil
}

// Load rebuilds a sweep report from storage. id may be a unique prefix.
func Load(ctx context.Context, st storage.Storage, id string) (*sweep.Report, error) {
	m, err := st.GetSweep(ctx, id)
	if err != nil {
		return nil, err
	}
	its, err := st.GetIterations(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load iterations: %w", err)
	}

	r := &sweep.Report{
		ID:         m.ID,
		StartProbe: m.StartProbe,
		MaxProbe:   m.MaxProbe,
		MaxPassing: m.MaxPassing,
		Status:     sweep.Status(m.Status),
		Reason:     m.Reason,
		Started:    m.StartedAt,
	}
	if m.FinishedAt != nil {
		r.Finished = *m.FinishedAt
	}

	var sc scenario.Descriptor
	if err := json.Unmarshal(m.Scenario, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario of sweep %s: %w", m.ID, err)
	}
	r.Scenario = &sc
	if len(m.Config) > 0 {
		r.Config = &command.AppConfig{}
		if err := json.Unmarshal(m.Config, r.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config of sweep %s: %w", m.ID, err)
		}
	}

	for _, it := range its {
		res := &executor.Result{
			Index:          it.Index,
			Sessions:       it.Sessions,
			Label:          classify.Label(it.Label),
			PassedCount:    it.PassedCount,
			Detail:         it.Detail,
			ExitCode:       it.ExitCode,
			CompanionAlive: it.CompanionAlive,
			Exception:      it.Exception,
			Warnings:       it.Warnings,
			Recovery:       device.Outcome{Action: device.Action(it.Recovery)},
			Started:        it.StartedAt,
			Duration:       time.Duration(it.DurationMS) * time.Millisecond,
		}
		if len(it.Metrics) > 0 {
			var a artifacts
			if err := json.Unmarshal(it.Metrics, &a); err != nil {
				return nil, fmt.Errorf("failed to decode iteration %d of sweep %s: %w", it.Index, m.ID, err)
			}
			res.Measured, res.Companion = a.Measured, a.Companion
			res.Config, res.Commands = a.Config, a.Commands
			if a.Recovery.Action != "" {
				res.Recovery = a.Recovery
			}
		}
		r.Iterations = append(r.Iterations, res)
	}
	return r, nil
}
