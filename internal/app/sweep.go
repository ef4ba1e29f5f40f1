package app

import (
	"context"
	"fmt"

	"mtlcap/internal/command"
	"mtlcap/internal/device"
	"mtlcap/internal/executor"
	"mtlcap/internal/process"
	"mtlcap/internal/report"
	"mtlcap/internal/scenario"
	"mtlcap/internal/storage/models"
	"mtlcap/internal/sweep"
)

// Collaborators are the process and file collaborators a sweep runs on.
// Zero fields are filled with the ssh/os-exec implementations.
type Collaborators struct {
	Launcher process.Launcher
	Files    process.Files
	Binder   device.Binder
}

func (c Collaborators) withDefaults(a *App, set Settings) Collaborators {
	if c.Launcher == nil {
		c.Launcher = process.NewExec(a.Logger)
	}
	if c.Files == nil {
		c.Files = process.NewHostFiles()
	}
	if c.Binder == nil {
		b := device.NewShellBinder(c.Launcher)
		b.DevBind = set.DevBind
		b.Sudo = set.Sudo
		c.Binder = b
	}
	return c
}

// NewController wires the executor, device recovery and command builder for
// one scenario. Recovery state lives as long as the returned controller.
func (a *App) NewController(sc *scenario.Descriptor, set Settings, c Collaborators, observers ...sweep.Observer) *sweep.Controller {
	c = c.withDefaults(a, set)
	recovery := device.NewManager(c.Binder, sc, set.DeviceConfig(), a.Logger)
	exec := executor.New(c.Launcher, c.Files, command.NewBuilder(set.CommandOptions()), recovery, set.ExecutorConfig(), a.Logger)
	return sweep.NewController(exec, a.Logger, observers...)
}

// SweepRequest describes one sweep to run.
type SweepRequest struct {
	// Name is recorded with the sweep in history.
	Name       string
	Scenario   *scenario.Descriptor
	StartProbe int
	MaxProbe   int
	Settings   Settings
	// Observers receive progress in addition to the history and log sinks.
	Observers []sweep.Observer
	Collaborators
}

// RunSweep runs a sweep, recording it in history and the log. The report is
// always returned; the error is the sweep outcome or a history failure.
func (a *App) RunSweep(ctx context.Context, req SweepRequest) (*sweep.Report, error) {
	store := report.NewStore(ctx, a.Storage, req.Name, a.Logger)
	observers := append([]sweep.Observer{store, report.NewLogBlock(a.Logger)}, req.Observers...)

	ctrl := a.NewController(req.Scenario, req.Settings, req.Collaborators, observers...)
	r, err := ctrl.Sweep(ctx, req.Scenario, req.StartProbe, req.MaxProbe)
	if serr := store.Err(); serr != nil && err == nil {
		err = fmt.Errorf("sweep %s not fully recorded: %w", r.ID, serr)
	}
	return r, err
}

// RunSchedule runs the sweep of a stored schedule with the current settings.
func (a *App) RunSchedule(ctx context.Context, s *models.Schedule, observers ...sweep.Observer) (string, error) {
	sc, err := scenario.Load(s.ScenarioPath)
	if err != nil {
		return "", err
	}
	set, err := a.Settings(ctx)
	if err != nil {
		return "", err
	}
	r, err := a.RunSweep(ctx, SweepRequest{
		Name:       s.Name,
		Scenario:   sc,
		StartProbe: s.StartProbe,
		MaxProbe:   s.MaxProbe,
		Settings:   set,
		Observers:  observers,
	})
	if r == nil {
		return "", err
	}
	return r.ID, err
}
