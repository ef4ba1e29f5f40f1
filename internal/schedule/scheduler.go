// Package schedule runs recurring capacity sweeps.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"mtlcap/internal/logging"
	"mtlcap/internal/storage"
	"mtlcap/internal/storage/models"
)

// DefaultCheckInterval is how often due schedules are looked up.
const DefaultCheckInterval = time.Minute

// RunFunc runs one sweep for a schedule and returns the sweep id. A sweep
// that ran but found no capacity or aborted still returns its id.
type RunFunc func(ctx context.Context, s *models.Schedule) (string, error)

// Outcome is the result of running one due schedule.
type Outcome struct {
	Schedule string
	SweepID  string
	Err      error
}

// Scheduler checks for due schedules and runs their sweeps one at a time,
// since all sweeps compete for the same hosts.
type Scheduler struct {
	scheduler gocron.Scheduler
	store     storage.Storage
	run       RunFunc
	logger    *slog.Logger

	// CheckInterval is how often due schedules are looked up.
	CheckInterval time.Duration
	// Now returns the current time. Replaceable in tests.
	Now func() time.Time

	mu      sync.Mutex
	running bool
	// sweeping serialises RunDue between the initial check and the job.
	sweeping sync.Mutex
}

// NewScheduler creates a scheduler.
func NewScheduler(store storage.Storage, run RunFunc, logger *slog.Logger) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		scheduler:     scheduler,
		store:         store,
		run:           run,
		logger:        logging.Component(logger, "schedule"),
		CheckInterval: DefaultCheckInterval,
		Now:           time.Now,
	}, nil
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.CheckInterval),
		gocron.NewTask(func() {
			s.checkAndRunDue(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create sweep job: %w", err)
	}

	s.scheduler.Start()
	s.running = true

	// Run initial check
	go s.checkAndRunDue(ctx)

	return nil
}

// Stop stops the scheduler and waits for a running sweep to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.sweeping.Lock()
	s.sweeping.Unlock()

	s.running = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) checkAndRunDue(ctx context.Context) {
	outcomes, err := s.RunDue(ctx)
	if err != nil {
		s.logger.Error("failed to check due schedules", "error", err)
		return
	}
	for _, o := range outcomes {
		if o.Err != nil {
			s.logger.Warn("scheduled sweep failed", "schedule", o.Schedule, "sweep", o.SweepID, "error", o.Err)
		} else {
			s.logger.Info("scheduled sweep finished", "schedule", o.Schedule, "sweep", o.SweepID)
		}
	}
}

// RunDue runs every due schedule in turn. The next run of each schedule is
// moved forward whether or not its sweep succeeded.
func (s *Scheduler) RunDue(ctx context.Context) ([]Outcome, error) {
	s.sweeping.Lock()
	defer s.sweeping.Unlock()

	due, err := s.store.GetDueSchedules(ctx)
	if err != nil {
		return nil, err
	}

	var outcomes []Outcome
	for _, sc := range due {
		if ctx.Err() != nil {
			break
		}
		s.logger.Info("running scheduled sweep", "schedule", sc.Name, "scenario", sc.ScenarioPath)
		id, runErr := s.run(ctx, sc)
		outcomes = append(outcomes, Outcome{Schedule: sc.Name, SweepID: id, Err: runErr})

		ran := s.Now()
		next := ran.Add(time.Duration(sc.Interval) * time.Second)
		sc.LastRun, sc.NextRun = &ran, &next
		if id != "" {
			sc.LastSweepID = &id
		}
		if err := s.store.UpdateSchedule(context.WithoutCancel(ctx), sc); err != nil {
			return outcomes, fmt.Errorf("failed to update schedule %s: %w", sc.Name, err)
		}
	}
	return outcomes, nil
}

// ─── Schedule management ───

// ErrInvalidSchedule is returned for schedules that cannot run.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Create stores a new schedule. Its first run is due immediately.
func Create(ctx context.Context, store storage.Storage, s *models.Schedule, every time.Duration) error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if s.ScenarioPath == "" {
		return fmt.Errorf("%w: scenario path is required", ErrInvalidSchedule)
	}
	if s.StartProbe < 1 || s.StartProbe > s.MaxProbe {
		return fmt.Errorf("%w: need 1 <= start (%d) <= max (%d)", ErrInvalidSchedule, s.StartProbe, s.MaxProbe)
	}
	if every < time.Minute {
		return fmt.Errorf("%w: interval %v is shorter than a minute", ErrInvalidSchedule, every)
	}
	s.Interval = int(every / time.Second)
	s.Enabled = true
	now := time.Now()
	s.NextRun = &now
	return store.CreateSchedule(ctx, s)
}
