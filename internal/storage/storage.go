package storage

import (
	"context"

	"mtlcap/internal/storage/models"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Sweep operations
	CreateSweep(ctx context.Context, sweep *models.Sweep) error
	UpdateSweep(ctx context.Context, sweep *models.Sweep) error
	GetSweep(ctx context.Context, id string) (*models.Sweep, error)
	GetSweeps(ctx context.Context, filter SweepFilter) ([]*models.Sweep, error)
	DeleteSweep(ctx context.Context, id string) error

	// Iteration operations
	AddIteration(ctx context.Context, it *models.Iteration) error
	GetIterations(ctx context.Context, sweepID string) ([]*models.Iteration, error)

	// Schedule operations
	CreateSchedule(ctx context.Context, s *models.Schedule) error
	GetScheduleByName(ctx context.Context, name string) (*models.Schedule, error)
	GetAllSchedules(ctx context.Context) ([]*models.Schedule, error)
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
	DeleteSchedule(ctx context.Context, id int64) error
	GetDueSchedules(ctx context.Context) ([]*models.Schedule, error) // Enabled schedules whose next run has passed

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// SweepFilter represents filters for querying sweeps
type SweepFilter struct {
	Label  string
	Status string
	Limit  int // 0 means unlimited
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}
