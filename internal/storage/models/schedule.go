package models

import "time"

// Schedule represents a recurring sweep of a scenario file
type Schedule struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	ScenarioPath string     `json:"scenario_path"`
	StartProbe   int        `json:"start_probe"`
	MaxProbe     int        `json:"max_probe"`
	Enabled      bool       `json:"enabled"`
	Interval     int        `json:"interval"` // seconds
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastSweepID  *string    `json:"last_sweep_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
