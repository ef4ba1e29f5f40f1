package models

import (
	"encoding/json"
	"time"
)

// Sweep represents one persisted capacity sweep
type Sweep struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Label    string `json:"label"` // direction-redundancy-cores-resolution-fps
	Measured string `json:"measured"`
	// Companion host name
	Companion  string `json:"companion"`
	StartProbe int    `json:"start_probe"`
	MaxProbe   int    `json:"max_probe"`
	MaxPassing int    `json:"max_passing"`
	Status     string `json:"status"` // running, completed, zero_capacity, aborted
	Reason     string `json:"reason,omitempty"`

	// Scenario descriptor and best configuration, stored as JSON
	Scenario json.RawMessage `json:"scenario"`
	Config   json.RawMessage `json:"config,omitempty"`

	Iterations int        `json:"iterations"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns the run time of a finished sweep, or zero.
func (s *Sweep) Duration() time.Duration {
	if s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
