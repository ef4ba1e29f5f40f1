package models

import (
	"encoding/json"
	"time"
)

// Iteration represents one probe of a sweep
type Iteration struct {
	ID             int64  `json:"id"`
	SweepID        string `json:"sweep_id"`
	Index          int    `json:"index"`
	Sessions       int    `json:"sessions"`
	Label          string `json:"label"` // PASS, CAPACITY_FAIL, CRASH, INFRA_FAIL
	PassedCount    int    `json:"passed_count"`
	ExitCode       int    `json:"exit_code"`
	CompanionAlive bool   `json:"companion_alive"`
	Detail         string `json:"detail,omitempty"`
	Exception      string `json:"exception,omitempty"`
	Recovery       string `json:"recovery"` // none, rebind, reset

	Warnings []string `json:"warnings,omitempty"`
	// Extracted metrics of both sides, stored as JSON
	Metrics json.RawMessage `json:"metrics,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}
