package models

import "time"

// SweepReport summarises one reconciliation run.
type SweepReport struct {
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	StaleRemoved int               `json:"stale_removed"`
	Purged       int               `json:"purged"`
	Failed       int               `json:"failed"`
	Reconciled   []ReconcileReport `json:"reconciled,omitempty"`
	Skipped      bool              `json:"skipped,omitempty"`
}
