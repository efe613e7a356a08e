package models

import "time"

// WorkerStatus is the health state of a logical execution slot.
type WorkerStatus string

const (
	WorkerStatusIdle     WorkerStatus = "idle"
	WorkerStatusBusy     WorkerStatus = "busy"
	WorkerStatusDegraded WorkerStatus = "degraded"
	WorkerStatusOffline  WorkerStatus = "offline"
)

// Worker is one logical execution slot tracked by the dispatcher.
// Status is busy iff CurrentJobID is set.
type Worker struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentJobID  string       `json:"current_job_id,omitempty"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	LastAssigned  time.Time    `json:"last_assigned"`
}
