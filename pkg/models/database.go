package models

import "time"

// RunStatus tracks whether a persisted run holds usable output.
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunComplete   RunStatus = "complete"
	RunIncomplete RunStatus = "incomplete"
)

// RunInfo describes one fingerprinting run as kept by the persistent sinks.
type RunInfo struct {
	ID         string     `json:"id"`
	Input      string     `json:"input"`
	Strategy   Strategy   `json:"strategy"`
	Mode       Mode       `json:"mode"`
	SampleRate int        `json:"sample_rate"`
	Status     RunStatus  `json:"status"`
	Records    int64      `json:"records"`
	Digest     uint64     `json:"digest,string"` // xxhash64 of the text rendering of all records
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
