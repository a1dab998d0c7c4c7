package entity

import "time"

// RunStatus is the outcome of the most recent run of a target.
type RunStatus string

const (
	RunStatusNeverRun RunStatus = "never-run"
	RunStatusSuccess  RunStatus = "success"
	RunStatusFailure  RunStatus = "failure"
)

// RunRecord is the persisted run state of a single target url.
type RunRecord struct {
	URL          string        `json:"url"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	LastStatus   RunStatus     `json:"last_status"`
	InProgress   bool          `json:"in_progress"`
	RunID        string        `json:"run_id,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
}

// NewRunRecord returns the record of a target that has never run.
func NewRunRecord(url string) RunRecord {
	return RunRecord{URL: url, LastStatus: RunStatusNeverRun}
}
