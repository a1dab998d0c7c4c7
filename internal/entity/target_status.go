package entity

import (
	"fmt"
	"time"
)

// TargetState is the dispatcher-side state of a target.
type TargetState string

const (
	StateIdle      TargetState = "idle"
	StateDue       TargetState = "due"
	StateRunning   TargetState = "running"
	StateSucceeded TargetState = "succeeded"
	StateFailed    TargetState = "failed"
)

var validTransitions = map[TargetState][]TargetState{
	StateIdle:      {StateDue},
	StateDue:       {StateRunning, StateIdle},
	StateRunning:   {StateSucceeded, StateFailed},
	StateSucceeded: {StateIdle},
	StateFailed:    {StateIdle},
}

// ValidateTransition returns an error if a target may not move from one state to another.
func ValidateTransition(from, to TargetState) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source state: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %s to %s", from, to)
}

// TargetStatus is a point-in-time view of one target, exposed by the status API.
type TargetStatus struct {
	URL        string
	Frequency  Frequency
	State      TargetState
	NextDueAt  time.Time
	LastRunAt  *time.Time
	LastStatus RunStatus
	LastError  string
	RunID      string
}
