package model

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunError   RunStatus = "ERROR"
)

// ParseRunStatus converts a status name into a RunStatus.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunRunning, RunSuccess, RunError:
		return RunStatus(s), nil
	}
	return "", fmt.Errorf("unknown run status %q", s)
}

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunError
}

// Run is one recorded execution attempt of a workflow.
//
// EndedAt is the zero time while Status is RunRunning.
type Run struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
	Status     RunStatus `json:"status"`
	Log        string    `json:"log"`
}

// Ended reports whether the run has an end timestamp.
func (r Run) Ended() bool {
	return !r.EndedAt.IsZero()
}

// NewRun builds the record for a create. A zero StartedAt is stamped with
// now and a missing ID is generated.
func NewRun(in Run, now time.Time) (Run, error) {
	if in.Status == "" {
		in.Status = RunRunning
	}
	if _, err := ParseRunStatus(string(in.Status)); err != nil {
		return Run{}, err
	}
	if in.ID == "" {
		in.ID = NewID()
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = now
	}
	return settleEnd(in, now), nil
}

// MergeRun applies an update to an existing record.
//
// Zero StartedAt and EndedAt in the update mean "leave unchanged". All other
// fields are replaced. A terminal run may be rewritten with the same status
// but never moved to a different one.
func MergeRun(existing, update Run, now time.Time) (Run, error) {
	if update.Status == "" {
		update.Status = existing.Status
	}
	if _, err := ParseRunStatus(string(update.Status)); err != nil {
		return Run{}, err
	}
	if existing.Status.Terminal() && update.Status != existing.Status {
		return Run{}, NewInvalidTransitionError(existing.ID, existing.Status, update.Status)
	}

	merged := existing
	merged.WorkflowID = update.WorkflowID
	if merged.WorkflowID == "" {
		merged.WorkflowID = existing.WorkflowID
	}
	merged.Status = update.Status
	merged.Log = update.Log
	if !update.StartedAt.IsZero() {
		merged.StartedAt = update.StartedAt
	}
	if !update.EndedAt.IsZero() {
		merged.EndedAt = update.EndedAt
	}
	return settleEnd(merged, now), nil
}

// settleEnd keeps EndedAt consistent with Status and cuts both timestamps
// to the millisecond precision every backend stores.
func settleEnd(r Run, now time.Time) Run {
	r.StartedAt = r.StartedAt.Truncate(time.Millisecond)
	if !r.Status.Terminal() {
		r.EndedAt = time.Time{}
		return r
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = now
	}
	r.EndedAt = r.EndedAt.Truncate(time.Millisecond)
	return r
}
