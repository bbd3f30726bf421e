package model

import "fmt"

// WorkflowStatus controls whether a workflow's trigger rule is active.
type WorkflowStatus string

const (
	WorkflowEnabled  WorkflowStatus = "ENABLED"
	WorkflowDisabled WorkflowStatus = "DISABLED"
)

// ParseWorkflowStatus converts a status name into a WorkflowStatus.
func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	switch WorkflowStatus(s) {
	case WorkflowEnabled, WorkflowDisabled:
		return WorkflowStatus(s), nil
	}
	return "", fmt.Errorf("unknown workflow status %q", s)
}

// Workflow is a user-defined automation. Definition is an opaque
// serialized action graph; the trigger package reads its "trigger" object.
type Workflow struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Definition string         `json:"definition"`
	Status     WorkflowStatus `json:"status"`
}

// Validate checks the fields a store requires before persisting.
func (w Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if _, err := ParseWorkflowStatus(string(w.Status)); err != nil {
		return err
	}
	return nil
}
