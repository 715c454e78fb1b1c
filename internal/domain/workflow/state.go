package workflow

import (
	"time"
)

// Status is the persisted lifecycle of a workflow.
// The status is monotone along: STARTED -> {COMMITTED, FAILED};
// FAILED -> {UNDONE, FAILED_UNDO}. COMMITTED, UNDONE and FAILED_UNDO
// are terminal.
type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusCommitted  Status = "COMMITTED"
	StatusFailed     Status = "FAILED"
	StatusUndone     Status = "UNDONE"
	StatusFailedUndo Status = "FAILED_UNDO"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCommitted, StatusUndone, StatusFailedUndo:
		return true
	}
	return false
}

// State is the durable record of a workflow, one row per workflow id.
// FailedAtOperation is set iff Status is FAILED or FAILED_UNDO.
type State struct {
	WorkflowID        string     `json:"workflowId"`
	WorkflowName      string     `json:"workflowName"`
	Status            Status     `json:"status"`
	TotalOperations   int        `json:"totalOperations"`
	FailedAtOperation *int       `json:"failedAtOperation,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}
