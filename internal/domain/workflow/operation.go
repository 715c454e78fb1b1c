// Package workflow holds the core domain model of the framework: logged
// operations, persisted workflow state, the in-memory state machine, and
// the multi-step composer.
package workflow

import (
	"time"
)

// OperationType classifies a logged operation. The closed set below covers
// the framework's built-in undo strategies; applications may declare their
// own types and register matching strategies.
type OperationType string

const (
	OperationInsert       OperationType = "INSERT"
	OperationUpdate       OperationType = "UPDATE"
	OperationDelete       OperationType = "DELETE"
	OperationAPICall      OperationType = "API_CALL"
	OperationExternalCall OperationType = "EXTERNAL_CALL"
	OperationNotification OperationType = "NOTIFICATION"
)

// OperationStatus tracks the lifecycle of a logged operation.
// Legal transitions: PENDING -> {COMMITTED, FAILED}; COMMITTED -> UNDONE;
// FAILED -> UNDONE.
type OperationStatus string

const (
	OperationPending   OperationStatus = "PENDING"
	OperationCommitted OperationStatus = "COMMITTED"
	OperationUndone    OperationStatus = "UNDONE"
	OperationFailed    OperationStatus = "FAILED"
)

// MaxErrorMessageLength bounds persisted error messages.
const MaxErrorMessageLength = 1024

// Operation is one unit of tracked work inside a workflow. OperationData and
// UndoData are opaque to the framework; whatever a repository wrote into
// UndoData is exactly what the operation's undo strategy will read.
type Operation struct {
	WorkflowID     string                 `json:"workflowId"`
	OperationIndex int                    `json:"operationIndex"`
	OperationType  OperationType          `json:"operationType"`
	ResourceType   string                 `json:"resourceType"`
	ResourceID     string                 `json:"resourceId,omitempty"`
	OperationData  map[string]interface{} `json:"operationData,omitempty"`
	UndoData       map[string]interface{} `json:"undoData,omitempty"`
	Status         OperationStatus        `json:"status"`
	ErrorMessage   string                 `json:"errorMessage,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	CommittedAt    *time.Time             `json:"committedAt,omitempty"`
	UndoneAt       *time.Time             `json:"undoneAt,omitempty"`
	LastErrorAt    *time.Time             `json:"lastErrorAt,omitempty"`
}

// TruncateErrorMessage bounds an error message for persistence.
func TruncateErrorMessage(message string) string {
	if len(message) > MaxErrorMessageLength {
		return message[:MaxErrorMessageLength]
	}
	return message
}
