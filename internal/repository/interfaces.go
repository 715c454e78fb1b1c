// Package repository defines the persistence contracts of the framework and
// the tracked-repository base that feeds the operation log. Implementations
// live under internal/infrastructure/persistence.
package repository

import (
	"context"
	"time"

	"katalyst/internal/domain/workflow"
)

// OperationLogRepository is the durable, append-only record of operations
// keyed by workflow. (workflow_id, operation_index) is unique; operation
// index is the sole ordering key within a workflow.
type OperationLogRepository interface {
	// LogOperation appends a PENDING row for the operation.
	LogOperation(ctx context.Context, op workflow.Operation) error

	// GetPendingOperations returns all PENDING rows for the workflow,
	// ordered by operation index ascending.
	GetPendingOperations(ctx context.Context, workflowID string) ([]workflow.Operation, error)

	// GetAllOperations returns every row for the workflow regardless of
	// status, ordered by operation index ascending.
	GetAllOperations(ctx context.Context, workflowID string) ([]workflow.Operation, error)

	// MarkAsCommitted sets a single operation to COMMITTED and stamps committedAt.
	MarkAsCommitted(ctx context.Context, workflowID string, operationIndex int) error

	// MarkAllAsCommitted commits every PENDING operation of the workflow.
	MarkAllAsCommitted(ctx context.Context, workflowID string) error

	// MarkAsUndone sets an operation to UNDONE and stamps undoneAt.
	MarkAsUndone(ctx context.Context, workflowID string, operationIndex int) error

	// MarkAsFailed sets an operation to FAILED and records a bounded message.
	MarkAsFailed(ctx context.Context, workflowID string, operationIndex int, message string) error

	// GetFailedOperations scans all workflows for FAILED rows, ordered by
	// creation time.
	GetFailedOperations(ctx context.Context) ([]workflow.Operation, error)

	// DeleteOldOperations removes rows created at or before the threshold
	// whose status is not PENDING. PENDING rows are never reaped; stale
	// pending rows indicate orphaned work needing manual review.
	DeleteOldOperations(ctx context.Context, before time.Time) (int, error)
}

// WorkflowStateRepository is the durable state record for each workflow.
type WorkflowStateRepository interface {
	// StartWorkflow records a STARTED row for a new workflow.
	StartWorkflow(ctx context.Context, workflowID, workflowName string) error

	// CommitWorkflow marks the workflow COMMITTED, stamps completedAt and
	// records the total operation count.
	CommitWorkflow(ctx context.Context, workflowID string, totalOperations int) error

	// FailWorkflow marks the workflow FAILED, recording the index of the
	// first failing operation (nil when nothing was logged) and the message.
	FailWorkflow(ctx context.Context, workflowID string, failedAtOperation *int, message string) error

	// MarkAsUndone marks a FAILED workflow UNDONE and stamps completedAt.
	MarkAsUndone(ctx context.Context, workflowID string) error

	// MarkAsUndoFailed marks a FAILED workflow FAILED_UNDO.
	MarkAsUndoFailed(ctx context.Context, workflowID string, message string) error

	// GetWorkflowState returns the state row, or nil when absent.
	GetWorkflowState(ctx context.Context, workflowID string) (*workflow.State, error)

	// GetFailedWorkflows returns FAILED and FAILED_UNDO workflows ordered
	// by creation time.
	GetFailedWorkflows(ctx context.Context) ([]workflow.State, error)

	// DeleteOldWorkflows removes only COMMITTED rows older than the threshold.
	DeleteOldWorkflows(ctx context.Context, before time.Time) (int, error)
}

// PublishedEventRepository remembers published event ids across retries so
// event publishing is idempotent. Implementations must be safe for
// concurrent use, and marks must be immediately visible to subsequent reads
// within the process.
type PublishedEventRepository interface {
	// IsEventPublished reports whether the event id was already published.
	IsEventPublished(ctx context.Context, eventID string) (bool, error)

	// MarkAsPublished records the publish time for an event id. Re-marking
	// an already-marked id is not an error and does not change the count.
	MarkAsPublished(ctx context.Context, eventID string, publishedAt time.Time) error

	// DeletePublishedBefore removes markers older than the threshold and
	// returns the number deleted.
	DeletePublishedBefore(ctx context.Context, before time.Time) (int, error)

	// PublishedCount returns the number of marked event ids.
	PublishedCount(ctx context.Context) (int, error)

	// CountPublishedBefore returns the number of markers older than the
	// threshold.
	CountPublishedBefore(ctx context.Context, before time.Time) (int, error)
}

// Transaction represents an open database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	IsActive() bool
}

// TransactionProvider begins database transactions for the coordinator.
// A transaction owns exactly one connection; inner calls must not acquire
// a second one.
type TransactionProvider interface {
	BeginTransaction(ctx context.Context) (Transaction, error)
}
