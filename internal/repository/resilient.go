package repository

import (
	"context"
	"time"

	"katalyst/internal/domain/workflow"

	"go.uber.org/zap"
)

// ResilientOperationLog decorates an OperationLogRepository with the
// framework's failure policy: writes log and swallow storage errors (the
// underlying repository call has already returned), queries log and return
// empty results. Retention deletes keep their error so callers can alert.
type ResilientOperationLog struct {
	inner  OperationLogRepository
	logger *zap.Logger
}

// NewResilientOperationLog wraps an operation log with the swallow-and-log policy.
func NewResilientOperationLog(inner OperationLogRepository, logger *zap.Logger) *ResilientOperationLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientOperationLog{inner: inner, logger: logger}
}

func (r *ResilientOperationLog) LogOperation(ctx context.Context, op workflow.Operation) error {
	if err := r.inner.LogOperation(ctx, op); err != nil {
		r.logger.Warn("swallowing operation log write failure",
			zap.String("workflow_id", op.WorkflowID),
			zap.Int("operation_index", op.OperationIndex),
			zap.Error(err))
	}
	return nil
}

func (r *ResilientOperationLog) GetPendingOperations(ctx context.Context, workflowID string) ([]workflow.Operation, error) {
	ops, err := r.inner.GetPendingOperations(ctx, workflowID)
	if err != nil {
		r.logger.Error("pending operations query failed",
			zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, nil
	}
	return ops, nil
}

func (r *ResilientOperationLog) GetAllOperations(ctx context.Context, workflowID string) ([]workflow.Operation, error) {
	ops, err := r.inner.GetAllOperations(ctx, workflowID)
	if err != nil {
		r.logger.Error("operations query failed",
			zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, nil
	}
	return ops, nil
}

func (r *ResilientOperationLog) MarkAsCommitted(ctx context.Context, workflowID string, operationIndex int) error {
	if err := r.inner.MarkAsCommitted(ctx, workflowID, operationIndex); err != nil {
		r.logger.Warn("swallowing operation commit-mark failure",
			zap.String("workflow_id", workflowID),
			zap.Int("operation_index", operationIndex), zap.Error(err))
	}
	return nil
}

func (r *ResilientOperationLog) MarkAllAsCommitted(ctx context.Context, workflowID string) error {
	if err := r.inner.MarkAllAsCommitted(ctx, workflowID); err != nil {
		r.logger.Warn("swallowing operation commit-mark failure",
			zap.String("workflow_id", workflowID), zap.Error(err))
	}
	return nil
}

func (r *ResilientOperationLog) MarkAsUndone(ctx context.Context, workflowID string, operationIndex int) error {
	if err := r.inner.MarkAsUndone(ctx, workflowID, operationIndex); err != nil {
		r.logger.Warn("swallowing operation undone-mark failure",
			zap.String("workflow_id", workflowID),
			zap.Int("operation_index", operationIndex), zap.Error(err))
	}
	return nil
}

func (r *ResilientOperationLog) MarkAsFailed(ctx context.Context, workflowID string, operationIndex int, message string) error {
	if err := r.inner.MarkAsFailed(ctx, workflowID, operationIndex, message); err != nil {
		r.logger.Warn("swallowing operation failed-mark failure",
			zap.String("workflow_id", workflowID),
			zap.Int("operation_index", operationIndex), zap.Error(err))
	}
	return nil
}

func (r *ResilientOperationLog) GetFailedOperations(ctx context.Context) ([]workflow.Operation, error) {
	ops, err := r.inner.GetFailedOperations(ctx)
	if err != nil {
		r.logger.Error("failed operations scan failed", zap.Error(err))
		return nil, nil
	}
	return ops, nil
}

func (r *ResilientOperationLog) DeleteOldOperations(ctx context.Context, before time.Time) (int, error) {
	return r.inner.DeleteOldOperations(ctx, before)
}

// ResilientWorkflowState decorates a WorkflowStateRepository so state writes
// never block the enclosing transaction's success path. Recoverable errors
// are logged; reads return nil/empty on error.
type ResilientWorkflowState struct {
	inner  WorkflowStateRepository
	logger *zap.Logger
}

// NewResilientWorkflowState wraps a workflow state store with the
// swallow-and-log policy.
func NewResilientWorkflowState(inner WorkflowStateRepository, logger *zap.Logger) *ResilientWorkflowState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientWorkflowState{inner: inner, logger: logger}
}

func (r *ResilientWorkflowState) StartWorkflow(ctx context.Context, workflowID, workflowName string) error {
	if err := r.inner.StartWorkflow(ctx, workflowID, workflowName); err != nil {
		r.logger.Warn("swallowing workflow start-record failure",
			zap.String("workflow_id", workflowID),
			zap.String("workflow_name", workflowName), zap.Error(err))
	}
	return nil
}

func (r *ResilientWorkflowState) CommitWorkflow(ctx context.Context, workflowID string, totalOperations int) error {
	if err := r.inner.CommitWorkflow(ctx, workflowID, totalOperations); err != nil {
		r.logger.Warn("swallowing workflow commit-record failure",
			zap.String("workflow_id", workflowID), zap.Error(err))
	}
	return nil
}

func (r *ResilientWorkflowState) FailWorkflow(ctx context.Context, workflowID string, failedAtOperation *int, message string) error {
	if err := r.inner.FailWorkflow(ctx, workflowID, failedAtOperation, message); err != nil {
		r.logger.Warn("swallowing workflow fail-record failure",
			zap.String("workflow_id", workflowID), zap.Error(err))
	}
	return nil
}

func (r *ResilientWorkflowState) MarkAsUndone(ctx context.Context, workflowID string) error {
	if err := r.inner.MarkAsUndone(ctx, workflowID); err != nil {
		r.logger.Warn("swallowing workflow undone-record failure",
			zap.String("workflow_id", workflowID), zap.Error(err))
	}
	return nil
}

func (r *ResilientWorkflowState) MarkAsUndoFailed(ctx context.Context, workflowID string, message string) error {
	if err := r.inner.MarkAsUndoFailed(ctx, workflowID, message); err != nil {
		r.logger.Warn("swallowing workflow undo-failed-record failure",
			zap.String("workflow_id", workflowID), zap.Error(err))
	}
	return nil
}

func (r *ResilientWorkflowState) GetWorkflowState(ctx context.Context, workflowID string) (*workflow.State, error) {
	state, err := r.inner.GetWorkflowState(ctx, workflowID)
	if err != nil {
		r.logger.Error("workflow state query failed",
			zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, nil
	}
	return state, nil
}

func (r *ResilientWorkflowState) GetFailedWorkflows(ctx context.Context) ([]workflow.State, error) {
	states, err := r.inner.GetFailedWorkflows(ctx)
	if err != nil {
		r.logger.Error("failed workflows query failed", zap.Error(err))
		return nil, nil
	}
	return states, nil
}

func (r *ResilientWorkflowState) DeleteOldWorkflows(ctx context.Context, before time.Time) (int, error) {
	return r.inner.DeleteOldWorkflows(ctx, before)
}
