package undo

import (
	"context"
	"fmt"
	"sort"

	"katalyst/internal/domain/workflow"
	"katalyst/internal/repository"

	"go.uber.org/zap"
)

// StepResult records one reversal attempt.
type StepResult struct {
	OperationIndex int                    `json:"operationIndex"`
	OperationType  workflow.OperationType `json:"operationType"`
	ResourceType   string                 `json:"resourceType"`
	Succeeded      bool                   `json:"succeeded"`
	Error          string                 `json:"error,omitempty"`
}

// Result aggregates a workflow reversal.
type Result struct {
	WorkflowID string       `json:"workflowId"`
	Total      int          `json:"total"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Steps      []StepResult `json:"steps"`
}

// FullySucceeded reports whether every operation was reversed.
func (r *Result) FullySucceeded() bool {
	return r.Failed == 0
}

// Engine reverses a failed workflow's operations in LIFO order.
// Undo is best-effort: a failed step never stops the remaining steps,
// because aborting would leave everything before it unreversed.
type Engine struct {
	registry     *Registry
	policy       RetryPolicy
	operationLog repository.OperationLogRepository
	logger       *zap.Logger
}

// NewEngine creates an undo engine. operationLog may be nil when the caller
// does not want per-operation status updates.
func NewEngine(registry *Registry, policy RetryPolicy, operationLog repository.OperationLogRepository, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:     registry,
		policy:       policy,
		operationLog: operationLog,
		logger:       logger,
	}
}

// UndoWorkflow reverses the given operations, highest index first.
func (e *Engine) UndoWorkflow(ctx context.Context, workflowID string, ops []workflow.Operation) *Result {
	ordered := make([]workflow.Operation, len(ops))
	copy(ordered, ops)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].OperationIndex > ordered[j].OperationIndex
	})

	result := &Result{WorkflowID: workflowID, Total: len(ordered)}
	for _, op := range ordered {
		step := e.undoOne(ctx, op)
		result.Steps = append(result.Steps, step)
		if step.Succeeded {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	e.logger.Info("workflow undo finished",
		zap.String("workflow_id", workflowID),
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))
	return result
}

func (e *Engine) undoOne(ctx context.Context, op workflow.Operation) StepResult {
	step := StepResult{
		OperationIndex: op.OperationIndex,
		OperationType:  op.OperationType,
		ResourceType:   op.ResourceType,
	}

	strategy, found := e.registry.FindStrategy(op)
	if !found {
		step.Error = fmt.Sprintf("no undo strategy for %s/%s", op.OperationType, op.ResourceType)
		e.logger.Warn("no undo strategy registered",
			zap.String("workflow_id", op.WorkflowID),
			zap.Int("operation_index", op.OperationIndex),
			zap.String("operation_type", string(op.OperationType)))
		e.markFailed(ctx, op, step.Error)
		return step
	}

	var lastErr error
	step.Succeeded = e.policy.Execute(ctx, func(ctx context.Context) (bool, error) {
		ok, err := strategy.Undo(ctx, op)
		if err != nil {
			lastErr = err
		}
		return ok, err
	})

	if step.Succeeded {
		e.markUndone(ctx, op)
		return step
	}

	if lastErr != nil {
		step.Error = lastErr.Error()
	} else {
		step.Error = fmt.Sprintf("strategy %s reported failure", strategy.Name())
	}
	e.markFailed(ctx, op, step.Error)
	return step
}

func (e *Engine) markUndone(ctx context.Context, op workflow.Operation) {
	if e.operationLog == nil {
		return
	}
	if err := e.operationLog.MarkAsUndone(ctx, op.WorkflowID, op.OperationIndex); err != nil {
		e.logger.Warn("failed to mark operation undone",
			zap.String("workflow_id", op.WorkflowID),
			zap.Int("operation_index", op.OperationIndex),
			zap.Error(err))
	}
}

func (e *Engine) markFailed(ctx context.Context, op workflow.Operation, message string) {
	if e.operationLog == nil {
		return
	}
	if err := e.operationLog.MarkAsFailed(ctx, op.WorkflowID, op.OperationIndex, message); err != nil {
		e.logger.Warn("failed to mark operation failed",
			zap.String("workflow_id", op.WorkflowID),
			zap.Int("operation_index", op.OperationIndex),
			zap.Error(err))
	}
}
