package transaction

import (
	"context"
	"fmt"

	wfcontext "katalyst/internal/context"
	"katalyst/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Coordinator runs user bodies inside phased database transactions. It owns
// the ambient workflow scope, the per-transaction event context, workflow
// state bookkeeping and adapter dispatch.
type Coordinator struct {
	provider      repository.TransactionProvider
	registry      *Registry
	workflowState repository.WorkflowStateRepository
	operationLog  repository.OperationLogRepository
	logger        *zap.Logger
	tracer        trace.Tracer
}

// NewCoordinator wires a coordinator. The workflow state and operation log
// repositories are expected to be wrapped in their resilient decorators so
// bookkeeping failures never break user transactions.
func NewCoordinator(
	provider repository.TransactionProvider,
	registry *Registry,
	workflowState repository.WorkflowStateRepository,
	operationLog repository.OperationLogRepository,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		provider:      provider,
		registry:      registry,
		workflowState: workflowState,
		operationLog:  operationLog,
		logger:        logger,
		tracer:        otel.Tracer("katalyst/transaction"),
	}
}

// Transaction runs body inside a transaction under a fresh workflow id.
func (c *Coordinator) Transaction(ctx context.Context, workflowName string, body func(ctx context.Context) error) error {
	return c.TransactionWithID(ctx, "", workflowName, body)
}

// TransactionWithID runs body inside a transaction. An empty workflowID
// allocates a fresh one. A call made while a transaction is already active
// on the context is nested: it shares the outer workflow and event context
// and performs no begin/commit of its own.
func (c *Coordinator) TransactionWithID(ctx context.Context, workflowID, workflowName string, body func(ctx context.Context) error) error {
	if _, nested := wfcontext.GetWorkflowScope(ctx); nested {
		return body(ctx)
	}

	if workflowID == "" {
		workflowID = uuid.NewString()
	}
	scope := wfcontext.NewWorkflowScope(workflowID)
	events := NewEventContext(workflowID)
	ctx = wfcontext.WithWorkflowScope(ctx, scope)
	ctx = WithEventContext(ctx, events)

	ctx, span := c.tracer.Start(ctx, "transaction",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.name", workflowName),
		))
	defer span.End()

	err := c.run(ctx, workflowID, workflowName, scope, events, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction rolled back")
	}
	return err
}

func (c *Coordinator) run(ctx context.Context, workflowID, workflowName string, scope *wfcontext.WorkflowScope, events *EventContext, body func(ctx context.Context) error) error {
	if _, err := c.registry.ExecutePhaseFailFast(ctx, PhaseBeforeBegin, events); err != nil {
		return err
	}

	tx, err := c.provider.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, phaseErr := c.registry.ExecutePhaseFailFast(ctx, PhaseAfterBegin, events); phaseErr != nil {
		c.rollback(ctx, tx, workflowID, scope, events, phaseErr, false)
		return phaseErr
	}

	if stateErr := c.workflowState.StartWorkflow(ctx, workflowID, workflowName); stateErr != nil {
		c.logger.Warn("failed to record workflow start",
			zap.String("workflow_id", workflowID),
			zap.Error(stateErr))
	}

	if bodyErr := body(ctx); bodyErr != nil {
		c.rollback(ctx, tx, workflowID, scope, events, bodyErr, true)
		return bodyErr
	}

	if _, phaseErr := c.registry.ExecutePhaseFailFast(ctx, PhaseBeforeCommitValidation, events); phaseErr != nil {
		c.rollback(ctx, tx, workflowID, scope, events, phaseErr, true)
		return phaseErr
	}

	if _, phaseErr := c.registry.ExecutePhaseFailFast(ctx, PhaseBeforeCommit, events); phaseErr != nil {
		c.rollback(ctx, tx, workflowID, scope, events, phaseErr, true)
		return phaseErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		c.rollback(ctx, tx, workflowID, scope, events, commitErr, true)
		return fmt.Errorf("commit transaction: %w", commitErr)
	}

	c.registry.ExecutePhaseBestEffort(ctx, PhaseAfterCommit, events)

	// In-flight operation-log writes must land before the commit stamp,
	// or a late row would stay PENDING under a COMMITTED workflow.
	scope.WaitForLogWrites()

	if stateErr := c.workflowState.CommitWorkflow(ctx, workflowID, scope.OperationCount()); stateErr != nil {
		c.logger.Warn("failed to record workflow commit",
			zap.String("workflow_id", workflowID),
			zap.Error(stateErr))
	}
	if logErr := c.operationLog.MarkAllAsCommitted(ctx, workflowID); logErr != nil {
		c.logger.Warn("failed to commit operation log",
			zap.String("workflow_id", workflowID),
			zap.Error(logErr))
	}

	c.logger.Info("transaction committed",
		zap.String("workflow_id", workflowID),
		zap.String("workflow_name", workflowName),
		zap.Int("operations", scope.OperationCount()))
	return nil
}

// rollback unwinds a failed transaction: database rollback, rollback phases,
// then workflow state bookkeeping. started marks whether the workflow state
// row exists yet.
func (c *Coordinator) rollback(ctx context.Context, tx repository.Transaction, workflowID string, scope *wfcontext.WorkflowScope, events *EventContext, cause error, started bool) {
	if tx.IsActive() {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Error("database rollback failed",
				zap.String("workflow_id", workflowID),
				zap.Error(rbErr))
		}
	}

	c.registry.ExecutePhaseBestEffort(ctx, PhaseOnRollback, events)
	c.registry.ExecutePhaseBestEffort(ctx, PhaseAfterRollback, events)

	// Recovery reads the operation log as soon as the failure is
	// recorded, so in-flight writes must land first.
	scope.WaitForLogWrites()

	if started {
		var failedAt *int
		if last := scope.LastOperationIndex(); last >= 0 {
			failedAt = &last
		}
		if stateErr := c.workflowState.FailWorkflow(ctx, workflowID, failedAt, cause.Error()); stateErr != nil {
			c.logger.Warn("failed to record workflow failure",
				zap.String("workflow_id", workflowID),
				zap.Error(stateErr))
		}
	}

	c.logger.Warn("transaction rolled back",
		zap.String("workflow_id", workflowID),
		zap.Error(cause))
}

// Execute runs body in a transaction and returns its value, for callers
// whose bodies produce a result.
func Execute[T any](ctx context.Context, c *Coordinator, workflowName string, body func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := c.Transaction(ctx, workflowName, func(ctx context.Context) error {
		var bodyErr error
		out, bodyErr = body(ctx)
		return bodyErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
