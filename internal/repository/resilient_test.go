package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"katalyst/internal/domain/workflow"
	"katalyst/internal/infrastructure/persistence/memory"
	"katalyst/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStorage = errors.New("storage unavailable")

// brokenOperationLog fails every call so the decorator's policy is observable.
type brokenOperationLog struct{}

func (brokenOperationLog) LogOperation(context.Context, workflow.Operation) error {
	return errStorage
}

func (brokenOperationLog) GetPendingOperations(context.Context, string) ([]workflow.Operation, error) {
	return nil, errStorage
}

func (brokenOperationLog) GetAllOperations(context.Context, string) ([]workflow.Operation, error) {
	return nil, errStorage
}

func (brokenOperationLog) MarkAsCommitted(context.Context, string, int) error { return errStorage }
func (brokenOperationLog) MarkAllAsCommitted(context.Context, string) error   { return errStorage }
func (brokenOperationLog) MarkAsUndone(context.Context, string, int) error    { return errStorage }
func (brokenOperationLog) MarkAsFailed(context.Context, string, int, string) error {
	return errStorage
}

func (brokenOperationLog) GetFailedOperations(context.Context) ([]workflow.Operation, error) {
	return nil, errStorage
}

func (brokenOperationLog) DeleteOldOperations(context.Context, time.Time) (int, error) {
	return 0, errStorage
}

type brokenWorkflowState struct{}

func (brokenWorkflowState) StartWorkflow(context.Context, string, string) error { return errStorage }
func (brokenWorkflowState) CommitWorkflow(context.Context, string, int) error   { return errStorage }
func (brokenWorkflowState) FailWorkflow(context.Context, string, *int, string) error {
	return errStorage
}
func (brokenWorkflowState) MarkAsUndone(context.Context, string) error { return errStorage }
func (brokenWorkflowState) MarkAsUndoFailed(context.Context, string, string) error {
	return errStorage
}

func (brokenWorkflowState) GetWorkflowState(context.Context, string) (*workflow.State, error) {
	return nil, errStorage
}

func (brokenWorkflowState) GetFailedWorkflows(context.Context) ([]workflow.State, error) {
	return nil, errStorage
}

func (brokenWorkflowState) DeleteOldWorkflows(context.Context, time.Time) (int, error) {
	return 0, errStorage
}

func TestResilientOperationLog_SwallowsWriteFailures(t *testing.T) {
	log := repository.NewResilientOperationLog(brokenOperationLog{}, nil)
	ctx := context.Background()

	assert.NoError(t, log.LogOperation(ctx, workflow.Operation{WorkflowID: "w1"}))
	assert.NoError(t, log.MarkAsCommitted(ctx, "w1", 0))
	assert.NoError(t, log.MarkAllAsCommitted(ctx, "w1"))
	assert.NoError(t, log.MarkAsUndone(ctx, "w1", 0))
	assert.NoError(t, log.MarkAsFailed(ctx, "w1", 0, "boom"))
}

func TestResilientOperationLog_QueriesReturnEmptyOnFailure(t *testing.T) {
	log := repository.NewResilientOperationLog(brokenOperationLog{}, nil)
	ctx := context.Background()

	ops, err := log.GetPendingOperations(ctx, "w1")
	assert.NoError(t, err)
	assert.Empty(t, ops)

	ops, err = log.GetAllOperations(ctx, "w1")
	assert.NoError(t, err)
	assert.Empty(t, ops)
}

func TestResilientOperationLog_RetentionErrorsSurface(t *testing.T) {
	log := repository.NewResilientOperationLog(brokenOperationLog{}, nil)
	_, err := log.DeleteOldOperations(context.Background(), time.Now())
	assert.ErrorIs(t, err, errStorage)
}

func TestResilientWorkflowState_SwallowsWriteFailures(t *testing.T) {
	store := repository.NewResilientWorkflowState(brokenWorkflowState{}, nil)
	ctx := context.Background()
	failedAt := 2

	assert.NoError(t, store.StartWorkflow(ctx, "w1", "enroll"))
	assert.NoError(t, store.CommitWorkflow(ctx, "w1", 3))
	assert.NoError(t, store.FailWorkflow(ctx, "w1", &failedAt, "boom"))
	assert.NoError(t, store.MarkAsUndone(ctx, "w1"))
	assert.NoError(t, store.MarkAsUndoFailed(ctx, "w1", "boom"))

	state, err := store.GetWorkflowState(ctx, "w1")
	assert.NoError(t, err)
	assert.Nil(t, state)

	states, err := store.GetFailedWorkflows(ctx)
	assert.NoError(t, err)
	assert.Empty(t, states)
}

func TestResilientDecorators_PassThroughOnHealthyStore(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewOperationLog()
	log := repository.NewResilientOperationLog(inner, nil)

	op := workflow.Operation{
		WorkflowID:     "w1",
		OperationIndex: 0,
		OperationType:  workflow.OperationInsert,
		ResourceType:   "Account",
		ResourceID:     "a1",
		Status:         workflow.OperationPending,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, log.LogOperation(ctx, op))
	require.NoError(t, log.MarkAllAsCommitted(ctx, "w1"))

	ops, err := log.GetAllOperations(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, workflow.OperationCommitted, ops[0].Status)
}
