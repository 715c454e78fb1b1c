package memory_test

import (
	"context"
	"testing"
	"time"

	"katalyst/internal/domain/workflow"
	"katalyst/internal/infrastructure/persistence/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logOp(t *testing.T, store *memory.OperationLog, workflowID string, index int, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.LogOperation(context.Background(), workflow.Operation{
		WorkflowID:     workflowID,
		OperationIndex: index,
		OperationType:  workflow.OperationInsert,
		ResourceType:   "Account",
		CreatedAt:      createdAt,
	}))
}

func TestOperationLog_OrderingAndUniqueness(t *testing.T) {
	store := memory.NewOperationLog()
	ctx := context.Background()
	now := time.Now()

	// Insert out of order; reads must come back index-ordered.
	logOp(t, store, "wf", 2, now)
	logOp(t, store, "wf", 0, now)
	logOp(t, store, "wf", 1, now)

	err := store.LogOperation(ctx, workflow.Operation{WorkflowID: "wf", OperationIndex: 1})
	require.Error(t, err, "duplicate (workflow, index) must be rejected")

	ops, err := store.GetAllOperations(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, ops, 3)
	for i, op := range ops {
		assert.Equal(t, i, op.OperationIndex)
		assert.Equal(t, workflow.OperationPending, op.Status)
	}
}

func TestOperationLog_StatusTransitions(t *testing.T) {
	store := memory.NewOperationLog()
	ctx := context.Background()
	now := time.Now()
	logOp(t, store, "wf", 0, now)
	logOp(t, store, "wf", 1, now)
	logOp(t, store, "wf", 2, now)

	require.NoError(t, store.MarkAsCommitted(ctx, "wf", 0))
	require.NoError(t, store.MarkAsFailed(ctx, "wf", 1, "boom"))
	require.NoError(t, store.MarkAsUndone(ctx, "wf", 0))

	pending, err := store.GetPendingOperations(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].OperationIndex)

	all, _ := store.GetAllOperations(ctx, "wf")
	assert.Equal(t, workflow.OperationUndone, all[0].Status)
	assert.NotNil(t, all[0].CommittedAt)
	assert.NotNil(t, all[0].UndoneAt)
	assert.Equal(t, workflow.OperationFailed, all[1].Status)
	assert.Equal(t, "boom", all[1].ErrorMessage)
	assert.NotNil(t, all[1].LastErrorAt)

	failed, err := store.GetFailedOperations(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].OperationIndex)
}

func TestOperationLog_ErrorMessageTruncated(t *testing.T) {
	store := memory.NewOperationLog()
	ctx := context.Background()
	logOp(t, store, "wf", 0, time.Now())

	long := make([]byte, workflow.MaxErrorMessageLength*2)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, store.MarkAsFailed(ctx, "wf", 0, string(long)))

	all, _ := store.GetAllOperations(ctx, "wf")
	assert.Len(t, all[0].ErrorMessage, workflow.MaxErrorMessageLength)
}

func TestOperationLog_DeleteOldNeverReapsPending(t *testing.T) {
	store := memory.NewOperationLog()
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	logOp(t, store, "wf", 0, old)
	logOp(t, store, "wf", 1, old)
	require.NoError(t, store.MarkAsCommitted(ctx, "wf", 0))

	deleted, err := store.DeleteOldOperations(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	remaining, _ := store.GetAllOperations(ctx, "wf")
	require.Len(t, remaining, 1)
	assert.Equal(t, workflow.OperationPending, remaining[0].Status, "stale PENDING rows stay for manual review")
}

func TestWorkflowStateStore_Lifecycle(t *testing.T) {
	store := memory.NewWorkflowStateStore()
	ctx := context.Background()

	require.NoError(t, store.StartWorkflow(ctx, "wf-1", "checkout"))
	require.Error(t, store.StartWorkflow(ctx, "wf-1", "checkout"), "workflow ids are never reused")

	state, err := store.GetWorkflowState(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, workflow.StatusStarted, state.Status)

	require.NoError(t, store.CommitWorkflow(ctx, "wf-1", 4))
	state, _ = store.GetWorkflowState(ctx, "wf-1")
	assert.Equal(t, workflow.StatusCommitted, state.Status)
	assert.Equal(t, 4, state.TotalOperations)
	assert.NotNil(t, state.CompletedAt)

	// Terminal: further transitions rejected.
	require.Error(t, store.FailWorkflow(ctx, "wf-1", nil, "late failure"))
}

func TestWorkflowStateStore_FailAndUndo(t *testing.T) {
	store := memory.NewWorkflowStateStore()
	ctx := context.Background()

	failedAt := 2
	require.NoError(t, store.StartWorkflow(ctx, "wf-2", "checkout"))
	require.NoError(t, store.FailWorkflow(ctx, "wf-2", &failedAt, "connection reset"))

	state, _ := store.GetWorkflowState(ctx, "wf-2")
	assert.Equal(t, workflow.StatusFailed, state.Status)
	require.NotNil(t, state.FailedAtOperation)
	assert.Equal(t, 2, *state.FailedAtOperation)

	require.NoError(t, store.MarkAsUndone(ctx, "wf-2"))
	state, _ = store.GetWorkflowState(ctx, "wf-2")
	assert.Equal(t, workflow.StatusUndone, state.Status)
	assert.Nil(t, state.FailedAtOperation, "failedAtOperation only set for FAILED/FAILED_UNDO")
}

func TestWorkflowStateStore_FailedScanAndRetention(t *testing.T) {
	store := memory.NewWorkflowStateStore()
	ctx := context.Background()

	old := time.Now().Add(-72 * time.Hour)
	store.Seed(workflow.State{WorkflowID: "w-old", Status: workflow.StatusCommitted, CreatedAt: old})
	store.Seed(workflow.State{WorkflowID: "w-f1", Status: workflow.StatusFailed, CreatedAt: old})
	store.Seed(workflow.State{WorkflowID: "w-f2", Status: workflow.StatusFailedUndo, CreatedAt: time.Now()})
	store.Seed(workflow.State{WorkflowID: "w-ok", Status: workflow.StatusCommitted, CreatedAt: time.Now()})

	failed, err := store.GetFailedWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "w-f1", failed[0].WorkflowID, "ordered by creation time")

	deleted, err := store.DeleteOldWorkflows(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "only old COMMITTED rows are reaped")
}

func TestPublishedEventStore_IdempotentMarks(t *testing.T) {
	store := memory.NewPublishedEventStore()
	ctx := context.Background()

	t0 := time.Now().Add(-time.Hour)
	require.NoError(t, store.MarkAsPublished(ctx, "e1", t0))
	require.NoError(t, store.MarkAsPublished(ctx, "e1", time.Now()), "re-mark is not an error")

	published, err := store.IsEventPublished(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, published)

	count, _ := store.PublishedCount(ctx)
	assert.Equal(t, 1, count, "re-mark must not change the count")

	before, _ := store.CountPublishedBefore(ctx, time.Now().Add(-30*time.Minute))
	assert.Equal(t, 1, before, "first mark wins, so e1 keeps its original timestamp")

	deleted, err := store.DeletePublishedBefore(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	count, _ = store.PublishedCount(ctx)
	assert.Equal(t, 0, count)
}
