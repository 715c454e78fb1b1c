package undo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"katalyst/internal/domain/workflow"
	"katalyst/internal/infrastructure/persistence/memory"
	"katalyst/internal/undo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingWriter records reversal calls and fails the configured ones.
type recordingWriter struct {
	calls   []string
	failing map[string]error
}

func (w *recordingWriter) key(op, resourceType string) string { return op + ":" + resourceType }

func (w *recordingWriter) Insert(ctx context.Context, resourceType string, data map[string]interface{}) error {
	w.calls = append(w.calls, w.key("insert", resourceType))
	return w.failing[w.key("insert", resourceType)]
}

func (w *recordingWriter) Update(ctx context.Context, resourceType, resourceID string, data map[string]interface{}) error {
	w.calls = append(w.calls, w.key("update", resourceType))
	return w.failing[w.key("update", resourceType)]
}

func (w *recordingWriter) Delete(ctx context.Context, resourceType, resourceID string) error {
	w.calls = append(w.calls, w.key("delete", resourceType))
	return w.failing[w.key("delete", resourceType)]
}

type recordingReverser struct {
	calls []string
	err   error
}

func (r *recordingReverser) Reverse(ctx context.Context, endpoint, remoteID string) error {
	r.calls = append(r.calls, endpoint)
	return r.err
}

func noRetry() undo.RetryPolicy {
	return undo.RetryPolicy{MaxRetries: 0}
}

func op(index int, typ workflow.OperationType, resourceType, resourceID string, undoData map[string]interface{}) workflow.Operation {
	return workflow.Operation{
		WorkflowID:     "wf",
		OperationIndex: index,
		OperationType:  typ,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		UndoData:       undoData,
		Status:         workflow.OperationPending,
		CreatedAt:      time.Now(),
	}
}

func TestEngine_ReversesInLIFOOrder(t *testing.T) {
	writer := &recordingWriter{failing: map[string]error{}}
	registry := undo.NewDefaultRegistry(writer, &recordingReverser{}, zap.NewNop())
	engine := undo.NewEngine(registry, noRetry(), nil, zap.NewNop())

	ops := []workflow.Operation{
		op(0, workflow.OperationInsert, "Account", "a-1", nil),
		op(1, workflow.OperationUpdate, "Balance", "b-1", map[string]interface{}{"id": "b-1", "amount": 10}),
		op(2, workflow.OperationDelete, "Hold", "h-1", map[string]interface{}{"id": "h-1"}),
	}

	result := engine.UndoWorkflow(context.Background(), "wf", ops)
	require.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, result.FullySucceeded())

	// DELETE reversed first, INSERT last.
	assert.Equal(t, []string{"insert:Hold", "update:Balance", "delete:Account"}, writer.calls)
	assert.Equal(t, []int{2, 1, 0}, []int{
		result.Steps[0].OperationIndex,
		result.Steps[1].OperationIndex,
		result.Steps[2].OperationIndex,
	})
}

func TestEngine_BestEffortContinuesPastFailure(t *testing.T) {
	// Reversing the DELETE fails; the UPDATE and INSERT must still be undone.
	writer := &recordingWriter{failing: map[string]error{
		"insert:Hold": errors.New("unique constraint"),
	}}
	registry := undo.NewDefaultRegistry(writer, &recordingReverser{}, zap.NewNop())
	engine := undo.NewEngine(registry, noRetry(), nil, zap.NewNop())

	ops := []workflow.Operation{
		op(0, workflow.OperationInsert, "Account", "a-1", nil),
		op(1, workflow.OperationUpdate, "Balance", "b-1", map[string]interface{}{"id": "b-1"}),
		op(2, workflow.OperationDelete, "Hold", "h-1", map[string]interface{}{"id": "h-1"}),
	}

	result := engine.UndoWorkflow(context.Background(), "wf", ops)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, result.FullySucceeded())

	assert.Equal(t, []string{"insert:Hold", "update:Balance", "delete:Account"}, writer.calls)
	assert.False(t, result.Steps[0].Succeeded)
	assert.Contains(t, result.Steps[0].Error, "unique constraint")
	assert.True(t, result.Steps[1].Succeeded)
	assert.True(t, result.Steps[2].Succeeded)
}

func TestEngine_MissingStrategyCountsAsFailure(t *testing.T) {
	registry := undo.NewRegistry() // empty
	engine := undo.NewEngine(registry, noRetry(), nil, zap.NewNop())

	result := engine.UndoWorkflow(context.Background(), "wf", []workflow.Operation{
		op(0, workflow.OperationNotification, "Email", "e-1", nil),
	})
	require.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Steps[0].Error, "no undo strategy")
}

func TestEngine_UpdatesOperationLogStatus(t *testing.T) {
	log := memory.NewOperationLog()
	writer := &recordingWriter{failing: map[string]error{
		"delete:Account": errors.New("gone"),
	}}
	registry := undo.NewDefaultRegistry(writer, &recordingReverser{}, zap.NewNop())
	engine := undo.NewEngine(registry, noRetry(), log, zap.NewNop())

	ops := []workflow.Operation{
		op(0, workflow.OperationInsert, "Account", "a-1", nil),
		op(1, workflow.OperationDelete, "Hold", "h-1", map[string]interface{}{"id": "h-1"}),
	}
	for _, o := range ops {
		require.NoError(t, log.LogOperation(context.Background(), o))
	}

	engine.UndoWorkflow(context.Background(), "wf", ops)

	stored, err := log.GetAllOperations(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, workflow.OperationFailed, stored[0].Status)
	assert.Equal(t, "gone", stored[0].ErrorMessage)
	assert.Equal(t, workflow.OperationUndone, stored[1].Status)
}

func TestEngine_APICallUndoUsesReverser(t *testing.T) {
	reverser := &recordingReverser{}
	registry := undo.NewDefaultRegistry(&recordingWriter{}, reverser, zap.NewNop())
	engine := undo.NewEngine(registry, noRetry(), nil, zap.NewNop())

	result := engine.UndoWorkflow(context.Background(), "wf", []workflow.Operation{
		op(0, workflow.OperationAPICall, "Payment", "p-1", map[string]interface{}{
			"endpoint": "/payments/cancel",
			"remoteId": "pay-42",
		}),
	})
	require.Equal(t, 1, result.Succeeded)
	assert.Equal(t, []string{"/payments/cancel"}, reverser.calls)
}

func TestStrategies_MissingUndoDataFailsWithoutError(t *testing.T) {
	writer := &recordingWriter{}
	registry := undo.NewDefaultRegistry(writer, &recordingReverser{}, zap.NewNop())
	engine := undo.NewEngine(registry, noRetry(), nil, zap.NewNop())

	result := engine.UndoWorkflow(context.Background(), "wf", []workflow.Operation{
		op(0, workflow.OperationUpdate, "Balance", "b-1", nil),
		op(1, workflow.OperationDelete, "Hold", "h-1", nil),
		op(2, workflow.OperationAPICall, "Payment", "p-1", nil),
	})
	assert.Equal(t, 3, result.Failed)
	assert.Empty(t, writer.calls, "strategies must not touch the store without undo data")
}
