// Package memory provides in-memory implementations of the framework's
// persistence contracts, used by tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"katalyst/internal/domain/workflow"
)

// OperationLog is a mutex-guarded in-memory operation log.
type OperationLog struct {
	mu sync.RWMutex

	// operations is keyed by workflow id, then operation index.
	operations map[string]map[int]*workflow.Operation
}

// NewOperationLog creates an empty in-memory operation log.
func NewOperationLog() *OperationLog {
	return &OperationLog{
		operations: make(map[string]map[int]*workflow.Operation),
	}
}

// LogOperation appends a PENDING row. A duplicate (workflow, index) pair is
// rejected to preserve the uniqueness invariant.
func (s *OperationLog) LogOperation(ctx context.Context, op workflow.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.operations[op.WorkflowID]
	if !ok {
		rows = make(map[int]*workflow.Operation)
		s.operations[op.WorkflowID] = rows
	}
	if _, exists := rows[op.OperationIndex]; exists {
		return fmt.Errorf("operation %d already logged for workflow %s", op.OperationIndex, op.WorkflowID)
	}

	stored := op
	stored.Status = workflow.OperationPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	rows[op.OperationIndex] = &stored
	return nil
}

// GetPendingOperations returns PENDING rows ordered by operation index.
func (s *OperationLog) GetPendingOperations(ctx context.Context, workflowID string) ([]workflow.Operation, error) {
	return s.collect(workflowID, func(op *workflow.Operation) bool {
		return op.Status == workflow.OperationPending
	}), nil
}

// GetAllOperations returns all rows ordered by operation index.
func (s *OperationLog) GetAllOperations(ctx context.Context, workflowID string) ([]workflow.Operation, error) {
	return s.collect(workflowID, func(*workflow.Operation) bool { return true }), nil
}

func (s *OperationLog) collect(workflowID string, keep func(*workflow.Operation) bool) []workflow.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []workflow.Operation
	for _, op := range s.operations[workflowID] {
		if keep(op) {
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OperationIndex < out[j].OperationIndex
	})
	return out
}

// MarkAsCommitted sets one operation to COMMITTED.
func (s *OperationLog) MarkAsCommitted(ctx context.Context, workflowID string, operationIndex int) error {
	return s.mutate(workflowID, operationIndex, func(op *workflow.Operation) {
		now := time.Now()
		op.Status = workflow.OperationCommitted
		op.CommittedAt = &now
	})
}

// MarkAllAsCommitted commits every PENDING operation of the workflow.
func (s *OperationLog) MarkAllAsCommitted(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, op := range s.operations[workflowID] {
		if op.Status == workflow.OperationPending {
			op.Status = workflow.OperationCommitted
			op.CommittedAt = &now
		}
	}
	return nil
}

// MarkAsUndone sets one operation to UNDONE.
func (s *OperationLog) MarkAsUndone(ctx context.Context, workflowID string, operationIndex int) error {
	return s.mutate(workflowID, operationIndex, func(op *workflow.Operation) {
		now := time.Now()
		op.Status = workflow.OperationUndone
		op.UndoneAt = &now
	})
}

// MarkAsFailed sets one operation to FAILED with a bounded message.
func (s *OperationLog) MarkAsFailed(ctx context.Context, workflowID string, operationIndex int, message string) error {
	return s.mutate(workflowID, operationIndex, func(op *workflow.Operation) {
		now := time.Now()
		op.Status = workflow.OperationFailed
		op.ErrorMessage = workflow.TruncateErrorMessage(message)
		op.LastErrorAt = &now
	})
}

func (s *OperationLog) mutate(workflowID string, operationIndex int, apply func(*workflow.Operation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[workflowID][operationIndex]
	if !ok {
		return fmt.Errorf("operation %d not found for workflow %s", operationIndex, workflowID)
	}
	apply(op)
	return nil
}

// GetFailedOperations returns FAILED rows across all workflows ordered by
// creation time.
func (s *OperationLog) GetFailedOperations(ctx context.Context) ([]workflow.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []workflow.Operation
	for _, rows := range s.operations {
		for _, op := range rows {
			if op.Status == workflow.OperationFailed {
				out = append(out, *op)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteOldOperations removes non-PENDING rows created at or before the
// threshold. PENDING rows are never reaped.
func (s *OperationLog) DeleteOldOperations(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for workflowID, rows := range s.operations {
		for index, op := range rows {
			if op.Status != workflow.OperationPending && !op.CreatedAt.After(before) {
				delete(rows, index)
				deleted++
			}
		}
		if len(rows) == 0 {
			delete(s.operations, workflowID)
		}
	}
	return deleted, nil
}
