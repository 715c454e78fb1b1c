package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"katalyst/internal/domain/workflow"
)

// WorkflowStateStore is a mutex-guarded in-memory workflow state store.
type WorkflowStateStore struct {
	mu     sync.RWMutex
	states map[string]*workflow.State
}

// NewWorkflowStateStore creates an empty in-memory workflow state store.
func NewWorkflowStateStore() *WorkflowStateStore {
	return &WorkflowStateStore{
		states: make(map[string]*workflow.State),
	}
}

// StartWorkflow records a STARTED row. Workflow ids are never reused, so a
// duplicate start is an error.
func (s *WorkflowStateStore) StartWorkflow(ctx context.Context, workflowID, workflowName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.states[workflowID]; exists {
		return fmt.Errorf("workflow %s already started", workflowID)
	}
	s.states[workflowID] = &workflow.State{
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		Status:       workflow.StatusStarted,
		CreatedAt:    time.Now(),
	}
	return nil
}

// CommitWorkflow marks the workflow COMMITTED.
func (s *WorkflowStateStore) CommitWorkflow(ctx context.Context, workflowID string, totalOperations int) error {
	return s.mutate(workflowID, func(state *workflow.State) error {
		if state.Status != workflow.StatusStarted {
			return fmt.Errorf("workflow %s is %s, cannot commit", workflowID, state.Status)
		}
		now := time.Now()
		state.Status = workflow.StatusCommitted
		state.TotalOperations = totalOperations
		state.CompletedAt = &now
		return nil
	})
}

// FailWorkflow marks the workflow FAILED.
func (s *WorkflowStateStore) FailWorkflow(ctx context.Context, workflowID string, failedAtOperation *int, message string) error {
	return s.mutate(workflowID, func(state *workflow.State) error {
		if state.Status != workflow.StatusStarted {
			return fmt.Errorf("workflow %s is %s, cannot fail", workflowID, state.Status)
		}
		state.Status = workflow.StatusFailed
		state.FailedAtOperation = failedAtOperation
		state.ErrorMessage = workflow.TruncateErrorMessage(message)
		return nil
	})
}

// MarkAsUndone marks a FAILED workflow UNDONE.
func (s *WorkflowStateStore) MarkAsUndone(ctx context.Context, workflowID string) error {
	return s.mutate(workflowID, func(state *workflow.State) error {
		if state.Status != workflow.StatusFailed {
			return fmt.Errorf("workflow %s is %s, cannot mark undone", workflowID, state.Status)
		}
		now := time.Now()
		state.Status = workflow.StatusUndone
		state.FailedAtOperation = nil
		state.CompletedAt = &now
		return nil
	})
}

// MarkAsUndoFailed marks a FAILED workflow FAILED_UNDO.
func (s *WorkflowStateStore) MarkAsUndoFailed(ctx context.Context, workflowID string, message string) error {
	return s.mutate(workflowID, func(state *workflow.State) error {
		if state.Status != workflow.StatusFailed {
			return fmt.Errorf("workflow %s is %s, cannot mark undo-failed", workflowID, state.Status)
		}
		state.Status = workflow.StatusFailedUndo
		state.ErrorMessage = workflow.TruncateErrorMessage(message)
		return nil
	})
}

func (s *WorkflowStateStore) mutate(workflowID string, apply func(*workflow.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[workflowID]
	if !ok {
		return fmt.Errorf("workflow %s not found", workflowID)
	}
	return apply(state)
}

// GetWorkflowState returns a copy of the state row, or nil when absent.
func (s *WorkflowStateStore) GetWorkflowState(ctx context.Context, workflowID string) (*workflow.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[workflowID]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

// GetFailedWorkflows returns FAILED and FAILED_UNDO workflows ordered by
// creation time.
func (s *WorkflowStateStore) GetFailedWorkflows(ctx context.Context) ([]workflow.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []workflow.State
	for _, state := range s.states {
		if state.Status == workflow.StatusFailed || state.Status == workflow.StatusFailedUndo {
			out = append(out, *state)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteOldWorkflows removes only COMMITTED rows older than the threshold.
func (s *WorkflowStateStore) DeleteOldWorkflows(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for workflowID, state := range s.states {
		if state.Status == workflow.StatusCommitted && state.CreatedAt.Before(before) {
			delete(s.states, workflowID)
			deleted++
		}
	}
	return deleted, nil
}

// Seed installs a state row directly, bypassing lifecycle checks. Intended
// for tests and recovery tooling.
func (s *WorkflowStateStore) Seed(state workflow.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := state
	s.states[state.WorkflowID] = &copied
}
