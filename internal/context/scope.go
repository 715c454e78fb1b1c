// Package context provides shared context utilities for workflow scoping.
package context

import (
	"context"
	"sync"
	"sync/atomic"
)

// workflowScopeKey is the context key for the ambient workflow scope
type workflowScopeKey struct{}

// WorkflowScope carries the identity of the workflow owning the current
// call chain plus the operation index allocator for that workflow.
// It is installed by the transaction coordinator when a top-level
// transaction begins and inherited by nested transactions.
type WorkflowScope struct {
	workflowID string

	// nextIndex is the next operation index to hand out, 0-based.
	nextIndex atomic.Int64

	// logWrites tracks detached operation-log writes so the coordinator
	// can wait for them before stamping final statuses.
	logWrites sync.WaitGroup
}

// NewWorkflowScope creates a scope for the given workflow id.
func NewWorkflowScope(workflowID string) *WorkflowScope {
	return &WorkflowScope{workflowID: workflowID}
}

// WorkflowID returns the id of the workflow owning this scope.
func (s *WorkflowScope) WorkflowID() string {
	return s.workflowID
}

// NextOperationIndex allocates the next operation index within the workflow.
// Indices form a prefix of the natural numbers starting at 0.
func (s *WorkflowScope) NextOperationIndex() int {
	return int(s.nextIndex.Add(1) - 1)
}

// LastOperationIndex returns the highest index handed out so far, or -1
// when no operation has been logged in this scope.
func (s *WorkflowScope) LastOperationIndex() int {
	return int(s.nextIndex.Load()) - 1
}

// OperationCount returns the number of operation indices allocated.
func (s *WorkflowScope) OperationCount() int {
	return int(s.nextIndex.Load())
}

// BeginLogWrite registers a detached operation-log write. Every call must
// be paired with EndLogWrite.
func (s *WorkflowScope) BeginLogWrite() {
	s.logWrites.Add(1)
}

// EndLogWrite marks a detached operation-log write as settled.
func (s *WorkflowScope) EndLogWrite() {
	s.logWrites.Done()
}

// WaitForLogWrites blocks until every registered log write has settled.
// Workflow bookkeeping that stamps final operation statuses must call this
// first, or a late write could land a PENDING row after the stamp.
func (s *WorkflowScope) WaitForLogWrites() {
	s.logWrites.Wait()
}

// WithWorkflowScope installs a workflow scope in the context.
func WithWorkflowScope(ctx context.Context, scope *WorkflowScope) context.Context {
	return context.WithValue(ctx, workflowScopeKey{}, scope)
}

// GetWorkflowScope extracts the ambient workflow scope from the context.
func GetWorkflowScope(ctx context.Context) (*WorkflowScope, bool) {
	scope, ok := ctx.Value(workflowScopeKey{}).(*WorkflowScope)
	return scope, ok && scope != nil
}

// GetWorkflowID extracts the ambient workflow id from the context.
func GetWorkflowID(ctx context.Context) (string, bool) {
	scope, ok := GetWorkflowScope(ctx)
	if !ok {
		return "", false
	}
	return scope.workflowID, true
}
