package undo

import (
	"context"
	"sync"

	"katalyst/internal/domain/workflow"

	"go.uber.org/zap"
)

// Strategy reverses one kind of logged operation. Undo returns whether the
// reversal succeeded; missing undo data is a failure, not an error.
type Strategy interface {
	// Name identifies the strategy in logs and results.
	Name() string

	// CanHandle reports whether this strategy reverses the operation.
	CanHandle(op workflow.Operation) bool

	// Undo reverses the operation. The boolean is the outcome; the error,
	// when non-nil, feeds the retry policy's retryable predicate.
	Undo(ctx context.Context, op workflow.Operation) (bool, error)
}

// Registry holds strategies in registration order; the first strategy that
// accepts an operation handles it. Registration happens at startup, lookups
// at recovery time, so reads take the shared lock.
type Registry struct {
	mu         sync.RWMutex
	strategies []Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a strategy. Order matters: earlier registrations win.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
}

// FindStrategy returns the first strategy accepting the operation.
func (r *Registry) FindStrategy(op workflow.Operation) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.strategies {
		if s.CanHandle(op) {
			return s, true
		}
	}
	return nil, false
}

// ResourceWriter applies reversal mutations to the application's store.
// The framework treats resource data as opaque maps; the application maps
// them onto its tables.
type ResourceWriter interface {
	Insert(ctx context.Context, resourceType string, data map[string]interface{}) error
	Update(ctx context.Context, resourceType, resourceID string, data map[string]interface{}) error
	Delete(ctx context.Context, resourceType, resourceID string) error
}

// RemoteReverser cancels remote side effects of API-style operations.
type RemoteReverser interface {
	Reverse(ctx context.Context, endpoint, remoteID string) error
}

// NewDefaultRegistry builds the built-in strategy set: INSERT, UPDATE,
// DELETE and API-style reversal, in that order.
func NewDefaultRegistry(writer ResourceWriter, reverser RemoteReverser, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := NewRegistry()
	registry.Register(&InsertUndoStrategy{writer: writer, logger: logger})
	registry.Register(&UpdateUndoStrategy{writer: writer, logger: logger})
	registry.Register(&DeleteUndoStrategy{writer: writer, logger: logger})
	registry.Register(&APICallUndoStrategy{reverser: reverser, logger: logger})
	return registry
}

// InsertUndoStrategy reverses an INSERT by deleting the inserted row.
type InsertUndoStrategy struct {
	writer ResourceWriter
	logger *zap.Logger
}

func (s *InsertUndoStrategy) Name() string { return "insert-undo" }

func (s *InsertUndoStrategy) CanHandle(op workflow.Operation) bool {
	return op.OperationType == workflow.OperationInsert
}

func (s *InsertUndoStrategy) Undo(ctx context.Context, op workflow.Operation) (bool, error) {
	resourceID := op.ResourceID
	if resourceID == "" {
		resourceID = stringValue(op.UndoData, "id")
	}
	if resourceID == "" {
		s.logger.Warn("insert undo missing resource id",
			zap.String("workflow_id", op.WorkflowID),
			zap.Int("operation_index", op.OperationIndex))
		return false, nil
	}
	if err := s.writer.Delete(ctx, op.ResourceType, resourceID); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateUndoStrategy reverses an UPDATE by restoring the captured pre-image.
type UpdateUndoStrategy struct {
	writer ResourceWriter
	logger *zap.Logger
}

func (s *UpdateUndoStrategy) Name() string { return "update-undo" }

func (s *UpdateUndoStrategy) CanHandle(op workflow.Operation) bool {
	return op.OperationType == workflow.OperationUpdate
}

func (s *UpdateUndoStrategy) Undo(ctx context.Context, op workflow.Operation) (bool, error) {
	if len(op.UndoData) == 0 {
		s.logger.Warn("update undo missing pre-image",
			zap.String("workflow_id", op.WorkflowID),
			zap.Int("operation_index", op.OperationIndex))
		return false, nil
	}
	resourceID := op.ResourceID
	if resourceID == "" {
		resourceID = stringValue(op.UndoData, "id")
	}
	if resourceID == "" {
		return false, nil
	}
	if err := s.writer.Update(ctx, op.ResourceType, resourceID, op.UndoData); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteUndoStrategy reverses a DELETE by reinserting the captured pre-image.
type DeleteUndoStrategy struct {
	writer ResourceWriter
	logger *zap.Logger
}

func (s *DeleteUndoStrategy) Name() string { return "delete-undo" }

func (s *DeleteUndoStrategy) CanHandle(op workflow.Operation) bool {
	return op.OperationType == workflow.OperationDelete
}

func (s *DeleteUndoStrategy) Undo(ctx context.Context, op workflow.Operation) (bool, error) {
	if len(op.UndoData) == 0 {
		s.logger.Warn("delete undo missing pre-image",
			zap.String("workflow_id", op.WorkflowID),
			zap.Int("operation_index", op.OperationIndex))
		return false, nil
	}
	if err := s.writer.Insert(ctx, op.ResourceType, op.UndoData); err != nil {
		return false, err
	}
	return true, nil
}

// APICallUndoStrategy reverses API-style operations by calling the undo
// endpoint named in the operation's undo data.
type APICallUndoStrategy struct {
	reverser RemoteReverser
	logger   *zap.Logger
}

func (s *APICallUndoStrategy) Name() string { return "api-call-undo" }

func (s *APICallUndoStrategy) CanHandle(op workflow.Operation) bool {
	return op.OperationType == workflow.OperationAPICall ||
		op.OperationType == workflow.OperationExternalCall
}

func (s *APICallUndoStrategy) Undo(ctx context.Context, op workflow.Operation) (bool, error) {
	endpoint := stringValue(op.UndoData, "endpoint")
	remoteID := stringValue(op.UndoData, "remoteId")
	if endpoint == "" || remoteID == "" {
		s.logger.Warn("api call undo missing endpoint or remote id",
			zap.String("workflow_id", op.WorkflowID),
			zap.Int("operation_index", op.OperationIndex))
		return false, nil
	}
	if err := s.reverser.Reverse(ctx, endpoint, remoteID); err != nil {
		return false, err
	}
	return true, nil
}

func stringValue(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
