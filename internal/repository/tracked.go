package repository

import (
	"context"
	"reflect"
	"strings"
	"time"

	wfcontext "katalyst/internal/context"
	"katalyst/internal/domain/workflow"

	"go.uber.org/zap"
)

// UnknownResourceType is used when a resource type cannot be derived.
const UnknownResourceType = "Unknown"

// TrackedOp describes one repository mutation to be recorded in the
// operation log. UndoData must contain everything the operation's undo
// strategy needs to reverse the change; the framework never inspects it.
type TrackedOp struct {
	Type          workflow.OperationType
	ResourceType  string
	ResourceID    string
	OperationData map[string]interface{}
	UndoData      map[string]interface{}
}

// TrackedRepository is the base a repository embeds to participate in
// workflow tracking. Every mutating operation is wrapped in Tracked, which
// runs the body and then emits an operation log entry when an ambient
// workflow is present.
//
// Example:
//
//	type AccountRepository struct {
//	    repository.TrackedRepository
//	    db *sql.DB
//	}
//
//	func (r *AccountRepository) Save(ctx context.Context, account Account) error {
//	    return r.Tracked(ctx, repository.TrackedOp{
//	        Type:       workflow.OperationInsert,
//	        ResourceID: account.ID,
//	        UndoData:   map[string]interface{}{"id": account.ID},
//	    }, func(ctx context.Context) error {
//	        return r.insert(ctx, account)
//	    })
//	}
type TrackedRepository struct {
	operationLog OperationLogRepository
	resourceType string
	logger       *zap.Logger
}

// NewTrackedRepository creates the tracking base for a repository. The
// default resource type is derived from self's concrete type name by
// stripping a trailing "Repository" suffix.
func NewTrackedRepository(self interface{}, operationLog OperationLogRepository, logger *zap.Logger) TrackedRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return TrackedRepository{
		operationLog: operationLog,
		resourceType: deriveResourceType(self),
		logger:       logger,
	}
}

// Tracked runs body and, on success, records the operation against the
// ambient workflow. The log write is fire-and-forget: the body's result is
// returned without waiting for it, and a failed write never affects the
// returned error.
func (t *TrackedRepository) Tracked(ctx context.Context, op TrackedOp, body func(ctx context.Context) error) error {
	if err := body(ctx); err != nil {
		return err
	}

	scope, ok := wfcontext.GetWorkflowScope(ctx)
	if !ok {
		// Not inside a coordinated transaction; nothing to record.
		return nil
	}

	resourceType := op.ResourceType
	if resourceType == "" {
		resourceType = t.resourceType
	}

	entry := workflow.Operation{
		WorkflowID:     scope.WorkflowID(),
		OperationIndex: scope.NextOperationIndex(),
		OperationType:  op.Type,
		ResourceType:   resourceType,
		ResourceID:     op.ResourceID,
		OperationData:  op.OperationData,
		UndoData:       op.UndoData,
		Status:         workflow.OperationPending,
		CreatedAt:      time.Now(),
	}

	// Detach from caller cancellation: the repository call already
	// succeeded, so the log write must not be cut short with it. The
	// write is registered on the scope so the coordinator's commit and
	// rollback bookkeeping can wait for it to settle.
	logCtx := context.WithoutCancel(ctx)
	scope.BeginLogWrite()
	go func() {
		defer scope.EndLogWrite()
		if err := t.operationLog.LogOperation(logCtx, entry); err != nil {
			t.logger.Warn("operation log write failed",
				zap.String("workflow_id", entry.WorkflowID),
				zap.Int("operation_index", entry.OperationIndex),
				zap.String("operation_type", string(entry.OperationType)),
				zap.Error(err))
		}
	}()

	return nil
}

// ResourceType returns the resource type this repository logs by default.
func (t *TrackedRepository) ResourceType() string {
	return t.resourceType
}

// deriveResourceType names the entity kind from a repository's type name:
// "AccountRepository" -> "Account". An empty remainder yields "Unknown".
func deriveResourceType(self interface{}) string {
	if self == nil {
		return UnknownResourceType
	}
	typ := reflect.TypeOf(self)
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	name := strings.TrimSuffix(typ.Name(), "Repository")
	if name == "" {
		return UnknownResourceType
	}
	return name
}
