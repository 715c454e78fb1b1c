package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"katalyst/internal/domain/workflow"
)

// OperationLog implements the operation-log contract over sqlite.
type OperationLog struct {
	db *sql.DB
}

// NewOperationLog creates the repository over the store's handle.
func NewOperationLog(store *Store) *OperationLog {
	return &OperationLog{db: store.db}
}

// LogOperation appends a PENDING row. The composite primary key rejects a
// duplicate (workflow, index) pair.
func (r *OperationLog) LogOperation(ctx context.Context, op workflow.Operation) error {
	operationData, err := encodeData(op.OperationData)
	if err != nil {
		return fmt.Errorf("encode operation data: %w", err)
	}
	undoData, err := encodeData(op.UndoData)
	if err != nil {
		return fmt.Errorf("encode undo data: %w", err)
	}

	createdAt := op.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO operation_log
			(workflow_id, operation_index, operation_type, resource_type,
			 resource_id, operation_data, undo_data, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.WorkflowID, op.OperationIndex, string(op.OperationType), op.ResourceType,
		nullableString(op.ResourceID), operationData, undoData,
		string(workflow.OperationPending), millis(createdAt))
	if err != nil {
		return fmt.Errorf("log operation %s/%d: %w", op.WorkflowID, op.OperationIndex, err)
	}
	return nil
}

const operationColumns = `workflow_id, operation_index, operation_type, resource_type,
	resource_id, operation_data, undo_data, status, error_message,
	created_at, committed_at, undone_at, last_error_at`

// GetPendingOperations returns PENDING rows ordered by operation index.
func (r *OperationLog) GetPendingOperations(ctx context.Context, workflowID string) ([]workflow.Operation, error) {
	return r.query(ctx, `
		SELECT `+operationColumns+` FROM operation_log
		WHERE workflow_id = ? AND status = ?
		ORDER BY operation_index`,
		workflowID, string(workflow.OperationPending))
}

// GetAllOperations returns every row of the workflow ordered by index.
func (r *OperationLog) GetAllOperations(ctx context.Context, workflowID string) ([]workflow.Operation, error) {
	return r.query(ctx, `
		SELECT `+operationColumns+` FROM operation_log
		WHERE workflow_id = ?
		ORDER BY operation_index`,
		workflowID)
}

// GetFailedOperations returns FAILED rows across workflows by creation time.
func (r *OperationLog) GetFailedOperations(ctx context.Context) ([]workflow.Operation, error) {
	return r.query(ctx, `
		SELECT `+operationColumns+` FROM operation_log
		WHERE status = ?
		ORDER BY created_at`,
		string(workflow.OperationFailed))
}

// MarkAsCommitted sets one operation to COMMITTED.
func (r *OperationLog) MarkAsCommitted(ctx context.Context, workflowID string, operationIndex int) error {
	return r.mark(ctx, `
		UPDATE operation_log SET status = ?, committed_at = ?
		WHERE workflow_id = ? AND operation_index = ?`,
		workflowID, operationIndex,
		string(workflow.OperationCommitted), millis(time.Now()), workflowID, operationIndex)
}

// MarkAllAsCommitted commits every PENDING operation of the workflow.
func (r *OperationLog) MarkAllAsCommitted(ctx context.Context, workflowID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE operation_log SET status = ?, committed_at = ?
		WHERE workflow_id = ? AND status = ?`,
		string(workflow.OperationCommitted), millis(time.Now()),
		workflowID, string(workflow.OperationPending))
	if err != nil {
		return fmt.Errorf("commit operations of %s: %w", workflowID, err)
	}
	return nil
}

// MarkAsUndone sets one operation to UNDONE.
func (r *OperationLog) MarkAsUndone(ctx context.Context, workflowID string, operationIndex int) error {
	return r.mark(ctx, `
		UPDATE operation_log SET status = ?, undone_at = ?
		WHERE workflow_id = ? AND operation_index = ?`,
		workflowID, operationIndex,
		string(workflow.OperationUndone), millis(time.Now()), workflowID, operationIndex)
}

// MarkAsFailed sets one operation to FAILED with a bounded message.
func (r *OperationLog) MarkAsFailed(ctx context.Context, workflowID string, operationIndex int, message string) error {
	return r.mark(ctx, `
		UPDATE operation_log SET status = ?, error_message = ?, last_error_at = ?
		WHERE workflow_id = ? AND operation_index = ?`,
		workflowID, operationIndex,
		string(workflow.OperationFailed), workflow.TruncateErrorMessage(message),
		millis(time.Now()), workflowID, operationIndex)
}

// DeleteOldOperations removes non-PENDING rows created at or before the
// threshold. PENDING rows are never reaped.
func (r *OperationLog) DeleteOldOperations(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM operation_log
		WHERE status != ? AND created_at <= ?`,
		string(workflow.OperationPending), millis(before))
	if err != nil {
		return 0, fmt.Errorf("delete old operations: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

func (r *OperationLog) mark(ctx context.Context, query, workflowID string, operationIndex int, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update operation %s/%d: %w", workflowID, operationIndex, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("operation %d not found for workflow %s", operationIndex, workflowID)
	}
	return nil
}

func (r *OperationLog) query(ctx context.Context, query string, args ...interface{}) ([]workflow.Operation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var out []workflow.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func scanOperation(rows *sql.Rows) (workflow.Operation, error) {
	var (
		op            workflow.Operation
		operationType string
		status        string
		resourceID    sql.NullString
		operationData sql.NullString
		undoData      sql.NullString
		errorMessage  sql.NullString
		createdAt     int64
		committedAt   sql.NullInt64
		undoneAt      sql.NullInt64
		lastErrorAt   sql.NullInt64
	)
	if err := rows.Scan(&op.WorkflowID, &op.OperationIndex, &operationType, &op.ResourceType,
		&resourceID, &operationData, &undoData, &status, &errorMessage,
		&createdAt, &committedAt, &undoneAt, &lastErrorAt); err != nil {
		return workflow.Operation{}, fmt.Errorf("scan operation: %w", err)
	}

	op.OperationType = workflow.OperationType(operationType)
	op.Status = workflow.OperationStatus(status)
	op.ResourceID = resourceID.String
	op.ErrorMessage = errorMessage.String
	op.CreatedAt = fromMillis(createdAt)
	op.CommittedAt = timePtr(committedAt)
	op.UndoneAt = timePtr(undoneAt)
	op.LastErrorAt = timePtr(lastErrorAt)

	var err error
	if op.OperationData, err = decodeData(operationData); err != nil {
		return workflow.Operation{}, fmt.Errorf("decode operation data: %w", err)
	}
	if op.UndoData, err = decodeData(undoData); err != nil {
		return workflow.Operation{}, fmt.Errorf("decode undo data: %w", err)
	}
	return op, nil
}

func encodeData(data map[string]interface{}) (sql.NullString, error) {
	if len(data) == 0 {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func decodeData(v sql.NullString) (map[string]interface{}, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
