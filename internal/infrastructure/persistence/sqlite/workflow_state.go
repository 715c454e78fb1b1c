package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"katalyst/internal/domain/workflow"
)

// WorkflowStateStore implements the workflow-state contract over sqlite.
type WorkflowStateStore struct {
	db *sql.DB
}

// NewWorkflowStateStore creates the repository over the store's handle.
func NewWorkflowStateStore(store *Store) *WorkflowStateStore {
	return &WorkflowStateStore{db: store.db}
}

// StartWorkflow records a STARTED row. The primary key enforces that
// workflow ids are never reused.
func (r *WorkflowStateStore) StartWorkflow(ctx context.Context, workflowID, workflowName string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_state (workflow_id, workflow_name, status, created_at)
		VALUES (?, ?, ?, ?)`,
		workflowID, workflowName, string(workflow.StatusStarted), millis(time.Now()))
	if err != nil {
		return fmt.Errorf("start workflow %s: %w", workflowID, err)
	}
	return nil
}

// CommitWorkflow marks a STARTED workflow COMMITTED.
func (r *WorkflowStateStore) CommitWorkflow(ctx context.Context, workflowID string, totalOperations int) error {
	return r.transition(ctx, workflowID, "commit", `
		UPDATE workflow_state
		SET status = ?, total_operations = ?, completed_at = ?
		WHERE workflow_id = ? AND status = ?`,
		string(workflow.StatusCommitted), totalOperations, millis(time.Now()),
		workflowID, string(workflow.StatusStarted))
}

// FailWorkflow marks a STARTED workflow FAILED.
func (r *WorkflowStateStore) FailWorkflow(ctx context.Context, workflowID string, failedAtOperation *int, message string) error {
	var failedAt sql.NullInt64
	if failedAtOperation != nil {
		failedAt = sql.NullInt64{Int64: int64(*failedAtOperation), Valid: true}
	}
	return r.transition(ctx, workflowID, "fail", `
		UPDATE workflow_state
		SET status = ?, failed_at_operation = ?, error_message = ?
		WHERE workflow_id = ? AND status = ?`,
		string(workflow.StatusFailed), failedAt, workflow.TruncateErrorMessage(message),
		workflowID, string(workflow.StatusStarted))
}

// MarkAsUndone marks a FAILED workflow UNDONE and clears the failure index.
func (r *WorkflowStateStore) MarkAsUndone(ctx context.Context, workflowID string) error {
	return r.transition(ctx, workflowID, "mark undone", `
		UPDATE workflow_state
		SET status = ?, failed_at_operation = NULL, completed_at = ?
		WHERE workflow_id = ? AND status = ?`,
		string(workflow.StatusUndone), millis(time.Now()),
		workflowID, string(workflow.StatusFailed))
}

// MarkAsUndoFailed marks a FAILED workflow FAILED_UNDO.
func (r *WorkflowStateStore) MarkAsUndoFailed(ctx context.Context, workflowID string, message string) error {
	return r.transition(ctx, workflowID, "mark undo-failed", `
		UPDATE workflow_state
		SET status = ?, error_message = ?
		WHERE workflow_id = ? AND status = ?`,
		string(workflow.StatusFailedUndo), workflow.TruncateErrorMessage(message),
		workflowID, string(workflow.StatusFailed))
}

func (r *WorkflowStateStore) transition(ctx context.Context, workflowID, verb, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s workflow %s: %w", verb, workflowID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("cannot %s workflow %s: not found or wrong status", verb, workflowID)
	}
	return nil
}

const stateColumns = `workflow_id, workflow_name, status, total_operations,
	failed_at_operation, error_message, created_at, completed_at`

// GetWorkflowState returns the state row, or nil when absent.
func (r *WorkflowStateStore) GetWorkflowState(ctx context.Context, workflowID string) (*workflow.State, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stateColumns+` FROM workflow_state WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	state, err := scanState(rows)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// GetFailedWorkflows returns FAILED and FAILED_UNDO rows by creation time.
func (r *WorkflowStateStore) GetFailedWorkflows(ctx context.Context) ([]workflow.State, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stateColumns+` FROM workflow_state
		WHERE status IN (?, ?)
		ORDER BY created_at`,
		string(workflow.StatusFailed), string(workflow.StatusFailedUndo))
	if err != nil {
		return nil, fmt.Errorf("query failed workflows: %w", err)
	}
	defer rows.Close()

	var out []workflow.State
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

// DeleteOldWorkflows removes only COMMITTED rows older than the threshold.
func (r *WorkflowStateStore) DeleteOldWorkflows(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM workflow_state
		WHERE status = ? AND created_at < ?`,
		string(workflow.StatusCommitted), millis(before))
	if err != nil {
		return 0, fmt.Errorf("delete old workflows: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

func scanState(rows *sql.Rows) (workflow.State, error) {
	var (
		state        workflow.State
		status       string
		failedAt     sql.NullInt64
		errorMessage sql.NullString
		createdAt    int64
		completedAt  sql.NullInt64
	)
	if err := rows.Scan(&state.WorkflowID, &state.WorkflowName, &status,
		&state.TotalOperations, &failedAt, &errorMessage, &createdAt, &completedAt); err != nil {
		return workflow.State{}, fmt.Errorf("scan workflow state: %w", err)
	}
	state.Status = workflow.Status(status)
	if failedAt.Valid {
		idx := int(failedAt.Int64)
		state.FailedAtOperation = &idx
	}
	state.ErrorMessage = errorMessage.String
	state.CreatedAt = fromMillis(createdAt)
	state.CompletedAt = timePtr(completedAt)
	return state, nil
}
