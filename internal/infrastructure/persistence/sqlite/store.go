// Package sqlite implements the framework's persistence contracts on a
// relational store via database/sql and the go-sqlite3 driver. Timestamps
// are stored as unix milliseconds; operation and undo data as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"katalyst/internal/repository"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS operation_log (
	workflow_id     TEXT    NOT NULL,
	operation_index INTEGER NOT NULL,
	operation_type  TEXT    NOT NULL,
	resource_type   TEXT    NOT NULL,
	resource_id     TEXT,
	operation_data  TEXT,
	undo_data       TEXT,
	status          TEXT    NOT NULL,
	error_message   TEXT,
	created_at      BIGINT  NOT NULL,
	committed_at    BIGINT,
	undone_at       BIGINT,
	last_error_at   BIGINT,
	PRIMARY KEY (workflow_id, operation_index)
);
CREATE INDEX IF NOT EXISTS idx_operation_log_status ON operation_log (status);
CREATE INDEX IF NOT EXISTS idx_operation_log_created_at ON operation_log (created_at);

CREATE TABLE IF NOT EXISTS workflow_state (
	workflow_id         TEXT PRIMARY KEY,
	workflow_name       TEXT   NOT NULL,
	status              TEXT   NOT NULL,
	total_operations    INTEGER NOT NULL DEFAULT 0,
	failed_at_operation INTEGER,
	error_message       TEXT,
	created_at          BIGINT NOT NULL,
	completed_at        BIGINT
);
CREATE INDEX IF NOT EXISTS idx_workflow_state_status_created ON workflow_state (status, created_at);

CREATE TABLE IF NOT EXISTS published_event (
	event_id     TEXT PRIMARY KEY,
	published_at BIGINT NOT NULL
);
`

// Store owns the database handle shared by the repository implementations.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. The busy timeout keeps concurrent writers from failing fast on
// sqlite's single-writer lock.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("sqlite store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for the repository constructors.
func (s *Store) DB() *sql.DB {
	return s.db
}

// sqlTx adapts *sql.Tx to the coordinator's transaction contract.
type sqlTx struct {
	tx     *sql.Tx
	active bool
}

func (t *sqlTx) Commit() error {
	t.active = false
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	t.active = false
	return t.tx.Rollback()
}

func (t *sqlTx) IsActive() bool { return t.active }

// TransactionProvider begins database transactions for the coordinator.
type TransactionProvider struct {
	db *sql.DB
}

// NewTransactionProvider wraps the store's handle.
func NewTransactionProvider(store *Store) *TransactionProvider {
	return &TransactionProvider{db: store.db}
}

// BeginTransaction opens one *sql.Tx. The transaction holds a single
// connection for its whole life, satisfying the one-connection rule.
func (p *TransactionProvider) BeginTransaction(ctx context.Context) (repository.Transaction, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTx{tx: tx, active: true}, nil
}

// millis converts a time to storage form.
func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis converts storage form back to a time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// nullableMillis converts an optional time.
func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

// timePtr converts an optional storage value.
func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
