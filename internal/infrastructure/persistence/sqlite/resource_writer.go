package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// identifierPattern limits table and column names derived from opaque
// resource data; anything else is rejected rather than quoted.
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ResourceWriter applies undo mutations to application tables. It maps a
// resource type to a snake_case table and treats the undo-data keys as
// columns, with "id" as the row key. Applications with richer schemas
// supply their own writer.
type ResourceWriter struct {
	db *sql.DB
}

// NewResourceWriter creates a writer over the store's handle.
func NewResourceWriter(store *Store) *ResourceWriter {
	return &ResourceWriter{db: store.db}
}

// Insert reinserts a deleted row from its captured pre-image.
func (w *ResourceWriter) Insert(ctx context.Context, resourceType string, data map[string]interface{}) error {
	table, err := tableName(resourceType)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("insert into %s: no data", table)
	}

	columns := make([]string, 0, len(data))
	for column := range data {
		if !identifierPattern.MatchString(column) {
			return fmt.Errorf("insert into %s: invalid column %q", table, column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	values := make([]interface{}, len(columns))
	placeholders := make([]string, len(columns))
	for i, column := range columns {
		values[i] = data[column]
		placeholders[i] = "?"
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := w.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// Update restores a row to its captured pre-image.
func (w *ResourceWriter) Update(ctx context.Context, resourceType, resourceID string, data map[string]interface{}) error {
	table, err := tableName(resourceType)
	if err != nil {
		return err
	}

	columns := make([]string, 0, len(data))
	for column := range data {
		if column == "id" {
			continue
		}
		if !identifierPattern.MatchString(column) {
			return fmt.Errorf("update %s: invalid column %q", table, column)
		}
		columns = append(columns, column)
	}
	if len(columns) == 0 {
		return fmt.Errorf("update %s: no columns to restore", table)
	}
	sort.Strings(columns)

	assignments := make([]string, len(columns))
	values := make([]interface{}, 0, len(columns)+1)
	for i, column := range columns {
		assignments[i] = column + " = ?"
		values = append(values, data[column])
	}
	values = append(values, resourceID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(assignments, ", "))
	res, err := w.db.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("update %s: row %s not found", table, resourceID)
	}
	return nil
}

// Delete removes an inserted row.
func (w *ResourceWriter) Delete(ctx context.Context, resourceType, resourceID string) error {
	table, err := tableName(resourceType)
	if err != nil {
		return err
	}
	res, err := w.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), resourceID)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("delete from %s: row %s not found", table, resourceID)
	}
	return nil
}

// tableName maps a CamelCase resource type to its snake_case table.
func tableName(resourceType string) (string, error) {
	if !identifierPattern.MatchString(resourceType) {
		return "", fmt.Errorf("invalid resource type %q", resourceType)
	}
	var b strings.Builder
	for i, r := range resourceType {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}
