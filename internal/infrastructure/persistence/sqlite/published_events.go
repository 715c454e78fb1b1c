package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PublishedEventStore implements event deduplication over sqlite.
type PublishedEventStore struct {
	db *sql.DB
}

// NewPublishedEventStore creates the repository over the store's handle.
func NewPublishedEventStore(store *Store) *PublishedEventStore {
	return &PublishedEventStore{db: store.db}
}

// IsEventPublished reports whether the event id was already published.
func (r *PublishedEventStore) IsEventPublished(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM published_event WHERE event_id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup event %s: %w", eventID, err)
	}
	return true, nil
}

// MarkAsPublished records the publish time. Re-marking keeps the original
// timestamp: first mark wins.
func (r *PublishedEventStore) MarkAsPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO published_event (event_id, published_at) VALUES (?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, millis(publishedAt))
	if err != nil {
		return fmt.Errorf("mark event %s published: %w", eventID, err)
	}
	return nil
}

// DeletePublishedBefore removes markers older than the threshold.
func (r *PublishedEventStore) DeletePublishedBefore(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM published_event WHERE published_at < ?`, millis(before))
	if err != nil {
		return 0, fmt.Errorf("delete published markers: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

// PublishedCount returns the number of marked event ids.
func (r *PublishedEventStore) PublishedCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM published_event`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count published events: %w", err)
	}
	return count, nil
}

// CountPublishedBefore returns the number of markers older than the threshold.
func (r *PublishedEventStore) CountPublishedBefore(ctx context.Context, before time.Time) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM published_event WHERE published_at < ?`, millis(before)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count published events before threshold: %w", err)
	}
	return count, nil
}
