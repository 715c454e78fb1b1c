package memory

import (
	"context"
	"sync"
	"time"
)

// PublishedEventStore is a thread-safe in-memory event deduplication store.
// Marks are visible to subsequent reads immediately.
type PublishedEventStore struct {
	mu        sync.RWMutex
	published map[string]time.Time
}

// NewPublishedEventStore creates an empty dedup store.
func NewPublishedEventStore() *PublishedEventStore {
	return &PublishedEventStore{
		published: make(map[string]time.Time),
	}
}

// IsEventPublished reports whether the event id was already marked.
func (s *PublishedEventStore) IsEventPublished(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.published[eventID]
	return ok, nil
}

// MarkAsPublished records the publish time. Re-marking an existing id is a
// no-op: the first mark wins and the count is unchanged.
func (s *PublishedEventStore) MarkAsPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.published[eventID]; exists {
		return nil
	}
	s.published[eventID] = publishedAt
	return nil
}

// DeletePublishedBefore removes markers older than the threshold.
func (s *PublishedEventStore) DeletePublishedBefore(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for eventID, at := range s.published {
		if at.Before(before) {
			delete(s.published, eventID)
			deleted++
		}
	}
	return deleted, nil
}

// PublishedCount returns the number of marked event ids.
func (s *PublishedEventStore) PublishedCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.published), nil
}

// CountPublishedBefore returns the number of markers older than the threshold.
func (s *PublishedEventStore) CountPublishedBefore(ctx context.Context, before time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, at := range s.published {
		if at.Before(before) {
			count++
		}
	}
	return count, nil
}
