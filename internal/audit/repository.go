package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Repository errors.
var (
	// ErrSequenceConflict is returned when an append loses a race with
	// another writer for the same sequence number. The logger re-reads the
	// chain head and the caller may retry.
	ErrSequenceConflict = errors.New("audit sequence number already written")
)

// Repository defines the persistence interface for the audit chain.
// Events are append-only: there is no update or delete operation.
type Repository interface {
	// Append persists a fully constructed event.
	// Returns ErrSequenceConflict if the sequence number is already taken.
	Append(ctx context.Context, e *Event) error

	// Latest returns the event with the highest sequence number, or nil
	// when the log is empty.
	Latest(ctx context.Context) (*Event, error)

	// QueryRange returns events within [start, end] sorted by timestamp
	// ascending. A zero start or end leaves that bound open.
	QueryRange(ctx context.Context, start, end time.Time) ([]*Event, error)

	// QueryByUser returns events for a user, newest first.
	// Limit 0 means no limit.
	QueryByUser(ctx context.Context, userID string, limit int) ([]*Event, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events []*Event
	bySeq  map[int64]*Event
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		bySeq: make(map[int64]*Event),
	}
}

// Append persists an event, rejecting duplicate sequence numbers.
func (r *InMemoryRepository) Append(ctx context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySeq[e.SequenceNumber]; exists {
		return ErrSequenceConflict
	}

	stored := copyEvent(e)
	r.events = append(r.events, stored)
	r.bySeq[e.SequenceNumber] = stored
	return nil
}

// Latest returns the most recently appended event, or nil when empty.
func (r *InMemoryRepository) Latest(ctx context.Context) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.events) == 0 {
		return nil, nil
	}
	return copyEvent(r.events[len(r.events)-1]), nil
}

// QueryRange returns events within the time range, timestamp ascending.
func (r *InMemoryRepository) QueryRange(ctx context.Context, start, end time.Time) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Event
	for _, e := range r.events {
		if !start.IsZero() && e.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && e.Timestamp.After(end) {
			continue
		}
		results = append(results, copyEvent(e))
	}
	return results, nil
}

// QueryByUser returns events for a user, newest first.
func (r *InMemoryRepository) QueryByUser(ctx context.Context, userID string, limit int) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Event
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.UserID != userID {
			continue
		}
		results = append(results, copyEvent(e))
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// tamper overwrites the stored event at the given sequence number without
// recomputing hashes. Test hook for simulating adversarial modification.
func (r *InMemoryRepository) tamper(seq int64, mutate func(*Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.bySeq[seq]; ok {
		mutate(e)
	}
}

// remove deletes the stored event at the given sequence number. Test hook
// for simulating adversarial deletion.
func (r *InMemoryRepository) remove(seq int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySeq[seq]
	if !ok {
		return
	}
	delete(r.bySeq, seq)
	for i, stored := range r.events {
		if stored == e {
			r.events = append(r.events[:i], r.events[i+1:]...)
			break
		}
	}
}

// copyEvent returns a deep copy to prevent external modification.
func copyEvent(e *Event) *Event {
	dup := *e
	if e.Metadata != nil {
		dup.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}
