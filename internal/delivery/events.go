package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	id "heirloom/pkg/domain"
)

// LifeEvent is a durable fact about an owner, e.g. "owner_confirmed_deceased"
// or "estate_settled". Event-based delivery triggers fire once the named
// event is on record. Events are facts, not edges: recording the same event
// twice is a no-op.
type LifeEvent struct {
	OwnerID    id.UserID
	Kind       string
	RecordedAt time.Time
}

// EventStore persists life events.
type EventStore interface {
	// Record stores the event unless it already exists. Returns whether this
	// call created it.
	Record(ctx context.Context, event LifeEvent) (bool, error)
	Has(ctx context.Context, ownerID id.UserID, kind string) (bool, error)
	ListByOwner(ctx context.Context, ownerID id.UserID) ([]LifeEvent, error)
}

type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]LifeEvent
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string]LifeEvent)}
}

func (s *InMemoryEventStore) Record(_ context.Context, event LifeEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventKey(event.OwnerID, event.Kind)
	if _, ok := s.events[key]; ok {
		return false, nil
	}
	s.events[key] = event
	return true, nil
}

func (s *InMemoryEventStore) Has(_ context.Context, ownerID id.UserID, kind string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[eventKey(ownerID, kind)]
	return ok, nil
}

func (s *InMemoryEventStore) ListByOwner(_ context.Context, ownerID id.UserID) ([]LifeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LifeEvent
	for _, e := range s.events {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func eventKey(ownerID id.UserID, kind string) string {
	return ownerID.String() + ":" + kind
}

type PostgresEventStore struct {
	db *sql.DB
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) Record(ctx context.Context, event LifeEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO life_events (owner_id, kind, recorded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, kind) DO NOTHING`,
		event.OwnerID.String(), event.Kind, event.RecordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record life event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record life event: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresEventStore) Has(ctx context.Context, ownerID id.UserID, kind string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM life_events WHERE owner_id = $1 AND kind = $2)`,
		ownerID.String(), kind,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check life event: %w", err)
	}
	return exists, nil
}

func (s *PostgresEventStore) ListByOwner(ctx context.Context, ownerID id.UserID) ([]LifeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, kind, recorded_at FROM life_events
		WHERE owner_id = $1 ORDER BY recorded_at`, ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("list life events: %w", err)
	}
	defer rows.Close()

	var out []LifeEvent
	for rows.Next() {
		var (
			e   LifeEvent
			raw string
		)
		if err := rows.Scan(&raw, &e.Kind, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan life event: %w", err)
		}
		if e.OwnerID, err = id.ParseUserID(raw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
