package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "heirloom/pkg/domain"
)

// PostgresStore persists audit events in PostgreSQL. Pure I/O; emission
// policy (never blocking the substantive transition) lives in the Publisher.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	query := `
		INSERT INTO audit_events (id, kind, entity_ref, owner_id, actor_id, resulting_state, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var ownerID, actorID any
	if !event.OwnerID.IsNil() {
		ownerID = event.OwnerID.String()
	}
	if !event.ActorID.IsNil() {
		actorID = event.ActorID.String()
	}
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Kind),
		event.EntityRef,
		ownerID,
		actorID,
		event.ResultingState,
		event.Detail,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID id.UserID) ([]Event, error) {
	query := `
		SELECT id, kind, entity_ref, owner_id, actor_id, resulting_state, detail, occurred_at
		FROM audit_events
		WHERE owner_id = $1
		ORDER BY occurred_at
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var owner, actor sql.NullString
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &e.EntityRef, &owner, &actor, &e.ResultingState, &detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if owner.Valid {
			if parsed, err := id.ParseUserID(owner.String); err == nil {
				e.OwnerID = parsed
			}
		}
		if actor.Valid {
			if parsed, err := id.ParseUserID(actor.String); err == nil {
				e.ActorID = parsed
			}
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}
