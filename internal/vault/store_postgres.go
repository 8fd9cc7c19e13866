package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	id "heirloom/pkg/domain"
	"heirloom/pkg/platform/sentinel"
)

// PostgresStore persists vault items in PostgreSQL. The delivery transition
// is a single conditional UPDATE keyed on the trigger's unfired state so a
// crash between "decided to deliver" and "marked fired" cannot cause a
// duplicate send on restart.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, item Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create item: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var triggerKind, triggerEvent any
	var triggerAt any
	if item.Trigger != nil {
		triggerKind = string(item.Trigger.Kind)
		if item.Trigger.Kind == TriggerOnDate {
			triggerAt = item.Trigger.At
		}
		if item.Trigger.Kind == TriggerOnEvent {
			triggerEvent = item.Trigger.Event
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vault_items (id, owner_id, kind, content_ref, state, trigger_kind, trigger_at, trigger_event, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		item.ID.String(), item.OwnerID.String(), string(item.Kind), item.ContentRef,
		string(item.State), triggerKind, triggerAt, triggerEvent, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	if err := replaceShares(ctx, tx, item.ID, item.Sharing); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create item: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, itemID id.ItemID) (Item, error) {
	item, err := s.findOne(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	sharing, err := s.loadShares(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	item.Sharing = sharing
	return item, nil
}

func (s *PostgresStore) findOne(ctx context.Context, itemID id.ItemID) (Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, content_ref, state, trigger_kind, trigger_at, trigger_event, fired_at, created_at, updated_at
		FROM vault_items WHERE id = $1
	`, itemID.String())
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("find item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID id.UserID) ([]Item, error) {
	return s.list(ctx, `
		SELECT id, owner_id, kind, content_ref, state, trigger_kind, trigger_at, trigger_event, fired_at, created_at, updated_at
		FROM vault_items WHERE owner_id = $1 ORDER BY created_at
	`, ownerID.String())
}

func (s *PostgresStore) ListPendingTriggers(ctx context.Context) ([]Item, error) {
	return s.list(ctx, `
		SELECT id, owner_id, kind, content_ref, state, trigger_kind, trigger_at, trigger_event, fired_at, created_at, updated_at
		FROM vault_items WHERE trigger_kind IS NOT NULL AND fired_at IS NULL AND state = 'active'
	`)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		sharing, err := s.loadShares(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Sharing = sharing
	}
	return out, nil
}

func (s *PostgresStore) UpdateSharing(ctx context.Context, itemID id.ItemID, sharing SharingSettings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update sharing: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM vault_items WHERE id = $1)`, itemID.String()).Scan(&exists); err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_shares WHERE item_id = $1`, itemID.String()); err != nil {
		return fmt.Errorf("clear shares: %w", err)
	}
	if err := replaceShares(ctx, tx, itemID, sharing); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update sharing: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateContent(ctx context.Context, itemID id.ItemID, contentRef string, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE vault_items SET content_ref = $2, updated_at = $3 WHERE id = $1`,
		itemID.String(), contentRef, now,
	)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update content rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, itemID id.ItemID, firedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE vault_items
		SET state = 'delivered', fired_at = $2, updated_at = $2
		WHERE id = $1 AND state = 'active' AND fired_at IS NULL
	`, itemID.String(), firedAt)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark delivered rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) Tombstone(ctx context.Context, itemID id.ItemID, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE vault_items
		SET state = 'tombstoned', updated_at = $2
		WHERE id = $1 AND state = 'active'
	`, itemID.String(), now)
	if err != nil {
		return false, fmt.Errorf("tombstone item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tombstone rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) loadShares(ctx context.Context, itemID id.ItemID) (SharingSettings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id, capabilities FROM item_shares WHERE item_id = $1`, itemID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("load shares: %w", err)
	}
	defer rows.Close()

	sharing := make(SharingSettings)
	for rows.Next() {
		var memberID, caps string
		if err := rows.Scan(&memberID, &caps); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		member, err := id.ParseUserID(memberID)
		if err != nil {
			continue
		}
		set := id.NewCapabilitySet()
		for _, c := range strings.Split(caps, ",") {
			if parsed, err := id.ParseCapability(c); err == nil {
				set = set.Union(id.NewCapabilitySet(parsed))
			}
		}
		sharing[member] = set
	}
	if len(sharing) == 0 {
		return nil, rows.Err()
	}
	return sharing, rows.Err()
}

func replaceShares(ctx context.Context, tx *sql.Tx, itemID id.ItemID, sharing SharingSettings) error {
	for member, caps := range sharing {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO item_shares (item_id, member_id, capabilities) VALUES ($1, $2, $3)`,
			itemID.String(), member.String(), caps.String(),
		); err != nil {
			return fmt.Errorf("insert share: %w", err)
		}
	}
	return nil
}

type itemRow interface {
	Scan(dest ...any) error
}

func scanItem(row itemRow) (Item, error) {
	var item Item
	var itemID, ownerID, kind, state string
	var triggerKind, triggerEvent sql.NullString
	var triggerAt, firedAt sql.NullTime
	if err := row.Scan(&itemID, &ownerID, &kind, &item.ContentRef, &state,
		&triggerKind, &triggerAt, &triggerEvent, &firedAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Item{}, err
	}
	if parsed, err := id.ParseItemID(itemID); err == nil {
		item.ID = parsed
	}
	if parsed, err := id.ParseUserID(ownerID); err == nil {
		item.OwnerID = parsed
	}
	item.Kind = Kind(kind)
	item.State = State(state)
	if triggerKind.Valid {
		trigger := &DeliveryTrigger{Kind: TriggerKind(triggerKind.String)}
		if triggerAt.Valid {
			trigger.At = triggerAt.Time
		}
		if triggerEvent.Valid {
			trigger.Event = triggerEvent.String
		}
		item.Trigger = trigger
	}
	if firedAt.Valid {
		t := firedAt.Time
		item.FiredAt = &t
	}
	return item, nil
}
