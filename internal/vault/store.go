package vault

import (
	"context"
	"time"

	id "heirloom/pkg/domain"
)

// Store persists vault items. State transitions are atomic conditional
// updates: MarkDelivered and Tombstone check the current state and report
// whether this caller performed the transition, so concurrent workers
// converge on one outcome.
type Store interface {
	Create(ctx context.Context, item Item) error
	// Find returns sentinel.ErrNotFound for unknown items.
	Find(ctx context.Context, itemID id.ItemID) (Item, error)
	ListByOwner(ctx context.Context, ownerID id.UserID) ([]Item, error)
	// ListPendingTriggers returns items whose trigger has not fired,
	// regardless of trigger kind.
	ListPendingTriggers(ctx context.Context) ([]Item, error)

	UpdateSharing(ctx context.Context, itemID id.ItemID, sharing SharingSettings) error
	UpdateContent(ctx context.Context, itemID id.ItemID, contentRef string, now time.Time) error

	// MarkDelivered transitions active → delivered and records the firing in
	// the same write. Returns false when the item was not in a deliverable
	// state (already fired, tombstoned); that is a no-op, not an error.
	MarkDelivered(ctx context.Context, itemID id.ItemID, firedAt time.Time) (bool, error)
	// Tombstone transitions active → tombstoned. Returns false when the item
	// was not active.
	Tombstone(ctx context.Context, itemID id.ItemID, now time.Time) (bool, error)
}
