package audit

import (
	"context"

	id "heirloom/pkg/domain"
)

// Store persists audit events. Append-only: there is no update or delete.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByOwner(ctx context.Context, ownerID id.UserID) ([]Event, error)
}
