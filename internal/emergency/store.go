package emergency

import (
	"context"
	"time"

	id "heirloom/pkg/domain"
)

// RequestStore persists emergency access requests. Transition is the only
// mutation path after creation; it is a compare-and-swap on the current
// state so a duplicate worker that loses the race gets a no-op, never a
// duplicate transition.
type RequestStore interface {
	// Create fails with sentinel.ErrConflict when a non-terminal request
	// already exists for the (requester, target owner) pair.
	Create(ctx context.Context, req Request) error
	// Find returns sentinel.ErrNotFound for unknown requests.
	Find(ctx context.Context, requestID id.RequestID) (Request, error)
	ListInState(ctx context.Context, state RequestState) ([]Request, error)

	// Transition moves the request from the expected prior state to the next
	// state, recording timestamps (ApprovedAt when entering WaitingPeriod,
	// ResolvedAt when entering a terminal state). Returns false when the
	// request was not in the expected state.
	Transition(ctx context.Context, requestID id.RequestID, from, to RequestState, at time.Time) (bool, error)

	// SetScope records the grant scope decided at verification time.
	SetScope(ctx context.Context, requestID id.RequestID, scope GrantScope) error
}

// GrantStore persists access grants. One grant per request, enforced by the
// store, so a repaired or replayed grant issuance is idempotent.
type GrantStore interface {
	// CreateIfAbsent inserts the grant unless one already exists for its
	// request; it returns the stored grant either way.
	CreateIfAbsent(ctx context.Context, grant Grant) (Grant, error)
	// Find returns sentinel.ErrNotFound for unknown grants.
	Find(ctx context.Context, grantID id.GrantID) (Grant, error)
	FindByRequest(ctx context.Context, requestID id.RequestID) (Grant, error)
	ListByGrantee(ctx context.Context, granteeID id.UserID) ([]Grant, error)
	// Revoke sets the revocation flag. Returns false when the grant was
	// already revoked.
	Revoke(ctx context.Context, grantID id.GrantID, at time.Time) (bool, error)
}

// CooldownStore tracks the post-terminal resubmission cooldown per
// (requester, target owner) pair.
type CooldownStore interface {
	Set(ctx context.Context, requester, owner id.UserID, ttl time.Duration) error
	Active(ctx context.Context, requester, owner id.UserID) (bool, error)
}
