package audit

import (
	"time"

	id "heirloom/pkg/domain"
)

// Kind names a consequential permission decision. One audit entry is written
// per decision so disputes can be resolved after the fact.
type Kind string

const (
	KindRequestSubmitted  Kind = "request_submitted"
	KindRequestApproved   Kind = "request_approved"
	KindRequestDenied     Kind = "request_denied"
	KindRequestWithdrawn  Kind = "request_withdrawn"
	KindRequestCanceled   Kind = "request_canceled"
	KindRequestExpired    Kind = "request_expired"
	KindGrantIssued       Kind = "grant_issued"
	KindGrantRevoked      Kind = "grant_revoked"
	KindItemDelivered     Kind = "item_delivered"
	KindSharingUpdated    Kind = "sharing_updated"
	KindRoleChanged       Kind = "role_changed"
	KindMemberAdded       Kind = "member_added"
	KindMemberRemoved     Kind = "member_removed"
	KindNonOwnerAccess    Kind = "non_owner_access"
	KindItemTombstoned    Kind = "item_tombstoned"
	KindLifeEventRecorded Kind = "life_event_recorded"
)

// Event is emitted from domain logic to capture key decisions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID             string
	Kind           Kind
	EntityRef      string
	OwnerID        id.UserID
	ActorID        id.UserID
	ResultingState string
	Detail         string
	OccurredAt     time.Time
}
