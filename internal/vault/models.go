package vault

import (
	"time"

	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
)

// Kind classifies a vault item's content.
type Kind string

const (
	KindNote     Kind = "note"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

var validKinds = map[Kind]bool{
	KindNote:     true,
	KindAudio:    true,
	KindDocument: true,
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !validKinds[k] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid item kind")
	}
	return k, nil
}

// State is the explicit lifecycle state of an item. Every state is named; no
// state is inferred from nullable columns.
type State string

const (
	// StateActive: private to the owner plus whatever sharing resolves to.
	StateActive State = "active"
	// StateDelivered: the delivery trigger fired; content handed to the
	// notification collaborator. Content is immutable from here on.
	StateDelivered State = "delivered"
	// StateTombstoned: soft-deleted. Items referenced by a pending
	// emergency request or an unfired trigger are tombstoned, never
	// hard-deleted.
	StateTombstoned State = "tombstoned"
)

// TriggerKind distinguishes date-based from event-based delivery triggers.
type TriggerKind string

const (
	TriggerOnDate  TriggerKind = "on_date"
	TriggerOnEvent TriggerKind = "on_event"
)

// DeliveryTrigger is the condition under which an item transitions from
// private to delivered. A trigger fires at most once; the firing is recorded
// on the item (FiredAt) so re-evaluation is idempotent.
type DeliveryTrigger struct {
	Kind TriggerKind
	// At is set for on_date triggers.
	At time.Time
	// Event names the life event for on_event triggers, e.g.
	// "owner_confirmed_deceased".
	Event string
}

func (t DeliveryTrigger) Validate() error {
	switch t.Kind {
	case TriggerOnDate:
		if t.At.IsZero() {
			return dErrors.New(dErrors.CodeInvalidInput, "on_date trigger requires a timestamp")
		}
	case TriggerOnEvent:
		if t.Event == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "on_event trigger requires an event kind")
		}
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "invalid trigger kind")
	}
	return nil
}

// SharingSettings maps a family member to the capabilities the owner granted
// them on one item. Validated at write time; stale entries (users no longer
// in the owner's family) are dropped silently at read time.
type SharingSettings map[id.UserID]id.CapabilitySet

// Item is a single piece of vault content owned by one user. The owner is
// immutable after creation; content is mutated only by the owner, and state
// only by the owner (tombstone) or the delivery scheduler (delivered).
type Item struct {
	ID         id.ItemID
	OwnerID    id.UserID
	Kind       Kind
	ContentRef string
	State      State
	Sharing    SharingSettings
	Trigger    *DeliveryTrigger
	FiredAt    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TriggerPending reports whether the item still has an unfired trigger.
func (i Item) TriggerPending() bool {
	return i.Trigger != nil && i.FiredAt == nil
}
