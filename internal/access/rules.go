package access

import (
	"time"

	"heirloom/internal/emergency"
	"heirloom/internal/vault"
	id "heirloom/pkg/domain"
)

// Query is everything a capability decision depends on, resolved by the
// caller. Resolution is a pure function of this snapshot; no I/O happens
// during the decision itself.
type Query struct {
	Actor id.UserID
	Item  vault.Item
	// OwnerFamily is the current membership of the item owner's family.
	OwnerFamily map[id.UserID]bool
	// Grants are the actor's emergency access grants, live or not.
	Grants []emergency.Grant
	Now    time.Time
}

var viewOnly = id.NewCapabilitySet(id.CapabilityView)

// Capabilities resolves what the actor may do with the item. Fail-closed:
// the zero actor, an unknown relationship, or a tombstoned item all resolve
// to the empty set. Capabilities from family sharing and from emergency
// grants combine by union.
func Capabilities(q Query) id.CapabilitySet {
	if q.Actor.IsNil() {
		return id.CapabilitySet{}
	}

	switch q.Item.State {
	case vault.StateActive:
		return activeCapabilities(q)
	case vault.StateDelivered:
		return deliveredCapabilities(q)
	default:
		// Tombstoned or unknown state.
		return id.CapabilitySet{}
	}
}

func activeCapabilities(q Query) id.CapabilitySet {
	if q.Actor == q.Item.OwnerID {
		return id.FullCapabilitySet()
	}
	caps := sharedCapabilities(q)
	return caps.Union(grantCapabilities(q))
}

// deliveredCapabilities caps everyone at view: delivered content is frozen,
// so edit and comment no longer apply, and the owner keeps read access to
// what was sent.
func deliveredCapabilities(q Query) id.CapabilitySet {
	if q.Actor == q.Item.OwnerID {
		return viewOnly
	}
	caps := sharedCapabilities(q).Union(grantCapabilities(q))
	return caps.Intersect(viewOnly)
}

func sharedCapabilities(q Query) id.CapabilitySet {
	effective := vault.EffectiveSharing(q.Item.Sharing, q.OwnerFamily)
	if caps, ok := effective[q.Actor]; ok {
		return caps
	}
	return id.CapabilitySet{}
}

func grantCapabilities(q Query) id.CapabilitySet {
	out := id.CapabilitySet{}
	for _, g := range q.Grants {
		if g.GranteeID != q.Actor || g.TargetOwnerID != q.Item.OwnerID {
			continue
		}
		if !g.Live(q.Now) || !g.Scope.Covers(q.Item.ID) {
			continue
		}
		out = out.Union(viewOnly)
		if g.Scope.AllowEdit {
			out = out.Union(id.NewCapabilitySet(id.CapabilityEdit))
		}
	}
	return out
}
