package vault

import (
	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
)

// shareableCapabilities is the ceiling for family sharing: family sharing
// never implies edit or delete.
var shareableCapabilities = id.NewCapabilitySet(id.CapabilityView, id.CapabilityComment)

// ValidateSharing enforces write-time rules for sharing settings: every
// named user must currently be a member of the owner's family, and only
// view/comment may be granted. Returns InvalidShareTarget semantics
// (CodeInvariantViolation) on a non-member target.
func ValidateSharing(sharing SharingSettings, ownerFamily map[id.UserID]bool) error {
	for member, caps := range sharing {
		if !ownerFamily[member] {
			return dErrors.New(dErrors.CodeInvariantViolation, "share target is not a member of the owner's family")
		}
		if caps.IsEmpty() {
			return dErrors.New(dErrors.CodeInvalidInput, "share entry must grant at least one capability")
		}
		for _, c := range caps.Slice() {
			if !shareableCapabilities.Has(c) {
				return dErrors.New(dErrors.CodeInvalidInput, "family sharing is limited to view and comment")
			}
		}
	}
	return nil
}

// EffectiveSharing interprets stored sharing settings against the current
// family membership. Stale entries naming users who are no longer members
// are dropped silently, not treated as grants; capabilities are capped at
// view/comment regardless of what was stored.
func EffectiveSharing(sharing SharingSettings, ownerFamily map[id.UserID]bool) SharingSettings {
	out := make(SharingSettings, len(sharing))
	for member, caps := range sharing {
		if !ownerFamily[member] {
			continue
		}
		capped := caps.Intersect(shareableCapabilities)
		if capped.IsEmpty() {
			continue
		}
		out[member] = capped
	}
	return out
}
