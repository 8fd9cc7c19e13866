package emergency

import (
	"strings"
	"time"

	id "heirloom/pkg/domain"
)

// RequestState is the explicit state of an emergency access request. Every
// transition is an atomic conditional update from an expected prior state.
//
//	Submitted → UnderVerification → (Approved | Denied | Withdrawn)
//	Approved  → WaitingPeriod → (Granted | Canceled)
//	UnderVerification, WaitingPeriod → Expired (on timeout)
type RequestState string

const (
	StateSubmitted         RequestState = "submitted"
	StateUnderVerification RequestState = "under_verification"
	StateApproved          RequestState = "approved"
	StateWaitingPeriod     RequestState = "waiting_period"
	StateGranted           RequestState = "granted"
	StateDenied            RequestState = "denied"
	StateWithdrawn         RequestState = "withdrawn"
	StateExpired           RequestState = "expired"
	StateCanceled          RequestState = "canceled"
)

// IsTerminal reports whether no further transitions are possible. Granted is
// terminal for the request; the grant it produced has its own revocation
// lifecycle.
func (s RequestState) IsTerminal() bool {
	switch s {
	case StateGranted, StateDenied, StateWithdrawn, StateExpired, StateCanceled:
		return true
	}
	return false
}

// GrantScope bounds what an access grant covers. The default scope is all of
// the owner's items with view only; the verification collaborator may
// narrow it or allow edit.
type GrantScope struct {
	All       bool
	Items     []id.ItemID
	AllowEdit bool
}

// Covers reports whether the scope includes the given item.
func (s GrantScope) Covers(itemID id.ItemID) bool {
	if s.All {
		return true
	}
	for _, i := range s.Items {
		if i == itemID {
			return true
		}
	}
	return false
}

func (s GrantScope) itemsString() string {
	parts := make([]string, 0, len(s.Items))
	for _, i := range s.Items {
		parts = append(parts, i.String())
	}
	return strings.Join(parts, ",")
}

func scopeItemsFromString(raw string) []id.ItemID {
	if raw == "" {
		return nil
	}
	var out []id.ItemID
	for _, part := range strings.Split(raw, ",") {
		if parsed, err := id.ParseItemID(part); err == nil {
			out = append(out, parsed)
		}
	}
	return out
}

// Request is a third party's claim to need access to another user's vault.
// Invariant: at most one non-terminal request per (requester, target owner)
// pair at any time.
type Request struct {
	ID                id.RequestID
	RequesterID       id.UserID
	TargetOwnerID     id.UserID
	RelationshipClaim string
	State             RequestState
	EvidenceRef       string
	Scope             GrantScope
	SubmittedAt       time.Time
	// ApprovedAt anchors the waiting period; set when the request enters
	// WaitingPeriod.
	ApprovedAt *time.Time
	ResolvedAt *time.Time
}

// Grant is the durable, scoped permission produced when a request reaches
// Granted. Immutable once issued except for the revocation flag.
type Grant struct {
	ID            id.GrantID
	RequestID     id.RequestID
	GranteeID     id.UserID
	TargetOwnerID id.UserID
	Scope         GrantScope
	IssuedAt      time.Time
	ExpiresAt     *time.Time
	Revoked       bool
	RevokedAt     *time.Time
}

// Live reports whether the grant confers access at the given time.
func (g Grant) Live(now time.Time) bool {
	if g.Revoked {
		return false
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return false
	}
	return true
}

// VerificationOutcome is what the verification collaborator reports back.
type VerificationOutcome string

const (
	OutcomePass VerificationOutcome = "pass"
	OutcomeFail VerificationOutcome = "fail"
)
