package domain

import (
	"sort"
	"strings"

	dErrors "heirloom/pkg/domain-errors"
)

// Capability is a single action an actor may perform on a vault item.
// Invariant: the value must be one of the supported capabilities.
//
// Usage: construct via ParseCapability at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type Capability string

const (
	CapabilityView    Capability = "view"
	CapabilityComment Capability = "comment"
	CapabilityEdit    Capability = "edit"
	CapabilityDelete  Capability = "delete"
)

// validCapabilities is the single source of truth for supported capabilities.
var validCapabilities = map[Capability]bool{
	CapabilityView:    true,
	CapabilityComment: true,
	CapabilityEdit:    true,
	CapabilityDelete:  true,
}

// ParseCapability constructs a Capability from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseCapability(s string) (Capability, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "capability cannot be empty")
	}
	c := Capability(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid capability")
	}
	return c, nil
}

func (c Capability) IsValid() bool { return validCapabilities[c] }

func (c Capability) String() string { return string(c) }

// CapabilitySet is an immutable-by-convention set of capabilities. The zero
// value is the empty set, which is also the fail-closed default for every
// permission decision.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// FullCapabilitySet is what an owner holds over their own items.
func FullCapabilitySet() CapabilitySet {
	return NewCapabilitySet(CapabilityView, CapabilityComment, CapabilityEdit, CapabilityDelete)
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

func (s CapabilitySet) IsEmpty() bool { return len(s) == 0 }

// Union returns a new set containing capabilities from both sets.
func (s CapabilitySet) Union(other CapabilitySet) CapabilitySet {
	out := make(CapabilitySet, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// Intersect returns a new set containing capabilities present in both sets.
func (s CapabilitySet) Intersect(other CapabilitySet) CapabilitySet {
	out := make(CapabilitySet)
	for c := range s {
		if other.Has(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

// Slice returns the capabilities in stable order for serialization and tests.
func (s CapabilitySet) Slice() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s CapabilitySet) String() string {
	parts := make([]string, 0, len(s))
	for _, c := range s.Slice() {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, ",")
}
