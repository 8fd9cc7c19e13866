package access

import (
	"context"
	"errors"
	"time"

	"heirloom/internal/audit"
	"heirloom/internal/emergency"
	"heirloom/internal/family"
	"heirloom/internal/platform/metrics"
	"heirloom/internal/vault"
	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/platform/sentinel"
	"heirloom/pkg/requestcontext"
)

// Service resolves effective capabilities at request time. It loads the
// snapshot (item, family membership, grants), delegates the decision to the
// pure resolver, and audits non-owner access so every cross-user read is on
// record.
type Service struct {
	items    vault.Store
	families family.Store
	grants   emergency.GrantStore
	audit    *audit.Publisher
	metrics  *metrics.Metrics
}

func NewService(items vault.Store, families family.Store, grants emergency.GrantStore, publisher *audit.Publisher, m *metrics.Metrics) *Service {
	return &Service{items: items, families: families, grants: grants, audit: publisher, metrics: m}
}

// Resolve returns the actor's capabilities on the item. Store failures
// surface as errors with an empty set, never as partial access.
func (s *Service) Resolve(ctx context.Context, actor id.UserID, itemID id.ItemID) (id.CapabilitySet, error) {
	start := time.Now()
	defer func() {
		s.metrics.CapabilityDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	item, err := s.items.Find(ctx, itemID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return id.CapabilitySet{}, dErrors.New(dErrors.CodeNotFound, "item not found")
	}
	if err != nil {
		return id.CapabilitySet{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load item")
	}

	ownerFamily, err := s.ownerFamily(ctx, item.OwnerID)
	if err != nil {
		return id.CapabilitySet{}, err
	}

	grants, err := s.grants.ListByGrantee(ctx, actor)
	if err != nil {
		return id.CapabilitySet{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load grants")
	}

	now := requestcontext.Now(ctx)
	caps := Capabilities(Query{
		Actor:       actor,
		Item:        item,
		OwnerFamily: ownerFamily,
		Grants:      grants,
		Now:         now,
	})

	if actor != item.OwnerID && !caps.IsEmpty() {
		s.audit.Record(ctx, audit.Event{
			Kind:           audit.KindNonOwnerAccess,
			EntityRef:      itemID.String(),
			OwnerID:        item.OwnerID,
			ActorID:        actor,
			ResultingState: string(item.State),
			Detail:         caps.String(),
			OccurredAt:     now,
		})
	}
	return caps, nil
}

// Require resolves capabilities and fails with CodeForbidden unless the
// required capability is present. Mutating endpoints call this before
// touching content.
func (s *Service) Require(ctx context.Context, actor id.UserID, itemID id.ItemID, c id.Capability) error {
	caps, err := s.Resolve(ctx, actor, itemID)
	if err != nil {
		return err
	}
	if !caps.Has(c) {
		return dErrors.New(dErrors.CodeForbidden, "capability not granted")
	}
	return nil
}

func (s *Service) ownerFamily(ctx context.Context, owner id.UserID) (map[id.UserID]bool, error) {
	member, err := s.families.FindMember(ctx, owner)
	if errors.Is(err, sentinel.ErrNotFound) {
		return map[id.UserID]bool{}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve owner family")
	}
	members, err := s.families.ListByFamily(ctx, member.FamilyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list family members")
	}
	out := make(map[id.UserID]bool, len(members))
	for _, m := range members {
		out[m.UserID] = true
	}
	return out, nil
}
