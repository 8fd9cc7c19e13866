package vault

import (
	"context"
	"errors"

	"heirloom/internal/audit"
	"heirloom/internal/family"
	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/platform/sentinel"
	"heirloom/pkg/requestcontext"
)

// Service owns vault item lifecycle and sharing settings. Content mutation
// is owner-only; the delivery scheduler mutates state through the store's
// conditional transitions, never through this service.
type Service struct {
	items    Store
	families family.Store
	audit    *audit.Publisher
}

func NewService(items Store, families family.Store, publisher *audit.Publisher) *Service {
	return &Service{items: items, families: families, audit: publisher}
}

// CreateItem registers a new vault item for the owner.
func (s *Service) CreateItem(ctx context.Context, owner id.UserID, kind Kind, contentRef string, trigger *DeliveryTrigger, sharing SharingSettings) (Item, error) {
	if !validKinds[kind] {
		return Item{}, dErrors.New(dErrors.CodeInvalidInput, "invalid item kind")
	}
	if contentRef == "" {
		return Item{}, dErrors.New(dErrors.CodeBadRequest, "content reference is required")
	}
	if trigger != nil {
		if err := trigger.Validate(); err != nil {
			return Item{}, err
		}
	}
	if len(sharing) > 0 {
		members, err := s.ownerFamilyMembers(ctx, owner)
		if err != nil {
			return Item{}, err
		}
		if err := ValidateSharing(sharing, members); err != nil {
			return Item{}, err
		}
	}
	now := requestcontext.Now(ctx)
	item := Item{
		ID:         id.NewItemID(),
		OwnerID:    owner,
		Kind:       kind,
		ContentRef: contentRef,
		State:      StateActive,
		Sharing:    sharing,
		Trigger:    trigger,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.items.Create(ctx, item); err != nil {
		return Item{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create item")
	}
	return item, nil
}

// UpdateSharingSettings replaces an item's sharing configuration. Owner
// only; every target is validated against current family membership.
func (s *Service) UpdateSharingSettings(ctx context.Context, actor id.UserID, itemID id.ItemID, sharing SharingSettings) error {
	item, err := s.findItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.OwnerID != actor {
		return dErrors.New(dErrors.CodeForbidden, "only the owner can change sharing settings")
	}
	if item.State != StateActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "sharing can only be changed on active items")
	}
	members, err := s.ownerFamilyMembers(ctx, item.OwnerID)
	if err != nil {
		return err
	}
	if err := ValidateSharing(sharing, members); err != nil {
		return err
	}
	if err := s.items.UpdateSharing(ctx, itemID, sharing); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update sharing")
	}
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindSharingUpdated,
		EntityRef:      itemID.String(),
		OwnerID:        item.OwnerID,
		ActorID:        actor,
		ResultingState: string(item.State),
		OccurredAt:     requestcontext.Now(ctx),
	})
	return nil
}

// UpdateContent replaces the content reference. Owner only, active items
// only: delivered content is frozen.
func (s *Service) UpdateContent(ctx context.Context, actor id.UserID, itemID id.ItemID, contentRef string) error {
	if contentRef == "" {
		return dErrors.New(dErrors.CodeBadRequest, "content reference is required")
	}
	item, err := s.findItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.OwnerID != actor {
		return dErrors.New(dErrors.CodeForbidden, "only the owner can edit content")
	}
	if item.State != StateActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "content can only be edited on active items")
	}
	if err := s.items.UpdateContent(ctx, itemID, contentRef, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update content")
	}
	return nil
}

// DeleteItem soft-tombstones an item. Items are never hard-deleted while a
// delivery trigger or emergency workflow may still reference them.
func (s *Service) DeleteItem(ctx context.Context, actor id.UserID, itemID id.ItemID) error {
	item, err := s.findItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.OwnerID != actor {
		return dErrors.New(dErrors.CodeForbidden, "only the owner can delete an item")
	}
	now := requestcontext.Now(ctx)
	done, err := s.items.Tombstone(ctx, itemID, now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to tombstone item")
	}
	if !done {
		return dErrors.New(dErrors.CodeInvariantViolation, "item is not active")
	}
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindItemTombstoned,
		EntityRef:      itemID.String(),
		OwnerID:        item.OwnerID,
		ActorID:        actor,
		ResultingState: string(StateTombstoned),
		OccurredAt:     now,
	})
	return nil
}

// GetItem returns the raw item. Capability checks belong to the access
// service; this is for internal composition and owner dashboards.
func (s *Service) GetItem(ctx context.Context, itemID id.ItemID) (Item, error) {
	return s.findItem(ctx, itemID)
}

// OwnerFamilyMembers resolves the set of users currently in the owner's
// family. An owner outside any family yields an empty set, which makes
// every sharing entry stale.
func (s *Service) OwnerFamilyMembers(ctx context.Context, owner id.UserID) (map[id.UserID]bool, error) {
	return s.ownerFamilyMembers(ctx, owner)
}

func (s *Service) ownerFamilyMembers(ctx context.Context, owner id.UserID) (map[id.UserID]bool, error) {
	m, err := s.families.FindMember(ctx, owner)
	if errors.Is(err, sentinel.ErrNotFound) {
		return map[id.UserID]bool{}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve owner family")
	}
	members, err := s.families.ListByFamily(ctx, m.FamilyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list family members")
	}
	out := make(map[id.UserID]bool, len(members))
	for _, member := range members {
		out[member.UserID] = true
	}
	return out, nil
}

func (s *Service) findItem(ctx context.Context, itemID id.ItemID) (Item, error) {
	item, err := s.items.Find(ctx, itemID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Item{}, dErrors.New(dErrors.CodeNotFound, "item not found")
	}
	if err != nil {
		return Item{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load item")
	}
	return item, nil
}
