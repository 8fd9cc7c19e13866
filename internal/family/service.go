package family

import (
	"context"
	"errors"

	"heirloom/internal/audit"
	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/platform/sentinel"
	"heirloom/pkg/requestcontext"
)

// Service orchestrates family membership. Removal never cascades: a former
// member's prior access grants stay valid until explicitly revoked, so an
// in-progress legitimate delivery is not silently cut off.
type Service struct {
	store Store
	audit *audit.Publisher
}

func NewService(store Store, publisher *audit.Publisher) *Service {
	return &Service{store: store, audit: publisher}
}

// CreateFamily registers a new family group with the creator as owner-admin.
func (s *Service) CreateFamily(ctx context.Context, creator id.UserID, name string) (Family, error) {
	if name == "" {
		return Family{}, dErrors.New(dErrors.CodeBadRequest, "family name is required")
	}
	now := requestcontext.Now(ctx)
	f := Family{ID: id.NewFamilyID(), Name: name, CreatedAt: now}
	if err := s.store.CreateFamily(ctx, f); err != nil {
		return Family{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create family")
	}
	if err := s.store.AddMember(ctx, Member{
		UserID:   creator,
		FamilyID: f.ID,
		Role:     id.RoleOwnerAdmin,
		AddedAt:  now,
	}); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Family{}, dErrors.New(dErrors.CodeInvariantViolation, "creator already belongs to a family")
		}
		return Family{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to add creator")
	}
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindMemberAdded,
		EntityRef:      f.ID.String(),
		ActorID:        creator,
		ResultingState: id.RoleOwnerAdmin.String(),
		OccurredAt:     now,
	})
	return f, nil
}

// AddMember adds a user to a family. Fails with AlreadyMember semantics
// (CodeInvariantViolation) when the user belongs to any family.
func (s *Service) AddMember(ctx context.Context, actor, user id.UserID, familyID id.FamilyID, role id.Role) error {
	if !role.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	if err := s.requireOwnerAdmin(ctx, actor, familyID); err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	err := s.store.AddMember(ctx, Member{UserID: user, FamilyID: familyID, Role: role, AddedAt: now})
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeInvariantViolation, "user already belongs to a family")
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "family not found")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to add member")
	}
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindMemberAdded,
		EntityRef:      user.String(),
		ActorID:        actor,
		ResultingState: role.String(),
		OccurredAt:     now,
	})
	return nil
}

// RemoveMember removes a user from their family. Fails with NotAMember
// semantics (CodeNotFound) when the user belongs to no family.
func (s *Service) RemoveMember(ctx context.Context, actor, user id.UserID) error {
	m, err := s.store.FindMember(ctx, user)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "user is not a family member")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up member")
	}
	// Members may leave on their own; removing someone else takes the
	// owner-admin role.
	if actor != user {
		if err := s.requireOwnerAdmin(ctx, actor, m.FamilyID); err != nil {
			return err
		}
	}
	if err := s.store.RemoveMember(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "user is not a family member")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove member")
	}
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindMemberRemoved,
		EntityRef:      user.String(),
		ActorID:        actor,
		ResultingState: "removed",
		OccurredAt:     requestcontext.Now(ctx),
	})
	return nil
}

// ChangeRole updates a member's role. Owner-admin only, always audited.
func (s *Service) ChangeRole(ctx context.Context, actor, user id.UserID, role id.Role) error {
	if !role.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	m, err := s.store.FindMember(ctx, user)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "user is not a family member")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up member")
	}
	if err := s.requireOwnerAdmin(ctx, actor, m.FamilyID); err != nil {
		return err
	}
	if err := s.store.UpdateRole(ctx, user, role); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to change role")
	}
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindRoleChanged,
		EntityRef:      user.String(),
		ActorID:        actor,
		ResultingState: role.String(),
		OccurredAt:     requestcontext.Now(ctx),
	})
	return nil
}

// RoleOf returns the member's role, or ("", false) for non-members.
func (s *Service) RoleOf(ctx context.Context, user id.UserID) (id.Role, bool, error) {
	m, err := s.store.FindMember(ctx, user)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up member")
	}
	return m.Role, true, nil
}

// MemberOf returns the membership row for a user, or ErrNotFound semantics.
func (s *Service) MemberOf(ctx context.Context, user id.UserID) (Member, error) {
	m, err := s.store.FindMember(ctx, user)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Member{}, dErrors.New(dErrors.CodeNotFound, "user is not a family member")
	}
	if err != nil {
		return Member{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up member")
	}
	return m, nil
}

func (s *Service) requireOwnerAdmin(ctx context.Context, actor id.UserID, familyID id.FamilyID) error {
	m, err := s.store.FindMember(ctx, actor)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeForbidden, "actor is not a family member")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up actor")
	}
	if m.FamilyID != familyID || m.Role != id.RoleOwnerAdmin {
		return dErrors.New(dErrors.CodeForbidden, "owner-admin role required")
	}
	return nil
}
