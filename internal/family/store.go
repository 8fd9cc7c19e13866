package family

import (
	"context"

	id "heirloom/pkg/domain"
)

// Store persists family groups and their memberships.
type Store interface {
	CreateFamily(ctx context.Context, f Family) error
	FindFamily(ctx context.Context, familyID id.FamilyID) (Family, error)

	// AddMember fails with sentinel.ErrConflict when the user already
	// belongs to any family.
	AddMember(ctx context.Context, m Member) error
	// RemoveMember fails with sentinel.ErrNotFound when the user belongs to
	// no family.
	RemoveMember(ctx context.Context, userID id.UserID) error
	// FindMember returns sentinel.ErrNotFound for non-members.
	FindMember(ctx context.Context, userID id.UserID) (Member, error)
	ListByFamily(ctx context.Context, familyID id.FamilyID) ([]Member, error)
	UpdateRole(ctx context.Context, userID id.UserID, role id.Role) error
}
