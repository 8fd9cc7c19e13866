package family

import (
	"time"

	id "heirloom/pkg/domain"
)

// Family is a group of users who may share visibility into each other's
// vault items per item-level settings.
type Family struct {
	ID        id.FamilyID
	Name      string
	CreatedAt time.Time
}

// Member is the (user, family, role) triple. A user belongs to exactly one
// family or none; the store enforces one row per user.
type Member struct {
	UserID   id.UserID
	FamilyID id.FamilyID
	Role     id.Role
	AddedAt  time.Time
}
