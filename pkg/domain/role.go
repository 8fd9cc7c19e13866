package domain

import dErrors "heirloom/pkg/domain-errors"

// Role is a member's standing within a family group. It determines the
// baseline capability set independent of any single item's sharing settings.
type Role string

const (
	// RoleOwnerAdmin manages the family group itself: membership and roles.
	RoleOwnerAdmin Role = "owner_admin"
	// RoleMember participates in item-level sharing.
	RoleMember Role = "member"
	// RoleTrustee is a designated emergency contact; trustees go through the
	// same emergency access workflow as outside requesters but are named
	// ahead of time.
	RoleTrustee Role = "trustee"
)

var validRoles = map[Role]bool{
	RoleOwnerAdmin: true,
	RoleMember:     true,
	RoleTrustee:    true,
}

// ParseRole constructs a Role from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

func (r Role) IsValid() bool { return validRoles[r] }

func (r Role) String() string { return string(r) }
