package domain

import (
	"github.com/google/uuid"

	dErrors "heirloom/pkg/domain-errors"
)

// Typed IDs prevent cross-entity assignment at compile time. Construct via
// the Parse functions at trust boundaries; direct casting bypasses
// validation.
type (
	UserID    uuid.UUID
	FamilyID  uuid.UUID
	ItemID    uuid.UUID
	RequestID uuid.UUID
	GrantID   uuid.UUID
)

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

func ParseFamilyID(s string) (FamilyID, error) {
	u, err := parseUUID(s, "family id")
	return FamilyID(u), err
}

func ParseItemID(s string) (ItemID, error) {
	u, err := parseUUID(s, "item id")
	return ItemID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request id")
	return RequestID(u), err
}

func ParseGrantID(s string) (GrantID, error) {
	u, err := parseUUID(s, "grant id")
	return GrantID(u), err
}

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id FamilyID) String() string  { return uuid.UUID(id).String() }
func (id ItemID) String() string    { return uuid.UUID(id).String() }
func (id RequestID) String() string { return uuid.UUID(id).String() }
func (id GrantID) String() string   { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id FamilyID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ItemID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id GrantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

func NewUserID() UserID       { return UserID(uuid.New()) }
func NewFamilyID() FamilyID   { return FamilyID(uuid.New()) }
func NewItemID() ItemID       { return ItemID(uuid.New()) }
func NewRequestID() RequestID { return RequestID(uuid.New()) }
func NewGrantID() GrantID     { return GrantID(uuid.New()) }
