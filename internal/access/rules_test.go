package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"heirloom/internal/emergency"
	"heirloom/internal/vault"
	id "heirloom/pkg/domain"
)

func TestCapabilities(t *testing.T) {
	owner := id.NewUserID()
	member := id.NewUserID()
	stranger := id.NewUserID()
	grantee := id.NewUserID()
	now := time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC)

	item := vault.Item{
		ID:      id.NewItemID(),
		OwnerID: owner,
		State:   vault.StateActive,
		Sharing: vault.SharingSettings{
			member: id.NewCapabilitySet(id.CapabilityView, id.CapabilityComment),
		},
	}
	ownerFamily := map[id.UserID]bool{owner: true, member: true}

	liveGrant := emergency.Grant{
		ID:            id.NewGrantID(),
		GranteeID:     grantee,
		TargetOwnerID: owner,
		Scope:         emergency.GrantScope{All: true},
		IssuedAt:      now.Add(-time.Hour),
	}

	tests := []struct {
		name string
		q    Query
		want []id.Capability
	}{
		{
			name: "owner holds full capabilities on active items",
			q:    Query{Actor: owner, Item: item, OwnerFamily: ownerFamily, Now: now},
			want: []id.Capability{id.CapabilityComment, id.CapabilityDelete, id.CapabilityEdit, id.CapabilityView},
		},
		{
			name: "shared member gets what the owner granted",
			q:    Query{Actor: member, Item: item, OwnerFamily: ownerFamily, Now: now},
			want: []id.Capability{id.CapabilityComment, id.CapabilityView},
		},
		{
			name: "stranger gets nothing",
			q:    Query{Actor: stranger, Item: item, OwnerFamily: ownerFamily, Now: now},
			want: nil,
		},
		{
			name: "zero actor gets nothing",
			q:    Query{Actor: id.UserID{}, Item: item, OwnerFamily: ownerFamily, Now: now},
			want: nil,
		},
		{
			name: "stale sharing entry confers nothing after member left",
			q:    Query{Actor: member, Item: item, OwnerFamily: map[id.UserID]bool{owner: true}, Now: now},
			want: nil,
		},
		{
			name: "live grant confers view",
			q:    Query{Actor: grantee, Item: item, OwnerFamily: ownerFamily, Grants: []emergency.Grant{liveGrant}, Now: now},
			want: []id.Capability{id.CapabilityView},
		},
		{
			name: "grant with edit allowance confers edit",
			q: Query{Actor: grantee, Item: item, OwnerFamily: ownerFamily, Now: now,
				Grants: []emergency.Grant{{
					GranteeID:     grantee,
					TargetOwnerID: owner,
					Scope:         emergency.GrantScope{All: true, AllowEdit: true},
				}}},
			want: []id.Capability{id.CapabilityEdit, id.CapabilityView},
		},
		{
			name: "revoked grant confers nothing",
			q: Query{Actor: grantee, Item: item, OwnerFamily: ownerFamily, Now: now,
				Grants: []emergency.Grant{{
					GranteeID:     grantee,
					TargetOwnerID: owner,
					Scope:         emergency.GrantScope{All: true},
					Revoked:       true,
				}}},
			want: nil,
		},
		{
			name: "grant scoped to other items confers nothing",
			q: Query{Actor: grantee, Item: item, OwnerFamily: ownerFamily, Now: now,
				Grants: []emergency.Grant{{
					GranteeID:     grantee,
					TargetOwnerID: owner,
					Scope:         emergency.GrantScope{Items: []id.ItemID{id.NewItemID()}},
				}}},
			want: nil,
		},
		{
			name: "grant against another owner confers nothing",
			q: Query{Actor: grantee, Item: item, OwnerFamily: ownerFamily, Now: now,
				Grants: []emergency.Grant{{
					GranteeID:     grantee,
					TargetOwnerID: id.NewUserID(),
					Scope:         emergency.GrantScope{All: true},
				}}},
			want: nil,
		},
		{
			name: "expired grant confers nothing",
			q: Query{Actor: grantee, Item: item, OwnerFamily: ownerFamily, Now: now,
				Grants: []emergency.Grant{func() emergency.Grant {
					g := liveGrant
					exp := now.Add(-time.Minute)
					g.ExpiresAt = &exp
					return g
				}()}},
			want: nil,
		},
		{
			name: "owner is capped at view once delivered",
			q: Query{Actor: owner, Now: now, OwnerFamily: ownerFamily,
				Item: deliveredCopy(item)},
			want: []id.Capability{id.CapabilityView},
		},
		{
			name: "shared member is capped at view once delivered",
			q: Query{Actor: member, Now: now, OwnerFamily: ownerFamily,
				Item: deliveredCopy(item)},
			want: []id.Capability{id.CapabilityView},
		},
		{
			name: "tombstoned item confers nothing, owner included",
			q: Query{Actor: owner, Now: now, OwnerFamily: ownerFamily,
				Item: func() vault.Item {
					i := item
					i.State = vault.StateTombstoned
					return i
				}()},
			want: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Capabilities(tc.q)
			if tc.want == nil {
				assert.True(t, got.IsEmpty(), "expected empty set, got %s", got)
				return
			}
			assert.Equal(t, tc.want, got.Slice())
		})
	}
}

func deliveredCopy(item vault.Item) vault.Item {
	item.State = vault.StateDelivered
	return item
}
