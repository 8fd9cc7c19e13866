package vault

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"heirloom/internal/audit"
	"heirloom/internal/family"
	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite

	items    *InMemoryStore
	families *family.InMemoryStore
	auditLog *audit.InMemoryStore
	service  *Service

	owner  id.UserID
	member id.UserID
	now    time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.items = NewInMemoryStore()
	s.families = family.NewInMemoryStore()
	s.auditLog = audit.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = NewService(s.items, s.families, audit.NewPublisher(s.auditLog, logger))

	s.owner = id.NewUserID()
	s.member = id.NewUserID()
	s.now = time.Date(2030, 2, 1, 10, 0, 0, 0, time.UTC)

	ctx := context.Background()
	familyID := id.NewFamilyID()
	s.Require().NoError(s.families.CreateFamily(ctx, family.Family{ID: familyID, Name: "smiths", CreatedAt: s.now}))
	s.Require().NoError(s.families.AddMember(ctx, family.Member{UserID: s.owner, FamilyID: familyID, Role: id.RoleOwnerAdmin, AddedAt: s.now}))
	s.Require().NoError(s.families.AddMember(ctx, family.Member{UserID: s.member, FamilyID: familyID, Role: id.RoleMember, AddedAt: s.now}))
}

func (s *ServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) createItem() Item {
	item, err := s.service.CreateItem(s.ctx(), s.owner, KindNote, "blob://note-1", nil, nil)
	s.Require().NoError(err)
	return item
}

func (s *ServiceSuite) TestCreateItemValidation() {
	_, err := s.service.CreateItem(s.ctx(), s.owner, Kind("video"), "blob://x", nil, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.service.CreateItem(s.ctx(), s.owner, KindNote, "", nil, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.CreateItem(s.ctx(), s.owner, KindNote, "blob://x",
		&DeliveryTrigger{Kind: TriggerOnDate}, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.service.CreateItem(s.ctx(), s.owner, KindNote, "blob://x",
		&DeliveryTrigger{Kind: TriggerOnEvent}, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestCreateItemRejectsSharingToNonMember() {
	_, err := s.service.CreateItem(s.ctx(), s.owner, KindNote, "blob://x", nil, SharingSettings{
		id.NewUserID(): id.NewCapabilitySet(id.CapabilityView),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestUpdateSharingOwnerOnly() {
	item := s.createItem()

	err := s.service.UpdateSharingSettings(s.ctx(), s.member, item.ID, SharingSettings{
		s.member: id.NewCapabilitySet(id.CapabilityView),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	s.Require().NoError(s.service.UpdateSharingSettings(s.ctx(), s.owner, item.ID, SharingSettings{
		s.member: id.NewCapabilitySet(id.CapabilityView),
	}))

	stored, err := s.service.GetItem(s.ctx(), item.ID)
	s.Require().NoError(err)
	s.True(stored.Sharing[s.member].Has(id.CapabilityView))

	var kinds []audit.Kind
	for _, e := range s.auditLog.All() {
		kinds = append(kinds, e.Kind)
	}
	s.Contains(kinds, audit.KindSharingUpdated)
}

func (s *ServiceSuite) TestSharingCapsAtViewComment() {
	item := s.createItem()

	err := s.service.UpdateSharingSettings(s.ctx(), s.owner, item.ID, SharingSettings{
		s.member: id.NewCapabilitySet(id.CapabilityDelete),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestContentFrozenAfterDelivery() {
	item := s.createItem()

	applied, err := s.items.MarkDelivered(context.Background(), item.ID, s.now)
	s.Require().NoError(err)
	s.Require().True(applied)

	err = s.service.UpdateContent(s.ctx(), s.owner, item.ID, "blob://note-2")
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	err = s.service.UpdateSharingSettings(s.ctx(), s.owner, item.ID, SharingSettings{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestDeleteTombstones() {
	item := s.createItem()

	err := s.service.DeleteItem(s.ctx(), s.member, item.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	s.Require().NoError(s.service.DeleteItem(s.ctx(), s.owner, item.ID))

	stored, err := s.service.GetItem(s.ctx(), item.ID)
	s.Require().NoError(err)
	s.Equal(StateTombstoned, stored.State)

	err = s.service.DeleteItem(s.ctx(), s.owner, item.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestUnknownItem() {
	_, err := s.service.GetItem(s.ctx(), id.NewItemID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestEffectiveSharingDropsStaleEntries(t *testing.T) {
	member := id.NewUserID()
	former := id.NewUserID()
	sharing := SharingSettings{
		member: id.NewCapabilitySet(id.CapabilityView, id.CapabilityComment),
		former: id.NewCapabilitySet(id.CapabilityView),
	}
	ownerFamily := map[id.UserID]bool{member: true}

	effective := EffectiveSharing(sharing, ownerFamily)
	if len(effective) != 1 {
		t.Fatalf("expected 1 effective entry, got %d", len(effective))
	}
	if !effective[member].Has(id.CapabilityComment) {
		t.Error("member should keep granted capabilities")
	}
	if _, ok := effective[former]; ok {
		t.Error("former member entry should be dropped")
	}
}
