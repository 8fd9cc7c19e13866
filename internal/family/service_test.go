package family

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"heirloom/internal/audit"
	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite

	store    *InMemoryStore
	auditLog *audit.InMemoryStore
	service  *Service

	creator id.UserID
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.auditLog = audit.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = NewService(s.store, audit.NewPublisher(s.auditLog, logger))
	s.creator = id.NewUserID()
	s.now = time.Date(2030, 1, 15, 9, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) TestCreateFamilyMakesCreatorOwnerAdmin() {
	f, err := s.service.CreateFamily(s.ctx(), s.creator, "smiths")
	s.Require().NoError(err)
	s.Equal("smiths", f.Name)

	role, ok, err := s.service.RoleOf(s.ctx(), s.creator)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(id.RoleOwnerAdmin, role)
}

func (s *ServiceSuite) TestCreateFamilyRequiresName() {
	_, err := s.service.CreateFamily(s.ctx(), s.creator, "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestAddMemberRequiresOwnerAdmin() {
	f, err := s.service.CreateFamily(s.ctx(), s.creator, "smiths")
	s.Require().NoError(err)

	member := id.NewUserID()
	s.Require().NoError(s.service.AddMember(s.ctx(), s.creator, member, f.ID, id.RoleMember))

	err = s.service.AddMember(s.ctx(), member, id.NewUserID(), f.ID, id.RoleMember)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestUserBelongsToAtMostOneFamily() {
	f1, err := s.service.CreateFamily(s.ctx(), s.creator, "smiths")
	s.Require().NoError(err)
	other := id.NewUserID()
	_, err = s.service.CreateFamily(s.ctx(), other, "jones")
	s.Require().NoError(err)

	member := id.NewUserID()
	s.Require().NoError(s.service.AddMember(s.ctx(), s.creator, member, f1.ID, id.RoleMember))

	err = s.service.AddMember(s.ctx(), s.creator, member, f1.ID, id.RoleTrustee)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestMemberMayLeaveOnTheirOwn() {
	f, err := s.service.CreateFamily(s.ctx(), s.creator, "smiths")
	s.Require().NoError(err)
	member := id.NewUserID()
	s.Require().NoError(s.service.AddMember(s.ctx(), s.creator, member, f.ID, id.RoleMember))

	s.Require().NoError(s.service.RemoveMember(s.ctx(), member, member))

	_, ok, err := s.service.RoleOf(s.ctx(), member)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ServiceSuite) TestRemovalByOthersRequiresOwnerAdmin() {
	f, err := s.service.CreateFamily(s.ctx(), s.creator, "smiths")
	s.Require().NoError(err)
	a := id.NewUserID()
	b := id.NewUserID()
	s.Require().NoError(s.service.AddMember(s.ctx(), s.creator, a, f.ID, id.RoleMember))
	s.Require().NoError(s.service.AddMember(s.ctx(), s.creator, b, f.ID, id.RoleMember))

	err = s.service.RemoveMember(s.ctx(), a, b)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	s.NoError(s.service.RemoveMember(s.ctx(), s.creator, b))
}

func (s *ServiceSuite) TestChangeRoleIsAudited() {
	f, err := s.service.CreateFamily(s.ctx(), s.creator, "smiths")
	s.Require().NoError(err)
	member := id.NewUserID()
	s.Require().NoError(s.service.AddMember(s.ctx(), s.creator, member, f.ID, id.RoleMember))

	s.Require().NoError(s.service.ChangeRole(s.ctx(), s.creator, member, id.RoleTrustee))

	role, ok, err := s.service.RoleOf(s.ctx(), member)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(id.RoleTrustee, role)

	var kinds []audit.Kind
	for _, e := range s.auditLog.All() {
		kinds = append(kinds, e.Kind)
	}
	s.Contains(kinds, audit.KindRoleChanged)
}

func (s *ServiceSuite) TestRemoveNonMember() {
	err := s.service.RemoveMember(s.ctx(), s.creator, id.NewUserID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
