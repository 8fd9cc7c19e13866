//go:build integration

package emergency_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"heirloom/internal/emergency"
	id "heirloom/pkg/domain"
	"heirloom/pkg/platform/sentinel"
	"heirloom/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	requests *emergency.PostgresRequestStore
	grants   *emergency.PostgresGrantStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.requests = emergency.NewPostgresRequestStore(s.postgres.DB)
	s.grants = emergency.NewPostgresGrantStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "access_grants", "emergency_requests")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newRequest(state emergency.RequestState) emergency.Request {
	return emergency.Request{
		ID:                id.NewRequestID(),
		RequesterID:       id.NewUserID(),
		TargetOwnerID:     id.NewUserID(),
		RelationshipClaim: "spouse",
		State:             state,
		Scope:             emergency.GrantScope{All: true},
		SubmittedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestDuplicatePendingRejectedUntilTerminal() {
	ctx := context.Background()
	req := s.newRequest(emergency.StateSubmitted)
	s.Require().NoError(s.requests.Create(ctx, req))

	dup := s.newRequest(emergency.StateSubmitted)
	dup.RequesterID = req.RequesterID
	dup.TargetOwnerID = req.TargetOwnerID
	s.ErrorIs(s.requests.Create(ctx, dup), sentinel.ErrConflict)

	applied, err := s.requests.Transition(ctx, req.ID, emergency.StateSubmitted, emergency.StateWithdrawn, time.Now())
	s.Require().NoError(err)
	s.Require().True(applied)

	dup.ID = id.NewRequestID()
	s.NoError(s.requests.Create(ctx, dup))
}

func (s *PostgresStoreSuite) TestConcurrentTransitionHasOneWinner() {
	ctx := context.Background()
	req := s.newRequest(emergency.StateWaitingPeriod)
	s.Require().NoError(s.requests.Create(ctx, req))

	const goroutines = 20
	var wg sync.WaitGroup
	var grantWins, cancelWins atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			to := emergency.StateGranted
			counter := &grantWins
			if idx%2 == 0 {
				to = emergency.StateCanceled
				counter = &cancelWins
			}
			applied, err := s.requests.Transition(ctx, req.ID, emergency.StateWaitingPeriod, to, time.Now())
			if err == nil && applied {
				counter.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), grantWins.Load()+cancelWins.Load(), "exactly one transition should win")

	stored, err := s.requests.Find(ctx, req.ID)
	s.Require().NoError(err)
	s.True(stored.State == emergency.StateGranted || stored.State == emergency.StateCanceled)
	s.NotNil(stored.ResolvedAt)
}

func (s *PostgresStoreSuite) TestTransitionRecordsApprovedAt() {
	ctx := context.Background()
	req := s.newRequest(emergency.StateApproved)
	s.Require().NoError(s.requests.Create(ctx, req))

	at := time.Now().UTC().Truncate(time.Microsecond)
	applied, err := s.requests.Transition(ctx, req.ID, emergency.StateApproved, emergency.StateWaitingPeriod, at)
	s.Require().NoError(err)
	s.Require().True(applied)

	stored, err := s.requests.Find(ctx, req.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.ApprovedAt)
	s.WithinDuration(at, *stored.ApprovedAt, time.Millisecond)
	s.Nil(stored.ResolvedAt)
}

func (s *PostgresStoreSuite) TestConcurrentGrantInsertYieldsOneRow() {
	ctx := context.Background()
	req := s.newRequest(emergency.StateGranted)
	s.Require().NoError(s.requests.Create(ctx, req))

	const goroutines = 20
	var wg sync.WaitGroup
	var failures atomic.Int32
	grantIDs := make([]id.GrantID, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			stored, err := s.grants.CreateIfAbsent(ctx, emergency.Grant{
				ID:            id.NewGrantID(),
				RequestID:     req.ID,
				GranteeID:     req.RequesterID,
				TargetOwnerID: req.TargetOwnerID,
				Scope:         emergency.GrantScope{All: true},
				IssuedAt:      time.Now(),
			})
			if err != nil {
				failures.Add(1)
				return
			}
			grantIDs[idx] = stored.ID
		}(i)
	}
	wg.Wait()

	s.Equal(int32(0), failures.Load())
	for _, gid := range grantIDs[1:] {
		s.Equal(grantIDs[0], gid, "every caller should see the same stored grant")
	}

	grants, err := s.grants.ListByGrantee(ctx, req.RequesterID)
	s.Require().NoError(err)
	s.Len(grants, 1)
}

func (s *PostgresStoreSuite) TestRevokeAppliesOnce() {
	ctx := context.Background()
	req := s.newRequest(emergency.StateGranted)
	s.Require().NoError(s.requests.Create(ctx, req))

	grant, err := s.grants.CreateIfAbsent(ctx, emergency.Grant{
		ID:            id.NewGrantID(),
		RequestID:     req.ID,
		GranteeID:     req.RequesterID,
		TargetOwnerID: req.TargetOwnerID,
		Scope:         emergency.GrantScope{All: true},
		IssuedAt:      time.Now(),
	})
	s.Require().NoError(err)

	applied, err := s.grants.Revoke(ctx, grant.ID, time.Now())
	s.Require().NoError(err)
	s.True(applied)

	applied, err = s.grants.Revoke(ctx, grant.ID, time.Now())
	s.Require().NoError(err)
	s.False(applied)

	stored, err := s.grants.Find(ctx, grant.ID)
	s.Require().NoError(err)
	s.True(stored.Revoked)
	s.NotNil(stored.RevokedAt)
}

func (s *PostgresStoreSuite) TestScopeRoundTrip() {
	ctx := context.Background()
	req := s.newRequest(emergency.StateUnderVerification)
	s.Require().NoError(s.requests.Create(ctx, req))

	items := []id.ItemID{id.NewItemID(), id.NewItemID()}
	scope := emergency.GrantScope{Items: items, AllowEdit: true}
	s.Require().NoError(s.requests.SetScope(ctx, req.ID, scope))

	stored, err := s.requests.Find(ctx, req.ID)
	s.Require().NoError(err)
	s.False(stored.Scope.All)
	s.True(stored.Scope.AllowEdit)
	s.True(stored.Scope.Covers(items[0]))
	s.True(stored.Scope.Covers(items[1]))
	s.False(stored.Scope.Covers(id.NewItemID()))
}
