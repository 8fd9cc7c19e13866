package emergency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"heirloom/internal/audit"
	"heirloom/internal/platform/metrics"
	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/requestcontext"
)

type stubVerifier struct {
	fail  bool
	calls int
}

func (v *stubVerifier) RequestVerification(context.Context, Request) error {
	v.calls++
	if v.fail {
		return errors.New("verification service unavailable")
	}
	return nil
}

type stubNotifier struct {
	fail  bool
	calls int
}

func (n *stubNotifier) NotifyOwner(context.Context, Request) error {
	n.calls++
	if n.fail {
		return errors.New("notification service unavailable")
	}
	return nil
}

type ServiceSuite struct {
	suite.Suite

	requests  *InMemoryRequestStore
	grants    *InMemoryGrantStore
	cooldowns *InMemoryCooldownStore
	verifier  *stubVerifier
	notifier  *stubNotifier
	auditLog  *audit.InMemoryStore
	metrics   *metrics.Metrics
	service   *Service

	requester id.UserID
	owner     id.UserID
	base      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.requests = NewInMemoryRequestStore()
	s.grants = NewInMemoryGrantStore()
	s.cooldowns = NewInMemoryCooldownStore()
	s.verifier = &stubVerifier{}
	s.notifier = &stubNotifier{}
	s.auditLog = audit.NewInMemoryStore()
	s.metrics = metrics.NewWith(prometheus.NewRegistry())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := audit.NewPublisher(s.auditLog, logger, audit.WithMetrics(s.metrics))
	s.service = NewService(s.requests, s.grants, s.cooldowns, s.verifier, s.notifier,
		publisher, s.metrics, logger, Policy{
			WaitingPeriod:      72 * time.Hour,
			VerificationWindow: 10 * 24 * time.Hour,
			ResubmitCooldown:   24 * time.Hour,
		})

	s.requester = id.NewUserID()
	s.owner = id.NewUserID()
	s.base = time.Date(2029, 12, 31, 12, 0, 0, 0, time.UTC)
	s.cooldowns.clock = func() time.Time { return s.base }
}

func (s *ServiceSuite) ctxAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *ServiceSuite) submit() Request {
	req, err := s.service.SubmitRequest(s.ctxAt(s.base), s.requester, s.owner, "spouse", "evidence://doc-1")
	s.Require().NoError(err)
	return req
}

// submitVerified drives a request through verification into its waiting
// period.
func (s *ServiceSuite) submitVerified() Request {
	req := s.submit()
	s.Require().NoError(s.service.RecordVerification(s.ctxAt(s.base), req.ID, OutcomePass, nil))
	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Require().Equal(StateWaitingPeriod, stored.State)
	return stored
}

func (s *ServiceSuite) TestSubmitMovesToUnderVerification() {
	req := s.submit()

	s.Equal(StateUnderVerification, req.State)
	s.Equal(1, s.verifier.calls)
	s.True(req.Scope.All)
	s.False(req.Scope.AllowEdit)

	events := s.auditLog.All()
	s.Require().Len(events, 1)
	s.Equal(audit.KindRequestSubmitted, events[0].Kind)
}

func (s *ServiceSuite) TestSubmitRejectsSelfRequest() {
	_, err := s.service.SubmitRequest(s.ctxAt(s.base), s.owner, s.owner, "me", "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestSubmitRequiresRelationshipClaim() {
	_, err := s.service.SubmitRequest(s.ctxAt(s.base), s.requester, s.owner, "", "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestSubmitRejectsDuplicatePending() {
	s.submit()

	_, err := s.service.SubmitRequest(s.ctxAt(s.base), s.requester, s.owner, "spouse", "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestSubmitSurvivesVerifierOutage() {
	s.verifier.fail = true

	req := s.submit()
	s.Equal(StateSubmitted, req.State)

	s.verifier.fail = false
	changed, err := s.service.SweepExpirations(s.ctxAt(s.base.Add(time.Hour)))
	s.Require().NoError(err)
	s.Equal(1, changed)

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateUnderVerification, stored.State)
}

func (s *ServiceSuite) TestVerificationPassOpensWaitingPeriod() {
	req := s.submit()

	err := s.service.RecordVerification(s.ctxAt(s.base.Add(time.Hour)), req.ID, OutcomePass, nil)
	s.Require().NoError(err)
	s.Equal(1, s.notifier.calls)

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateWaitingPeriod, stored.State)
	s.Require().NotNil(stored.ApprovedAt)
	s.Equal(s.base.Add(time.Hour), *stored.ApprovedAt)
}

func (s *ServiceSuite) TestVerificationPassRecordsNarrowedScope() {
	req := s.submit()
	itemID := id.NewItemID()

	scope := &GrantScope{Items: []id.ItemID{itemID}, AllowEdit: true}
	s.Require().NoError(s.service.RecordVerification(s.ctxAt(s.base), req.ID, OutcomePass, scope))

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.False(stored.Scope.All)
	s.True(stored.Scope.Covers(itemID))
	s.False(stored.Scope.Covers(id.NewItemID()))
	s.True(stored.Scope.AllowEdit)
}

func (s *ServiceSuite) TestVerificationFailDeniesAndStartsCooldown() {
	req := s.submit()

	s.Require().NoError(s.service.RecordVerification(s.ctxAt(s.base), req.ID, OutcomeFail, nil))

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateDenied, stored.State)
	s.Require().NotNil(stored.ResolvedAt)

	_, err = s.service.SubmitRequest(s.ctxAt(s.base), s.requester, s.owner, "spouse", "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	// Cooldown elapsed.
	s.cooldowns.clock = func() time.Time { return s.base.Add(25 * time.Hour) }
	_, err = s.service.SubmitRequest(s.ctxAt(s.base.Add(25*time.Hour)), s.requester, s.owner, "spouse", "")
	s.NoError(err)
}

func (s *ServiceSuite) TestVerificationRejectedAfterResolution() {
	req := s.submit()
	s.Require().NoError(s.service.RecordVerification(s.ctxAt(s.base), req.ID, OutcomeFail, nil))

	err := s.service.RecordVerification(s.ctxAt(s.base), req.ID, OutcomePass, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestNotifierOutageLeavesApprovedForSweep() {
	req := s.submit()
	s.notifier.fail = true

	s.Require().NoError(s.service.RecordVerification(s.ctxAt(s.base), req.ID, OutcomePass, nil))

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateApproved, stored.State)

	s.notifier.fail = false
	approvedAt := s.base.Add(2 * time.Hour)
	changed, err := s.service.SweepExpirations(s.ctxAt(approvedAt))
	s.Require().NoError(err)
	s.Equal(1, changed)

	stored, err = s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateWaitingPeriod, stored.State)
	s.Require().NotNil(stored.ApprovedAt)
	// The waiting period anchors on the successful notification, not the
	// original approval attempt.
	s.Equal(approvedAt, *stored.ApprovedAt)
}

func (s *ServiceSuite) TestOwnerCancelDuringWaitingPeriod() {
	req := s.submitVerified()

	err := s.service.Cancel(s.ctxAt(s.base.Add(time.Hour)), s.owner, req.ID)
	s.Require().NoError(err)

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateCanceled, stored.State)

	// The canceled request never becomes a grant, however late the sweep.
	_, err = s.service.SweepExpirations(s.ctxAt(s.base.Add(100 * 24 * time.Hour)))
	s.Require().NoError(err)
	grants, err := s.service.GrantsFor(s.ctxAt(s.base), s.requester)
	s.Require().NoError(err)
	s.Empty(grants)
}

func (s *ServiceSuite) TestCancelBeforeWaitingPeriodRejected() {
	req := s.submit()

	err := s.service.Cancel(s.ctxAt(s.base), s.owner, req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateUnderVerification, stored.State)
}

func (s *ServiceSuite) TestCancelByStrangerForbidden() {
	req := s.submitVerified()

	err := s.service.Cancel(s.ctxAt(s.base), id.NewUserID(), req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestCancelByAdminAllowed() {
	req := s.submitVerified()

	ctx := requestcontext.WithAdmin(s.ctxAt(s.base), true)
	s.NoError(s.service.Cancel(ctx, id.NewUserID(), req.ID))
}

func (s *ServiceSuite) TestCancelLosesRaceAgainstGrant() {
	req := s.submitVerified()

	after := s.base.Add(73 * time.Hour)
	_, err := s.service.SweepExpirations(s.ctxAt(after))
	s.Require().NoError(err)

	err = s.service.Cancel(s.ctxAt(after), s.owner, req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestSweepIssuesGrantAfterWaitingPeriod() {
	req := s.submitVerified()

	changed, err := s.service.SweepExpirations(s.ctxAt(s.base.Add(73 * time.Hour)))
	s.Require().NoError(err)
	s.Equal(1, changed)

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateGranted, stored.State)

	grants, err := s.service.GrantsFor(s.ctxAt(s.base), s.requester)
	s.Require().NoError(err)
	s.Require().Len(grants, 1)
	s.Equal(req.ID, grants[0].RequestID)
	s.Equal(s.owner, grants[0].TargetOwnerID)
	s.True(grants[0].Live(s.base.Add(73 * time.Hour)))
}

func (s *ServiceSuite) TestSweepDoesNotGrantEarly() {
	s.submitVerified()

	changed, err := s.service.SweepExpirations(s.ctxAt(s.base.Add(71 * time.Hour)))
	s.Require().NoError(err)
	s.Zero(changed)

	grants, err := s.service.GrantsFor(s.ctxAt(s.base), s.requester)
	s.Require().NoError(err)
	s.Empty(grants)
}

func (s *ServiceSuite) TestRepeatedSweepsIssueExactlyOneGrant() {
	req := s.submitVerified()

	for i := 0; i < 3; i++ {
		_, err := s.service.SweepExpirations(s.ctxAt(s.base.Add(73*time.Hour + time.Duration(i)*time.Minute)))
		s.Require().NoError(err)
	}

	grants, err := s.service.GrantsFor(s.ctxAt(s.base), s.requester)
	s.Require().NoError(err)
	s.Require().Len(grants, 1)
	s.Equal(req.ID, grants[0].RequestID)
	s.InDelta(1, promtestutil.ToFloat64(s.metrics.GrantsIssued), 0.001)
}

func (s *ServiceSuite) TestSweepRepairsMissingGrant() {
	req := s.submitVerified()

	// Simulate a crash between the Granted transition and the grant insert.
	applied, err := s.requests.Transition(context.Background(), req.ID, StateWaitingPeriod, StateGranted, s.base.Add(73*time.Hour))
	s.Require().NoError(err)
	s.Require().True(applied)

	_, err = s.service.SweepExpirations(s.ctxAt(s.base.Add(74 * time.Hour)))
	s.Require().NoError(err)

	grants, err := s.service.GrantsFor(s.ctxAt(s.base), s.requester)
	s.Require().NoError(err)
	s.Len(grants, 1)
}

func (s *ServiceSuite) TestSweepExpiresStaleVerification() {
	req := s.submit()

	changed, err := s.service.SweepExpirations(s.ctxAt(s.base.Add(11 * 24 * time.Hour)))
	s.Require().NoError(err)
	s.Equal(1, changed)

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateExpired, stored.State)
}

func (s *ServiceSuite) TestSweepKeepsFreshVerificationAlive() {
	req := s.submit()

	changed, err := s.service.SweepExpirations(s.ctxAt(s.base.Add(9 * 24 * time.Hour)))
	s.Require().NoError(err)
	s.Zero(changed)

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateUnderVerification, stored.State)
}

func (s *ServiceSuite) TestWithdrawByRequester() {
	req := s.submit()

	s.Require().NoError(s.service.Withdraw(s.ctxAt(s.base), s.requester, req.ID))

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateWithdrawn, stored.State)
}

func (s *ServiceSuite) TestWithdrawByOthersForbidden() {
	req := s.submit()

	err := s.service.Withdraw(s.ctxAt(s.base), s.owner, req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestWithdrawAfterApprovalRejected() {
	req := s.submitVerified()

	err := s.service.Withdraw(s.ctxAt(s.base), s.requester, req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) issueGrant() Grant {
	s.submitVerified()
	_, err := s.service.SweepExpirations(s.ctxAt(s.base.Add(73 * time.Hour)))
	s.Require().NoError(err)
	grants, err := s.service.GrantsFor(s.ctxAt(s.base), s.requester)
	s.Require().NoError(err)
	s.Require().Len(grants, 1)
	return grants[0]
}

func (s *ServiceSuite) TestRevokeByOwner() {
	grant := s.issueGrant()

	revokedAt := s.base.Add(80 * time.Hour)
	s.Require().NoError(s.service.Revoke(s.ctxAt(revokedAt), s.owner, grant.ID))

	live, err := s.service.LiveGrantsFor(s.ctxAt(revokedAt), s.requester)
	s.Require().NoError(err)
	s.Empty(live)
}

func (s *ServiceSuite) TestRevokeIsIdempotent() {
	grant := s.issueGrant()

	s.Require().NoError(s.service.Revoke(s.ctxAt(s.base), s.owner, grant.ID))
	s.NoError(s.service.Revoke(s.ctxAt(s.base), s.owner, grant.ID))
	s.InDelta(1, promtestutil.ToFloat64(s.metrics.GrantsRevoked), 0.001)
}

func (s *ServiceSuite) TestRevokeByGranteeForbidden() {
	grant := s.issueGrant()

	err := s.service.Revoke(s.ctxAt(s.base), s.requester, grant.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestRevokeUnknownGrant() {
	err := s.service.Revoke(s.ctxAt(s.base), s.owner, id.NewGrantID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestAuditTrailCoversFullLifecycle() {
	req := s.submitVerified()
	_, err := s.service.SweepExpirations(s.ctxAt(s.base.Add(73 * time.Hour)))
	s.Require().NoError(err)

	var kinds []audit.Kind
	for _, event := range s.auditLog.All() {
		kinds = append(kinds, event.Kind)
	}
	s.Contains(kinds, audit.KindRequestSubmitted)
	s.Contains(kinds, audit.KindRequestApproved)
	s.Contains(kinds, audit.KindGrantIssued)

	stored, err := s.service.GetRequest(s.ctxAt(s.base), req.ID)
	s.Require().NoError(err)
	s.Equal(StateGranted, stored.State)
}
