package emergency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"heirloom/internal/audit"
	"heirloom/internal/platform/metrics"
	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/platform/sentinel"
	"heirloom/pkg/requestcontext"
)

// VerificationRequester starts the out-of-band identity and relationship
// check for a submitted request. Implementations call external systems and
// must be safe to retry: the sweep re-kicks requests stuck in Submitted.
type VerificationRequester interface {
	RequestVerification(ctx context.Context, req Request) error
}

// Notifier tells the target owner that a verified request is entering its
// waiting period. Must be safe to retry: the sweep re-notifies requests
// stuck in Approved.
type Notifier interface {
	NotifyOwner(ctx context.Context, req Request) error
}

// Policy holds the configurable durations of the emergency workflow.
type Policy struct {
	// WaitingPeriod is the owner's cancellation window after approval.
	WaitingPeriod time.Duration
	// VerificationWindow bounds how long a request may sit unresolved
	// before the sweep expires it.
	VerificationWindow time.Duration
	// ResubmitCooldown throttles a requester after any terminal outcome
	// other than a grant.
	ResubmitCooldown time.Duration
}

// Service drives the emergency access request state machine. Every state
// change goes through the store's conditional Transition, so concurrent
// actors (owner cancel, verification callback, expiration sweep) resolve
// to exactly one winner without locks held across collaborator calls.
type Service struct {
	requests  RequestStore
	grants    GrantStore
	cooldowns CooldownStore
	verifier  VerificationRequester
	notifier  Notifier
	audit     *audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	policy    Policy
}

func NewService(
	requests RequestStore,
	grants GrantStore,
	cooldowns CooldownStore,
	verifier VerificationRequester,
	notifier Notifier,
	publisher *audit.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	policy Policy,
) *Service {
	return &Service{
		requests:  requests,
		grants:    grants,
		cooldowns: cooldowns,
		verifier:  verifier,
		notifier:  notifier,
		audit:     publisher,
		metrics:   m,
		logger:    logger,
		policy:    policy,
	}
}

// SubmitRequest opens an emergency access request against another user's
// vault. The verification kick happens after the request is durably
// Submitted; a failed kick leaves the request for the sweep to retry.
func (s *Service) SubmitRequest(ctx context.Context, requester, targetOwner id.UserID, relationshipClaim, evidenceRef string) (Request, error) {
	if requester == targetOwner {
		return Request{}, dErrors.New(dErrors.CodeInvalidInput, "cannot request emergency access to your own vault")
	}
	if relationshipClaim == "" {
		return Request{}, dErrors.New(dErrors.CodeBadRequest, "relationship claim is required")
	}

	active, err := s.cooldowns.Active(ctx, requester, targetOwner)
	if err != nil {
		return Request{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check resubmission cooldown")
	}
	if active {
		return Request{}, dErrors.New(dErrors.CodeInvariantViolation, "resubmission cooldown is in effect for this owner")
	}

	now := requestcontext.Now(ctx)
	req := Request{
		ID:                id.NewRequestID(),
		RequesterID:       requester,
		TargetOwnerID:     targetOwner,
		RelationshipClaim: relationshipClaim,
		State:             StateSubmitted,
		EvidenceRef:       evidenceRef,
		Scope:             GrantScope{All: true},
		SubmittedAt:       now,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Request{}, dErrors.New(dErrors.CodeInvariantViolation, "a pending request already exists for this owner")
		}
		return Request{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request")
	}

	s.metrics.RequestsSubmitted.Inc()
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindRequestSubmitted,
		EntityRef:      req.ID.String(),
		OwnerID:        targetOwner,
		ActorID:        requester,
		ResultingState: string(StateSubmitted),
		Detail:         relationshipClaim,
		OccurredAt:     now,
	})

	if kicked := s.kickVerification(ctx, req); kicked {
		req.State = StateUnderVerification
	}
	return req, nil
}

// kickVerification calls the verification collaborator and, on success,
// advances Submitted to UnderVerification. Returns whether the request
// moved.
func (s *Service) kickVerification(ctx context.Context, req Request) bool {
	if err := s.verifier.RequestVerification(ctx, req); err != nil {
		s.logger.Warn("verification kick failed, sweep will retry",
			"request_id", req.ID.String(), "error", err)
		return false
	}
	applied, err := s.requests.Transition(ctx, req.ID, StateSubmitted, StateUnderVerification, requestcontext.Now(ctx))
	if err != nil {
		s.logger.Error("failed to mark request under verification",
			"request_id", req.ID.String(), "error", err)
		return false
	}
	return applied
}

// RecordVerification ingests the verification collaborator's outcome. A
// pass moves the request to Approved, notifies the owner, and opens the
// waiting period; a fail denies it and starts the resubmission cooldown.
// The optional scope narrows what an eventual grant will cover.
func (s *Service) RecordVerification(ctx context.Context, requestID id.RequestID, outcome VerificationOutcome, scope *GrantScope) error {
	req, err := s.findRequest(ctx, requestID)
	if err != nil {
		return err
	}

	// A callback can arrive before the post-kick transition landed.
	from := req.State
	if from != StateSubmitted && from != StateUnderVerification {
		return dErrors.New(dErrors.CodeInvariantViolation, "request is not awaiting verification")
	}
	now := requestcontext.Now(ctx)

	switch outcome {
	case OutcomeFail:
		applied, err := s.requests.Transition(ctx, requestID, from, StateDenied, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deny request")
		}
		if !applied {
			return dErrors.New(dErrors.CodeConflict, "request state changed during verification")
		}
		s.startCooldown(ctx, req)
		s.audit.Record(ctx, audit.Event{
			Kind:           audit.KindRequestDenied,
			EntityRef:      requestID.String(),
			OwnerID:        req.TargetOwnerID,
			ActorID:        req.RequesterID,
			ResultingState: string(StateDenied),
			OccurredAt:     now,
		})
		return nil

	case OutcomePass:
		applied, err := s.requests.Transition(ctx, requestID, from, StateApproved, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to approve request")
		}
		if !applied {
			return dErrors.New(dErrors.CodeConflict, "request state changed during verification")
		}
		if scope != nil {
			req.Scope = *scope
			if err := s.requests.SetScope(ctx, requestID, *scope); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record grant scope")
			}
		}
		s.audit.Record(ctx, audit.Event{
			Kind:           audit.KindRequestApproved,
			EntityRef:      requestID.String(),
			OwnerID:        req.TargetOwnerID,
			ActorID:        req.RequesterID,
			ResultingState: string(StateApproved),
			OccurredAt:     now,
		})
		req.State = StateApproved
		s.openWaitingPeriod(ctx, req)
		return nil

	default:
		return dErrors.New(dErrors.CodeInvalidInput, "unknown verification outcome")
	}
}

// openWaitingPeriod notifies the owner and advances Approved to
// WaitingPeriod. A failed notification leaves the request in Approved for
// the sweep to retry so the owner never loses the cancellation window.
func (s *Service) openWaitingPeriod(ctx context.Context, req Request) bool {
	if err := s.notifier.NotifyOwner(ctx, req); err != nil {
		s.logger.Warn("owner notification failed, sweep will retry",
			"request_id", req.ID.String(), "error", err)
		return false
	}
	applied, err := s.requests.Transition(ctx, req.ID, StateApproved, StateWaitingPeriod, requestcontext.Now(ctx))
	if err != nil {
		s.logger.Error("failed to open waiting period",
			"request_id", req.ID.String(), "error", err)
		return false
	}
	return applied
}

// Cancel lets the target owner (or an admin) stop a request during its
// waiting period. Exactly one of Cancel and grant issuance wins; a cancel
// that loses the race reports that access was already granted.
func (s *Service) Cancel(ctx context.Context, actor id.UserID, requestID id.RequestID) error {
	req, err := s.findRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if actor != req.TargetOwnerID && !requestcontext.IsAdmin(ctx) {
		return dErrors.New(dErrors.CodeForbidden, "only the vault owner can cancel this request")
	}
	now := requestcontext.Now(ctx)
	applied, err := s.requests.Transition(ctx, requestID, StateWaitingPeriod, StateCanceled, now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel request")
	}
	if !applied {
		current, err := s.findRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if current.State == StateGranted {
			return dErrors.New(dErrors.CodeInvariantViolation, "access was already granted")
		}
		return dErrors.New(dErrors.CodeConflict, "request is not in its waiting period")
	}
	s.metrics.RequestsCanceled.Inc()
	s.startCooldown(ctx, req)
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindRequestCanceled,
		EntityRef:      requestID.String(),
		OwnerID:        req.TargetOwnerID,
		ActorID:        actor,
		ResultingState: string(StateCanceled),
		OccurredAt:     now,
	})
	return nil
}

// Withdraw lets the requester abandon their own request before a decision.
func (s *Service) Withdraw(ctx context.Context, actor id.UserID, requestID id.RequestID) error {
	req, err := s.findRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if actor != req.RequesterID {
		return dErrors.New(dErrors.CodeForbidden, "only the requester can withdraw this request")
	}
	if req.State != StateSubmitted && req.State != StateUnderVerification {
		return dErrors.New(dErrors.CodeInvariantViolation, "request can no longer be withdrawn")
	}
	now := requestcontext.Now(ctx)
	applied, err := s.requests.Transition(ctx, requestID, req.State, StateWithdrawn, now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to withdraw request")
	}
	if !applied {
		return dErrors.New(dErrors.CodeConflict, "request state changed, try again")
	}
	s.startCooldown(ctx, req)
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindRequestWithdrawn,
		EntityRef:      requestID.String(),
		OwnerID:        req.TargetOwnerID,
		ActorID:        actor,
		ResultingState: string(StateWithdrawn),
		OccurredAt:     now,
	})
	return nil
}

// Revoke terminates a live grant. Owner or admin only. Revoking an already
// revoked grant is a no-op so emergency revocation is always safe to
// repeat.
func (s *Service) Revoke(ctx context.Context, actor id.UserID, grantID id.GrantID) error {
	grant, err := s.grants.Find(ctx, grantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "grant not found")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load grant")
	}
	if actor != grant.TargetOwnerID && !requestcontext.IsAdmin(ctx) {
		return dErrors.New(dErrors.CodeForbidden, "only the vault owner can revoke this grant")
	}
	now := requestcontext.Now(ctx)
	applied, err := s.grants.Revoke(ctx, grantID, now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke grant")
	}
	if !applied {
		return nil
	}
	s.metrics.GrantsRevoked.Inc()
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindGrantRevoked,
		EntityRef:      grantID.String(),
		OwnerID:        grant.TargetOwnerID,
		ActorID:        actor,
		ResultingState: "revoked",
		OccurredAt:     now,
	})
	return nil
}

// GetRequest returns the request with coded errors for unknown IDs.
func (s *Service) GetRequest(ctx context.Context, requestID id.RequestID) (Request, error) {
	return s.findRequest(ctx, requestID)
}

// GrantsFor lists a grantee's grants, live or not.
func (s *Service) GrantsFor(ctx context.Context, grantee id.UserID) ([]Grant, error) {
	grants, err := s.grants.ListByGrantee(ctx, grantee)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list grants")
	}
	return grants, nil
}

// LiveGrantsFor returns only grants that currently confer access.
func (s *Service) LiveGrantsFor(ctx context.Context, grantee id.UserID) ([]Grant, error) {
	grants, err := s.GrantsFor(ctx, grantee)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	live := grants[:0]
	for _, g := range grants {
		if g.Live(now) {
			live = append(live, g)
		}
	}
	return live, nil
}

// SweepExpirations advances every time-driven transition: it expires
// requests past the verification window, retries stuck verification kicks
// and owner notifications, issues grants for elapsed waiting periods, and
// repairs granted requests whose grant insert was interrupted. Returns the
// number of state changes applied.
func (s *Service) SweepExpirations(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(s.metrics.SweepDuration)
	defer timer.ObserveDuration()

	now := requestcontext.Now(ctx)
	changed := 0

	for _, state := range []RequestState{StateSubmitted, StateUnderVerification} {
		reqs, err := s.requests.ListInState(ctx, state)
		if err != nil {
			return changed, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
		}
		for _, req := range reqs {
			if now.Sub(req.SubmittedAt) > s.policy.VerificationWindow {
				if s.expire(ctx, req, now) {
					changed++
				}
				continue
			}
			if state == StateSubmitted && s.kickVerification(ctx, req) {
				changed++
			}
		}
	}

	approved, err := s.requests.ListInState(ctx, StateApproved)
	if err != nil {
		return changed, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approved requests")
	}
	for _, req := range approved {
		if s.openWaitingPeriod(ctx, req) {
			changed++
		}
	}

	waiting, err := s.requests.ListInState(ctx, StateWaitingPeriod)
	if err != nil {
		return changed, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list waiting requests")
	}
	for _, req := range waiting {
		if req.ApprovedAt == nil || now.Sub(*req.ApprovedAt) < s.policy.WaitingPeriod {
			continue
		}
		applied, err := s.requests.Transition(ctx, req.ID, StateWaitingPeriod, StateGranted, now)
		if err != nil {
			s.logger.Error("failed to grant request", "request_id", req.ID.String(), "error", err)
			continue
		}
		if !applied {
			continue
		}
		changed++
		if err := s.ensureGrant(ctx, req, now); err != nil {
			s.logger.Error("grant insert failed, sweep will repair",
				"request_id", req.ID.String(), "error", err)
		}
	}

	// Repair pass for a crash between the Granted transition and the grant
	// insert.
	granted, err := s.requests.ListInState(ctx, StateGranted)
	if err != nil {
		return changed, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list granted requests")
	}
	for _, req := range granted {
		if _, err := s.grants.FindByRequest(ctx, req.ID); errors.Is(err, sentinel.ErrNotFound) {
			if err := s.ensureGrant(ctx, req, now); err != nil {
				s.logger.Error("grant repair failed", "request_id", req.ID.String(), "error", err)
			}
		}
	}

	return changed, nil
}

func (s *Service) expire(ctx context.Context, req Request, now time.Time) bool {
	applied, err := s.requests.Transition(ctx, req.ID, req.State, StateExpired, now)
	if err != nil {
		s.logger.Error("failed to expire request", "request_id", req.ID.String(), "error", err)
		return false
	}
	if !applied {
		return false
	}
	s.metrics.RequestsExpired.Inc()
	s.startCooldown(ctx, req)
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindRequestExpired,
		EntityRef:      req.ID.String(),
		OwnerID:        req.TargetOwnerID,
		ActorID:        req.RequesterID,
		ResultingState: string(StateExpired),
		OccurredAt:     now,
	})
	return true
}

// ensureGrant issues the grant for a Granted request. Idempotent through
// the store's one-grant-per-request constraint.
func (s *Service) ensureGrant(ctx context.Context, req Request, now time.Time) error {
	grant, err := s.grants.CreateIfAbsent(ctx, Grant{
		ID:            id.NewGrantID(),
		RequestID:     req.ID,
		GranteeID:     req.RequesterID,
		TargetOwnerID: req.TargetOwnerID,
		Scope:         req.Scope,
		IssuedAt:      now,
	})
	if err != nil {
		return err
	}
	if !grant.IssuedAt.Equal(now) {
		// Another sweep already issued it.
		return nil
	}
	s.metrics.GrantsIssued.Inc()
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindGrantIssued,
		EntityRef:      grant.ID.String(),
		OwnerID:        req.TargetOwnerID,
		ActorID:        req.RequesterID,
		ResultingState: string(StateGranted),
		Detail:         "request " + req.ID.String(),
		OccurredAt:     now,
	})
	return nil
}

func (s *Service) startCooldown(ctx context.Context, req Request) {
	if err := s.cooldowns.Set(ctx, req.RequesterID, req.TargetOwnerID, s.policy.ResubmitCooldown); err != nil {
		s.logger.Warn("failed to start resubmission cooldown",
			"request_id", req.ID.String(), "error", err)
	}
}

func (s *Service) findRequest(ctx context.Context, requestID id.RequestID) (Request, error) {
	req, err := s.requests.Find(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Request{}, dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	if err != nil {
		return Request{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
	}
	return req, nil
}
