package emergency

import (
	"context"
	"sync"
	"time"

	id "heirloom/pkg/domain"
	"heirloom/pkg/platform/sentinel"
)

// InMemoryRequestStore mirrors the postgres store's conditional-update
// semantics with a mutex held across check and write.
type InMemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[id.RequestID]Request
}

func NewInMemoryRequestStore() *InMemoryRequestStore {
	return &InMemoryRequestStore{requests: make(map[id.RequestID]Request)}
}

func (s *InMemoryRequestStore) Create(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.RequesterID == req.RequesterID &&
			existing.TargetOwnerID == req.TargetOwnerID &&
			!existing.State.IsTerminal() {
			return sentinel.ErrConflict
		}
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *InMemoryRequestStore) Find(_ context.Context, requestID id.RequestID) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if req, ok := s.requests[requestID]; ok {
		return cloneRequest(req), nil
	}
	return Request{}, sentinel.ErrNotFound
}

func (s *InMemoryRequestStore) ListInState(_ context.Context, state RequestState) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Request
	for _, req := range s.requests {
		if req.State == state {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

func (s *InMemoryRequestStore) Transition(_ context.Context, requestID id.RequestID, from, to RequestState, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if req.State != from {
		return false, nil
	}
	req.State = to
	if to == StateWaitingPeriod {
		t := at
		req.ApprovedAt = &t
	}
	if to.IsTerminal() {
		t := at
		req.ResolvedAt = &t
	}
	s.requests[requestID] = req
	return true, nil
}

func (s *InMemoryRequestStore) SetScope(_ context.Context, requestID id.RequestID, scope GrantScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	req.Scope = scope
	s.requests[requestID] = req
	return nil
}

func cloneRequest(req Request) Request {
	if req.ApprovedAt != nil {
		t := *req.ApprovedAt
		req.ApprovedAt = &t
	}
	if req.ResolvedAt != nil {
		t := *req.ResolvedAt
		req.ResolvedAt = &t
	}
	req.Scope.Items = append([]id.ItemID(nil), req.Scope.Items...)
	return req
}

// InMemoryGrantStore enforces one grant per request.
type InMemoryGrantStore struct {
	mu        sync.RWMutex
	grants    map[id.GrantID]Grant
	byRequest map[id.RequestID]id.GrantID
}

func NewInMemoryGrantStore() *InMemoryGrantStore {
	return &InMemoryGrantStore{
		grants:    make(map[id.GrantID]Grant),
		byRequest: make(map[id.RequestID]id.GrantID),
	}
}

func (s *InMemoryGrantStore) CreateIfAbsent(_ context.Context, grant Grant) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byRequest[grant.RequestID]; ok {
		return cloneGrant(s.grants[existingID]), nil
	}
	s.grants[grant.ID] = cloneGrant(grant)
	s.byRequest[grant.RequestID] = grant.ID
	return cloneGrant(grant), nil
}

func (s *InMemoryGrantStore) Find(_ context.Context, grantID id.GrantID) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.grants[grantID]; ok {
		return cloneGrant(g), nil
	}
	return Grant{}, sentinel.ErrNotFound
}

func (s *InMemoryGrantStore) FindByRequest(_ context.Context, requestID id.RequestID) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if grantID, ok := s.byRequest[requestID]; ok {
		return cloneGrant(s.grants[grantID]), nil
	}
	return Grant{}, sentinel.ErrNotFound
}

func (s *InMemoryGrantStore) ListByGrantee(_ context.Context, granteeID id.UserID) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Grant
	for _, g := range s.grants {
		if g.GranteeID == granteeID {
			out = append(out, cloneGrant(g))
		}
	}
	return out, nil
}

func (s *InMemoryGrantStore) Revoke(_ context.Context, grantID id.GrantID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if g.Revoked {
		return false, nil
	}
	g.Revoked = true
	t := at
	g.RevokedAt = &t
	s.grants[grantID] = g
	return true, nil
}

func cloneGrant(g Grant) Grant {
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		g.ExpiresAt = &t
	}
	if g.RevokedAt != nil {
		t := *g.RevokedAt
		g.RevokedAt = &t
	}
	g.Scope.Items = append([]id.ItemID(nil), g.Scope.Items...)
	return g
}

// InMemoryCooldownStore tracks resubmission cooldowns with expiry stamps.
type InMemoryCooldownStore struct {
	mu    sync.Mutex
	until map[string]time.Time
	clock func() time.Time
}

func NewInMemoryCooldownStore() *InMemoryCooldownStore {
	return &InMemoryCooldownStore{until: make(map[string]time.Time), clock: time.Now}
}

func (s *InMemoryCooldownStore) Set(_ context.Context, requester, owner id.UserID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[cooldownKey(requester, owner)] = s.clock().Add(ttl)
	return nil
}

func (s *InMemoryCooldownStore) Active(_ context.Context, requester, owner id.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cooldownKey(requester, owner)
	until, ok := s.until[key]
	if !ok {
		return false, nil
	}
	if s.clock().After(until) {
		delete(s.until, key)
		return false, nil
	}
	return true, nil
}

func cooldownKey(requester, owner id.UserID) string {
	return requester.String() + ":" + owner.String()
}
