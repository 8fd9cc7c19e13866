package family

import (
	"context"
	"sync"

	id "heirloom/pkg/domain"
	"heirloom/pkg/platform/sentinel"
)

// InMemoryStore favors clarity over performance; it is the default wiring
// and the test double for the postgres store.
type InMemoryStore struct {
	mu       sync.RWMutex
	families map[id.FamilyID]Family
	members  map[id.UserID]Member
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		families: make(map[id.FamilyID]Family),
		members:  make(map[id.UserID]Member),
	}
}

func (s *InMemoryStore) CreateFamily(_ context.Context, f Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.families[f.ID]; ok {
		return sentinel.ErrConflict
	}
	s.families[f.ID] = f
	return nil
}

func (s *InMemoryStore) FindFamily(_ context.Context, familyID id.FamilyID) (Family, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.families[familyID]; ok {
		return f, nil
	}
	return Family{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) AddMember(_ context.Context, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.UserID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.families[m.FamilyID]; !ok {
		return sentinel.ErrNotFound
	}
	s.members[m.UserID] = m
	return nil
}

func (s *InMemoryStore) RemoveMember(_ context.Context, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[userID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.members, userID)
	return nil
}

func (s *InMemoryStore) FindMember(_ context.Context, userID id.UserID) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.members[userID]; ok {
		return m, nil
	}
	return Member{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListByFamily(_ context.Context, familyID id.FamilyID) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Member
	for _, m := range s.members {
		if m.FamilyID == familyID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemoryStore) UpdateRole(_ context.Context, userID id.UserID, role id.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[userID]
	if !ok {
		return sentinel.ErrNotFound
	}
	m.Role = role
	s.members[userID] = m
	return nil
}
