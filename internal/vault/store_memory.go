package vault

import (
	"context"
	"sync"
	"time"

	id "heirloom/pkg/domain"
	"heirloom/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	items map[id.ItemID]Item
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[id.ItemID]Item)}
}

func (s *InMemoryStore) Create(_ context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return sentinel.ErrConflict
	}
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, itemID id.ItemID) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.items[itemID]; ok {
		return cloneItem(item), nil
	}
	return Item{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListByOwner(_ context.Context, ownerID id.UserID) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if item.OwnerID == ownerID {
			out = append(out, cloneItem(item))
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListPendingTriggers(_ context.Context) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if item.TriggerPending() {
			out = append(out, cloneItem(item))
		}
	}
	return out, nil
}

func (s *InMemoryStore) UpdateSharing(_ context.Context, itemID id.ItemID, sharing SharingSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return sentinel.ErrNotFound
	}
	item.Sharing = cloneSharing(sharing)
	s.items[itemID] = item
	return nil
}

func (s *InMemoryStore) UpdateContent(_ context.Context, itemID id.ItemID, contentRef string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return sentinel.ErrNotFound
	}
	item.ContentRef = contentRef
	item.UpdatedAt = now
	s.items[itemID] = item
	return nil
}

// MarkDelivered holds the store lock for the check and the write, which is
// the in-memory equivalent of the conditional UPDATE the postgres store
// uses. A racing caller finds the state already advanced and gets false.
func (s *InMemoryStore) MarkDelivered(_ context.Context, itemID id.ItemID, firedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if item.State != StateActive || item.FiredAt != nil {
		return false, nil
	}
	item.State = StateDelivered
	item.FiredAt = &firedAt
	item.UpdatedAt = firedAt
	s.items[itemID] = item
	return true, nil
}

func (s *InMemoryStore) Tombstone(_ context.Context, itemID id.ItemID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if item.State != StateActive {
		return false, nil
	}
	item.State = StateTombstoned
	item.UpdatedAt = now
	s.items[itemID] = item
	return true, nil
}

func cloneItem(item Item) Item {
	item.Sharing = cloneSharing(item.Sharing)
	if item.Trigger != nil {
		t := *item.Trigger
		item.Trigger = &t
	}
	if item.FiredAt != nil {
		f := *item.FiredAt
		item.FiredAt = &f
	}
	return item
}

func cloneSharing(sharing SharingSettings) SharingSettings {
	if sharing == nil {
		return nil
	}
	out := make(SharingSettings, len(sharing))
	for member, caps := range sharing {
		out[member] = caps.Union(nil)
	}
	return out
}
