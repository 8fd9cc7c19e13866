package emergency

import (
	"context"
	"fmt"
	"time"

	platformredis "heirloom/internal/platform/redis"
	id "heirloom/pkg/domain"
)

// RedisCooldownStore stores cooldown markers with a TTL so expiry is
// handled by redis itself.
type RedisCooldownStore struct {
	client *platformredis.Client
}

func NewRedisCooldownStore(client *platformredis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func (s *RedisCooldownStore) Set(ctx context.Context, requester, owner id.UserID, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(requester, owner), "1", ttl).Err(); err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	return nil
}

func (s *RedisCooldownStore) Active(ctx context.Context, requester, owner id.UserID) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(requester, owner)).Result()
	if err != nil {
		return false, fmt.Errorf("check cooldown: %w", err)
	}
	return n > 0, nil
}

func (s *RedisCooldownStore) key(requester, owner id.UserID) string {
	return fmt.Sprintf("cooldown:%s:%s", requester.String(), owner.String())
}
