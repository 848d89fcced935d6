package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a redis-backed first-seen filter for gateway webhook deliveries,
// keyed by the provider's event id. It is a fast-path filter only: the
// authoritative duplicate guard is the conditional update on the order row.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen records the event id once processing has fully succeeded. The key
// must never be written before then: claiming it up front would answer the
// retry of a failed delivery as a duplicate and lose the event for good.
func (s *Store) MarkSeen(ctx context.Context, eventID string) error {
	return s.rdb.Set(ctx, key(eventID), "1", s.ttl).Err()
}

func key(eventID string) string {
	return "idem:webhook:" + eventID
}
