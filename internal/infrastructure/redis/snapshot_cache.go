package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/domain"

	"github.com/go-redis/redis/v8"
)

// RedisSnapshotCache stores the display-only auction projection served to
// price polls. It never authorizes a mutation.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(auctionID string) string {
	return fmt.Sprintf("auction_snapshot:%s", auctionID)
}

func (c *RedisSnapshotCache) SetSnapshot(ctx context.Context, snap *domain.AuctionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return c.client.Set(ctx, snapshotKey(snap.AuctionID), data, c.ttl).Err()
}

func (c *RedisSnapshotCache) GetSnapshot(ctx context.Context, auctionID string) (*domain.AuctionSnapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(auctionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot for auction %s: %w", auctionID, err)
	}

	var snap domain.AuctionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for auction %s: %w", auctionID, err)
	}
	return &snap, nil
}

func (c *RedisSnapshotCache) Invalidate(ctx context.Context, auctionID string) error {
	return c.client.Del(ctx, snapshotKey(auctionID)).Err()
}
