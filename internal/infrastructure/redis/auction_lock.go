package redis

import (
	"context"
	"fmt"
	"time"

	"auction-engine/internal/auctionerrors"
	"auction-engine/pkg/utils"

	"github.com/go-redis/redis/v8"
)

// RedisAuctionLock serializes mutations per auction across processes with a
// SET NX lease. Acquisition is bounded: a few short attempts, then the caller
// gets the retryable contention error instead of blocking through a bidding
// flurry.
type RedisAuctionLock struct {
	client     *redis.Client
	ttl        time.Duration
	attempts   int
	retryDelay time.Duration
}

func NewRedisAuctionLock(client *redis.Client, ttl time.Duration, attempts int, retryDelay time.Duration) *RedisAuctionLock {
	if attempts < 1 {
		attempts = 1
	}
	return &RedisAuctionLock{
		client:     client,
		ttl:        ttl,
		attempts:   attempts,
		retryDelay: retryDelay,
	}
}

func (l *RedisAuctionLock) Acquire(ctx context.Context, auctionID string) (func(), error) {
	key := fmt.Sprintf("auction_lock:%s", auctionID)
	token := utils.GenerateID("lock")

	for attempt := 0; attempt < l.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(l.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock for auction %s: %w", auctionID, err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}
	}

	return nil, fmt.Errorf("auction %s: %w", auctionID, auctionerrors.ErrAuctionBusy)
}

// release deletes the lock only if this holder still owns it, so an expired
// lease can never delete a newer holder's lock.
func (l *RedisAuctionLock) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	luaScript := `
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("DEL", KEYS[1])
        else
            return 0
        end
    `
	l.client.Eval(ctx, luaScript, []string{key}, token)
}
