package leader

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"auction-engine/pkg/logger"
	"auction-engine/pkg/utils"
)

const leaderKey = "auction_sweep_leader"

// renewScript extends the TTL only while this instance still holds the key.
const renewScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("EXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`

const releaseScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// SweepLeader elects one process to run the scheduled sweeps when several
// replicas share the same database. Leadership is claimed or renewed on every
// sweep tick; the TTL must exceed the longest sweep interval so a healthy
// leader never lapses between ticks. The sweeps are idempotent, so a brief
// overlap during a takeover is harmless.
type SweepLeader struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
	log        logger.Logger
}

func NewSweepLeader(client *redis.Client, ttl time.Duration, log logger.Logger) *SweepLeader {
	return &SweepLeader{
		client:     client,
		instanceID: utils.GenerateID("instance"),
		ttl:        ttl,
		log:        log,
	}
}

// TryAcquire claims leadership if it is free, or renews it if this instance
// already leads. It reports whether this instance currently leads.
func (l *SweepLeader) TryAcquire(ctx context.Context) (bool, error) {
	claimed, err := l.client.SetNX(ctx, leaderKey, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if claimed {
		l.log.Info("sweep leadership acquired", "instance_id", l.instanceID)
		return true, nil
	}

	renewed, err := l.client.Eval(ctx, renewScript, []string{leaderKey},
		l.instanceID, int(l.ttl.Seconds())).Int64()
	if err != nil {
		return false, err
	}
	return renewed == 1, nil
}

// Release gives up leadership on shutdown so a peer can take over without
// waiting out the TTL.
func (l *SweepLeader) Release(ctx context.Context) error {
	_, err := l.client.Eval(ctx, releaseScript, []string{leaderKey}, l.instanceID).Result()
	return err
}
