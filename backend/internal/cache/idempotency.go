package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL bounds how long a processed-message marker lives.
// Client retransmits arriving later than this are handled again; the
// sequencer's storage-level dedup is the second line of defense.
const DefaultIdempotencyTTL = 5 * time.Minute

// IdempotencyGuard absorbs retransmits of at-least-once inbound messages.
type IdempotencyGuard interface {
	IsDuplicate(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
	// ProcessOnce runs fn only when messageID has not been seen, then marks
	// it processed. Returns whether fn ran.
	ProcessOnce(ctx context.Context, messageID string, fn func() error) (bool, error)
}

type redisIdempotency struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotency(rdb *redis.Client, ttl time.Duration) IdempotencyGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &redisIdempotency{rdb: rdb, ttl: ttl}
}

func (g *redisIdempotency) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	n, err := g.rdb.Exists(ctx, idemKey(messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *redisIdempotency) MarkProcessed(ctx context.Context, messageID string) error {
	return g.rdb.Set(ctx, idemKey(messageID), "1", g.ttl).Err()
}

func (g *redisIdempotency) ProcessOnce(ctx context.Context, messageID string, fn func() error) (bool, error) {
	// SETNX claims the marker so concurrent deliveries race for one winner
	claimed, err := g.rdb.SetNX(ctx, idemKey(messageID), "1", g.ttl).Result()
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	if err := fn(); err != nil {
		// give the retransmit a chance: release the claim on failure
		_ = g.rdb.Del(ctx, idemKey(messageID)).Err()
		return true, err
	}
	return true, nil
}
