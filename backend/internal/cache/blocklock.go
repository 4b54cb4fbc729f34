package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultLockLease is the lease granted to a block lock; an owner that
// disconnects without releasing loses the lock at lease expiry.
const DefaultLockLease = 30 * time.Second

// BlockLocks is an advisory per-(document, block) lease mutex. It
// coordinates UI-level editing only; operation ordering does not depend
// on it.
type BlockLocks interface {
	Acquire(ctx context.Context, docID, blockID string, ownerID uint64, lease time.Duration) (bool, error)
	Release(ctx context.Context, docID, blockID string, ownerID uint64) (bool, error)
	Owner(ctx context.Context, docID, blockID string) (uint64, bool, error)
}

type redisBlockLocks struct {
	rdb *redis.Client
}

func NewRedisBlockLocks(rdb *redis.Client) BlockLocks {
	return &redisBlockLocks{rdb: rdb}
}

func (l *redisBlockLocks) Acquire(ctx context.Context, docID, blockID string, ownerID uint64, lease time.Duration) (bool, error) {
	// SET NX EX: one atomic set-if-absent-with-expiry
	return l.rdb.SetNX(ctx, lockKey(docID, blockID), ownerID, lease).Result()
}

// releaseScript deletes the lock only when the caller still owns it. The
// check and the delete must be one atomic step: after a lease expiry the
// key may already belong to someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Release frees the lock and reports whether this call removed it. A
// non-owner release is a no-op, not an error.
func (l *redisBlockLocks) Release(ctx context.Context, docID, blockID string, ownerID uint64) (bool, error) {
	deleted, err := releaseScript.Run(ctx, l.rdb, []string{lockKey(docID, blockID)}, strconv.FormatUint(ownerID, 10)).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return deleted == 1, nil
}

func (l *redisBlockLocks) Owner(ctx context.Context, docID, blockID string) (uint64, bool, error) {
	val, err := l.rdb.Get(ctx, lockKey(docID, blockID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	owner, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return owner, true, nil
}
