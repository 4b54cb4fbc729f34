package cache

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	docViewBaseTTL  = 10 * time.Minute // base expiry of the read-view
	docViewJitter   = 1 * time.Minute  // random jitter to spread expiries
	emptyViewMarker = -1               // null marker against cache penetration
	emptyViewTTL    = 30 * time.Second
)

// jittered TTL so a burst of documents does not expire at once
func docViewTTL() time.Duration {
	return docViewBaseTTL + time.Duration(rand.Int63n(int64(docViewJitter)))
}

// DocViewCache serves the document's current version from redis, falling
// back to the durable store under a singleflight so a cold key produces
// one DB read no matter how many connections race. The sequencer deletes
// the key on every committed operation.
type DocViewCache struct {
	rdb *redis.Client
	sf  singleflight.Group
}

func NewDocViewCache(rdb *redis.Client) *DocViewCache {
	return &DocViewCache{rdb: rdb}
}

// readCache returns the raw cached value; the null marker comes back as
// a hit so a known-missing document does not reach the DB again.
func (c *DocViewCache) readCache(ctx context.Context, key string) (int64, bool, error) {
	res, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	// ParseInt, not ParseUint: the null marker is negative
	v, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// CurrentVersion returns the cached version, or runs fetchDB exactly once
// per key across concurrent callers. A missing document is cached as a
// short-lived null marker and reported as the zero version with ok=false.
func (c *DocViewCache) CurrentVersion(ctx context.Context, docID string, fetchDB func() (uint64, bool, error)) (uint64, bool, error) {
	key := docViewKey(docID)
	type viewResult struct {
		version uint64
		ok      bool
	}
	val, err, _ := c.sf.Do(key, func() (interface{}, error) {
		raw, hit, err := c.readCache(ctx, key)
		if err != nil {
			return viewResult{}, err
		}
		if hit {
			if raw == emptyViewMarker {
				return viewResult{}, nil
			}
			return viewResult{version: uint64(raw), ok: true}, nil
		}

		version, exists, err := fetchDB()
		if err != nil {
			return viewResult{}, err
		}
		if !exists {
			_ = c.rdb.Set(ctx, key, emptyViewMarker, emptyViewTTL).Err()
			return viewResult{}, nil
		}
		_ = c.rdb.Set(ctx, key, version, docViewTTL()).Err()
		return viewResult{version: version, ok: true}, nil
	})
	if err != nil {
		return 0, false, err
	}
	res, ok := val.(viewResult)
	if !ok {
		return 0, false, errors.New("internal type error")
	}
	return res.version, res.ok, nil
}

// Invalidate drops the read-view; called inside the commit path of every
// applied operation.
func (c *DocViewCache) Invalidate(ctx context.Context, docID string) error {
	return c.rdb.Del(ctx, docViewKey(docID)).Err()
}
