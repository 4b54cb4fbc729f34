package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL is how long a member stays visible without a refresh.
const DefaultPresenceTTL = 60 * time.Second

type PresenceStore interface {
	Join(ctx context.Context, docID string, userID uint64, displayName, color string, ttl time.Duration) error
	UpdateCursor(ctx context.Context, docID string, userID uint64, cursor []byte, ttl time.Duration) error
	UpdateAwareness(ctx context.Context, docID string, userID uint64, state []byte, ttl time.Duration) error
	Touch(ctx context.Context, docID string, userID uint64, ttl time.Duration) error
	Leave(ctx context.Context, docID string, userID uint64) error
	ListActive(ctx context.Context, docID string) ([]PresenceEntry, error)
	Documents(ctx context.Context) ([]string, error)
}

type PresenceEntry struct {
	UserID       uint64          `json:"user_id"`
	DisplayName  string          `json:"display_name"`
	Color        string          `json:"color"`
	Cursor       json.RawMessage `json:"cursor,omitempty"`
	Awareness    json.RawMessage `json:"awareness,omitempty"`
	LastActivity int64           `json:"last_activity"`
}

type redisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) PresenceStore {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) Join(ctx context.Context, docID string, userID uint64, displayName, color string, ttl time.Duration) error {
	now := time.Now()
	tx := p.rdb.TxPipeline()
	// ZSET score is expireAt (unix seconds), the logical TTL of the member.
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(now.Add(ttl).Unix()), Member: userID})
	tx.HSet(ctx, memberKey(docID, userID),
		"display_name", displayName,
		"color", color,
		"last_activity", now.Unix(),
	)
	tx.Expire(ctx, memberKey(docID, userID), ttl)
	_, err := tx.Exec(ctx)
	return err
}

// refreshScript refreshes only a member whose hash still exists: re-score
// in the room ZSET, optionally overwrite one awareness field, bump
// last_activity and the hash TTL. An expired member stays gone; recreating
// it from a bare refresh would leave a ghost entry with no display name.
var refreshScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 0 then
	return 0
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[2])
if ARGV[3] ~= "" then
	redis.call("HSET", KEYS[2], ARGV[3], ARGV[4])
end
redis.call("HSET", KEYS[2], "last_activity", ARGV[5])
redis.call("PEXPIRE", KEYS[2], ARGV[6])
return 1
`)

// refresh re-scores the member in the room ZSET and extends the hash TTL,
// optionally overwriting one awareness field. Overwrite, never merge. A
// no-op when the member already expired; the client must rejoin.
func (p *redisPresence) refresh(ctx context.Context, docID string, userID uint64, ttl time.Duration, field string, value []byte) error {
	now := time.Now()
	err := refreshScript.Run(ctx, p.rdb,
		[]string{roomKey(docID), memberKey(docID, userID)},
		now.Add(ttl).Unix(),
		userID,
		field,
		string(value),
		now.Unix(),
		ttl.Milliseconds(),
	).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

func (p *redisPresence) UpdateCursor(ctx context.Context, docID string, userID uint64, cursor []byte, ttl time.Duration) error {
	return p.refresh(ctx, docID, userID, ttl, "cursor", cursor)
}

func (p *redisPresence) UpdateAwareness(ctx context.Context, docID string, userID uint64, state []byte, ttl time.Duration) error {
	return p.refresh(ctx, docID, userID, ttl, "awareness", state)
}

func (p *redisPresence) Touch(ctx context.Context, docID string, userID uint64, ttl time.Duration) error {
	return p.refresh(ctx, docID, userID, ttl, "", nil)
}

func (p *redisPresence) Leave(ctx context.Context, docID string, userID uint64) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), userID)
	tx.Del(ctx, memberKey(docID, userID))
	_, err := tx.Exec(ctx)
	return err
}

// sweepScript removes members whose logical TTL elapsed, together with
// their awareness hashes. ARGV[2] is the member key prefix; member hashes
// share the room's hash tag so the script stays on one cluster slot.
var sweepScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	for _, uid in ipairs(expired) do
		redis.call("DEL", ARGV[2] .. uid)
	end
end
return #expired
`)

func (p *redisPresence) ListActive(ctx context.Context, docID string) ([]PresenceEntry, error) {
	// step1: sweep logically expired members before reading
	now := time.Now().Unix()
	if _, err := sweepScript.Run(ctx, p.rdb, []string{roomKey(docID)}, now, memberKeyPrefix(docID)).Int(); err != nil && err != redis.Nil {
		return nil, err
	}

	// step2: members still scored past now are alive
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: batch-read their awareness hashes
	pipe := p.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(aliveIDs))
	uids := make([]uint64, 0, len(aliveIDs))
	for _, id := range aliveIDs {
		uid, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, err
		}
		uids = append(uids, uid)
		cmds = append(cmds, pipe.HGetAll(ctx, memberKey(docID, uid)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	entries := make([]PresenceEntry, 0, len(uids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// hash TTL fired between sweep and read; treat as gone
			continue
		}
		entry := PresenceEntry{
			UserID:      uids[i],
			DisplayName: fields["display_name"],
			Color:       fields["color"],
		}
		if v := fields["cursor"]; v != "" {
			entry.Cursor = json.RawMessage(v)
		}
		if v := fields["awareness"]; v != "" {
			entry.Awareness = json.RawMessage(v)
		}
		if v := fields["last_activity"]; v != "" {
			entry.LastActivity, _ = strconv.ParseInt(v, 10, 64)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p *redisPresence) Documents(ctx context.Context) ([]string, error) {
	var documents []string
	iter := p.rdb.Scan(ctx, 0, "presence:room:*", 0).Iterator()
	for iter.Next(ctx) {
		k := strings.TrimPrefix(iter.Val(), "presence:room:")
		// roomKey wraps the id in a {docID:...} hash tag
		k = strings.TrimPrefix(k, "{docID:")
		k = strings.TrimSuffix(k, "}")
		if k != "" {
			documents = append(documents, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return documents, nil
}
