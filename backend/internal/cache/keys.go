package cache

import (
	"fmt"
	"strconv"
)

// Key semantics:
// - roomKey(docID):            online members of a document room (ZSet<userID, expireAtUnix>, score=expireAt)
// - memberKey(docID, userID):  per-member awareness hash (display_name, color, cursor, awareness, last_activity)
// - lockKey(docID, blockID):   block lease lock (String: ownerID, with TTL)
// - idemKey(messageID):        processed-message marker (String "1", with TTL)
// - docViewKey(docID):         cached document read-view (String: current version)
//
// All keys of one document share the same {docID:...} hash tag so multi-key
// Lua scripts stay on one slot under Redis Cluster.

const (
	keyRoomFmt    = "presence:room:{docID:%s}"      // ZSet<userID, expireAtUnix>
	keyMemberFmt  = "presence:member:{docID:%s}:%s" // Hash<field -> value>
	keyLockFmt    = "lock:block:{docID:%s}:%s"      // String ownerID
	keyIdemFmt    = "idem:{msg:%s}"                 // String "1"
	keyDocViewFmt = "docview:{docID:%s}"            // String version
)

func roomKey(docID string) string { return fmt.Sprintf(keyRoomFmt, docID) }

// memberKeyPrefix + userID == memberKey; the sweep script rebuilds member
// keys from this prefix, so the two must stay in sync.
func memberKeyPrefix(docID string) string { return fmt.Sprintf(keyMemberFmt, docID, "") }

func memberKey(docID string, userID uint64) string {
	return fmt.Sprintf(keyMemberFmt, docID, strconv.FormatUint(userID, 10))
}

func lockKey(docID, blockID string) string { return fmt.Sprintf(keyLockFmt, docID, blockID) }

func idemKey(messageID string) string { return fmt.Sprintf(keyIdemFmt, messageID) }

func docViewKey(docID string) string { return fmt.Sprintf(keyDocViewFmt, docID) }
