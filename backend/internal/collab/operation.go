package collab

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Operation is one immutable, appliable document change. The payload is
// opaque to the server (a client-side CRDT update); the server only
// assigns the total order.
type Operation struct {
	OperationID     string    `json:"operation_id"`
	DocumentID      string    `json:"document_id"`
	AuthorID        uint64    `json:"author_id"`
	Type            string    `json:"type"`
	Payload         []byte    `json:"payload"`
	Version         uint64    `json:"version"`
	ClientMessageID string    `json:"client_message_id"`
	Timestamp       int64     `json:"timestamp"` // microseconds
	AppliedAt       time.Time `json:"applied_at"`
}

// SubmitRequest is the client's view of an operation before the sequencer
// assigns a version.
type SubmitRequest struct {
	Type            string
	Payload         []byte
	ClientMessageID string
}

// DocumentMeta is the document's edit metadata as held by the durable
// store. Mutated only through the sequencer's atomic append.
type DocumentMeta struct {
	ID             string
	OwnerID        uint64
	Title          string
	CurrentVersion uint64
	LastEditedBy   uint64
	LastEditedAt   time.Time
}

// DeriveOperationID deterministically derives the operation id, so two
// submissions with identical inputs map to the same id and collide on the
// storage unique index.
func DeriveOperationID(docID string, authorID uint64, clientMessageID string, version uint64) string {
	data := fmt.Sprintf("%s:%d:%s:%d", docID, authorID, clientMessageID, version)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:32]
}
