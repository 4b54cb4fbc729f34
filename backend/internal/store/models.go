package store

import "time"

// gorm models; schema only, the stores query with raw SQL.

type Document struct {
	ID             string `gorm:"primaryKey;size:64"`
	OwnerID        uint64 `gorm:"index"`
	Title          string `gorm:"size:255"`
	CurrentVersion uint64
	LastEditedBy   uint64
	LastEditedAt   time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Document) TableName() string { return "documents" }

// OperationRecord rows are immutable once written. Two unique indexes
// back the dedup guarantees: operation_id (deterministic derivation) and
// (document_id, author_id, client_message_id) so a retransmit that races
// past the idempotency guard cannot consume a second version.
type OperationRecord struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	OperationID     string `gorm:"size:64;uniqueIndex"`
	DocumentID      string `gorm:"size:64;index:idx_doc_version;uniqueIndex:idx_doc_author_msg"`
	AuthorID        uint64 `gorm:"uniqueIndex:idx_doc_author_msg"`
	OperationType   string `gorm:"size:50"`
	Payload         []byte `gorm:"type:blob"`
	Version         uint64 `gorm:"index:idx_doc_version"`
	ClientMessageID string `gorm:"size:100;uniqueIndex:idx_doc_author_msg"`
	Timestamp       int64  `gorm:"index"` // microseconds
	CreatedAt       time.Time
}

func (OperationRecord) TableName() string { return "operation_logs" }

type PresenceSnapshot struct {
	ID         string `gorm:"primaryKey;size:160"` // docID:userID
	DocumentID string `gorm:"size:64;index"`
	UserID     uint64 `gorm:"index"`
	State      []byte `gorm:"type:blob"`
	UpdatedAt  time.Time
}

func (PresenceSnapshot) TableName() string { return "presence_snapshots" }

type DocumentMember struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	DocumentID string `gorm:"size:64;uniqueIndex:idx_doc_user"`
	UserID     uint64 `gorm:"uniqueIndex:idx_doc_user"`
	Role       string `gorm:"size:20"` // viewer | editor | owner
	CreatedAt  time.Time
}

func (DocumentMember) TableName() string { return "document_members" }
