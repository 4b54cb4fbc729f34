package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"collabsync/backend/internal/collab"
)

// SnapshotStore persists periodic presence snapshots for audit. Written
// only by the maintenance job, never on the live presence path.
type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SavePresenceSnapshot(ctx context.Context, docID string, userID uint64, state []byte) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO presence_snapshots (id, document_id, user_id, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE state = VALUES(state), updated_at = VALUES(updated_at)`,
		fmt.Sprintf("%s:%d", docID, userID),
		docID,
		userID,
		state,
		now,
	)
	if err != nil {
		return fmt.Errorf("%w: save presence snapshot: %v", collab.ErrStorageFailure, err)
	}
	return nil
}
