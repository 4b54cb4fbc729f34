package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"collabsync/backend/internal/collab"
)

type DocumentStore struct{ db *sql.DB }

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) GetDocument(ctx context.Context, docID string) (collab.DocumentMeta, error) {
	var meta collab.DocumentMeta
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, current_version, last_edited_by, last_edited_at
		FROM documents WHERE id = ?`,
		docID,
	).Scan(&meta.ID, &meta.OwnerID, &meta.Title, &meta.CurrentVersion, &meta.LastEditedBy, &meta.LastEditedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.DocumentMeta{}, collab.ErrDocumentNotFound
	}
	if err != nil {
		return collab.DocumentMeta{}, fmt.Errorf("%w: get document: %v", collab.ErrStorageFailure, err)
	}
	return meta, nil
}

func (s *DocumentStore) CurrentVersion(ctx context.Context, docID string) (uint64, bool, error) {
	var version uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT current_version FROM documents WHERE id = ?`,
		docID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: current version: %v", collab.ErrStorageFailure, err)
	}
	return version, true, nil
}
