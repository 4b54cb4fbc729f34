package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"collabsync/backend/internal/collab"
)

// PermissionStore answers document access checks against the membership
// tables maintained by the workspace service. Owners pass every check;
// members pass by role.
type PermissionStore struct{ db *sql.DB }

func NewPermissionStore(db *sql.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

func (s *PermissionStore) isOwner(ctx context.Context, docID string, userID uint64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE id = ? AND owner_id = ?`,
		docID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: owner check: %v", collab.ErrStorageFailure, err)
	}
	return true, nil
}

func (s *PermissionStore) memberRole(ctx context.Context, docID string, userID uint64) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM document_members WHERE document_id = ? AND user_id = ?`,
		docID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: member role: %v", collab.ErrStorageFailure, err)
	}
	return role, nil
}

// CanView: owner or any membership role.
func (s *PermissionStore) CanView(ctx context.Context, docID string, userID uint64) (bool, error) {
	owner, err := s.isOwner(ctx, docID, userID)
	if err != nil || owner {
		return owner, err
	}
	role, err := s.memberRole(ctx, docID, userID)
	if err != nil {
		return false, err
	}
	return role != "", nil
}

// CanEdit: owner, or editor/owner membership role.
func (s *PermissionStore) CanEdit(ctx context.Context, docID string, userID uint64) (bool, error) {
	owner, err := s.isOwner(ctx, docID, userID)
	if err != nil || owner {
		return owner, err
	}
	role, err := s.memberRole(ctx, docID, userID)
	if err != nil {
		return false, err
	}
	return role == "editor" || role == "owner", nil
}
