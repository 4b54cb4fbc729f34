package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"collabsync/backend/internal/collab"
)

// OperationStore owns the atomic ordering section. The SELECT ... FOR
// UPDATE on the documents row serializes version assignment per document
// across every connection and process touching the same database.
type OperationStore struct{ db *sql.DB }

func NewOperationStore(db *sql.DB) *OperationStore {
	return &OperationStore{db: db}
}

func (s *OperationStore) Append(ctx context.Context, docID string, authorID uint64, opType string, payload []byte, clientMessageID string) (collab.Operation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return collab.Operation{}, fmt.Errorf("%w: begin: %v", collab.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRowContext(ctx,
		`SELECT current_version FROM documents WHERE id = ? FOR UPDATE`,
		docID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.Operation{}, collab.ErrDocumentNotFound
	}
	if err != nil {
		return collab.Operation{}, fmt.Errorf("%w: lock document: %v", collab.ErrStorageFailure, err)
	}

	now := time.Now()
	op := collab.Operation{
		DocumentID:      docID,
		AuthorID:        authorID,
		Type:            opType,
		Payload:         payload,
		Version:         current + 1,
		ClientMessageID: clientMessageID,
		Timestamp:       now.UnixMicro(),
		AppliedAt:       now,
	}
	op.OperationID = collab.DeriveOperationID(docID, authorID, clientMessageID, op.Version)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO operation_logs
		(operation_id, document_id, author_id, operation_type, payload, version, client_message_id, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.OperationID, op.DocumentID, op.AuthorID, op.Type, op.Payload,
		op.Version, op.ClientMessageID, op.Timestamp, now,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// either unique index: same derived id, or same
			// (document, author, client message) resubmitted
			return collab.Operation{}, collab.ErrDuplicateOperation
		}
		return collab.Operation{}, fmt.Errorf("%w: insert operation: %v", collab.ErrStorageFailure, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE documents
		SET current_version = ?, last_edited_by = ?, last_edited_at = ?, updated_at = ?
		WHERE id = ?`,
		op.Version, authorID, now, now, docID,
	)
	if err != nil {
		return collab.Operation{}, fmt.Errorf("%w: advance version: %v", collab.ErrStorageFailure, err)
	}

	if err := tx.Commit(); err != nil {
		return collab.Operation{}, fmt.Errorf("%w: commit: %v", collab.ErrStorageFailure, err)
	}
	return op, nil
}

// FindByClientMessage serves the duplicate-submission ack path: the zero
// Operation means no prior row.
func (s *OperationStore) FindByClientMessage(ctx context.Context, docID string, authorID uint64, clientMessageID string) (collab.Operation, error) {
	var op collab.Operation
	err := s.db.QueryRowContext(ctx,
		`SELECT operation_id, document_id, author_id, operation_type, payload, version, client_message_id, timestamp, created_at
		FROM operation_logs
		WHERE document_id = ? AND author_id = ? AND client_message_id = ?`,
		docID, authorID, clientMessageID,
	).Scan(
		&op.OperationID, &op.DocumentID, &op.AuthorID, &op.Type, &op.Payload,
		&op.Version, &op.ClientMessageID, &op.Timestamp, &op.AppliedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.Operation{}, nil
	}
	if err != nil {
		return collab.Operation{}, fmt.Errorf("%w: find by client message: %v", collab.ErrStorageFailure, err)
	}
	return op, nil
}

func (s *OperationStore) OpsSince(ctx context.Context, docID string, fromVersion uint64, limit int) ([]collab.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT operation_id, document_id, author_id, operation_type, payload, version, client_message_id, timestamp, created_at
		FROM operation_logs
		WHERE document_id = ? AND version > ?
		ORDER BY version ASC, timestamp ASC
		LIMIT ?`,
		docID, fromVersion, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ops since: %v", collab.ErrStorageFailure, err)
	}
	defer rows.Close()

	var ops []collab.Operation
	for rows.Next() {
		var op collab.Operation
		if err := rows.Scan(
			&op.OperationID, &op.DocumentID, &op.AuthorID, &op.Type, &op.Payload,
			&op.Version, &op.ClientMessageID, &op.Timestamp, &op.AppliedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan operation: %v", collab.ErrStorageFailure, err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ops since: %v", collab.ErrStorageFailure, err)
	}
	return ops, nil
}

func (s *OperationStore) OldestRetained(ctx context.Context, docID string) (uint64, error) {
	var oldest uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MIN(version), 0) FROM operation_logs WHERE document_id = ?`,
		docID,
	).Scan(&oldest)
	if err != nil {
		return 0, fmt.Errorf("%w: oldest retained: %v", collab.ErrStorageFailure, err)
	}
	return oldest, nil
}

// Compact deletes operations outside the retained window once the log has
// grown past twice the window; clients older than the window take a full
// resync instead of replaying truncated history.
func (s *OperationStore) Compact(ctx context.Context, docID string, keep int) (int64, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM operation_logs WHERE document_id = ?`,
		docID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count operations: %v", collab.ErrStorageFailure, err)
	}
	if count <= keep*2 {
		return 0, nil
	}

	var maxVersion uint64
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM operation_logs WHERE document_id = ?`,
		docID,
	).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("%w: max version: %v", collab.ErrStorageFailure, err)
	}
	if maxVersion <= uint64(keep) {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM operation_logs WHERE document_id = ? AND version <= ?`,
		docID, maxVersion-uint64(keep),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: compact: %v", collab.ErrStorageFailure, err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}
