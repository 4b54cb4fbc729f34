package collab

import "errors"

var (
	// ErrInvalidOperation: the submitted operation is structurally unusable
	// (missing type or payload). Rejected before touching storage.
	ErrInvalidOperation = errors.New("INVALID_OPERATION")
	// ErrDuplicateOperation: the same (document, author, client message)
	// was already persisted. An idempotent no-op, not an alarm.
	ErrDuplicateOperation = errors.New("DUPLICATE_OPERATION")
	ErrDocumentNotFound   = errors.New("DOCUMENT_NOT_FOUND")
	// ErrStorageFailure wraps unexpected persistence errors; the version
	// counter never advances when it is returned.
	ErrStorageFailure = errors.New("STORAGE_FAILURE")
)
