package collab

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

// OperationStore is the durable operation log. Append is the atomic
// ordering section: it serializes version assignment per document across
// all connections and processes, and either commits the whole step or
// leaves the counter untouched.
type OperationStore interface {
	Append(ctx context.Context, docID string, authorID uint64, opType string, payload []byte, clientMessageID string) (Operation, error)
	// FindByClientMessage returns the operation previously persisted for
	// this (document, author, client message id), or the zero Operation
	// when nothing matches.
	FindByClientMessage(ctx context.Context, docID string, authorID uint64, clientMessageID string) (Operation, error)
	OpsSince(ctx context.Context, docID string, fromVersion uint64, limit int) ([]Operation, error)
	// OldestRetained reports the lowest version still in the log, 0 when
	// the log is empty.
	OldestRetained(ctx context.Context, docID string) (uint64, error)
	Compact(ctx context.Context, docID string, keep int) (int64, error)
}

// DocumentReader serves document metadata for read paths.
type DocumentReader interface {
	GetDocument(ctx context.Context, docID string) (DocumentMeta, error)
	CurrentVersion(ctx context.Context, docID string) (uint64, bool, error)
}

// ViewCache is the cached read-view of a document, invalidated on every
// committed operation.
type ViewCache interface {
	CurrentVersion(ctx context.Context, docID string, fetchDB func() (uint64, bool, error)) (uint64, bool, error)
	Invalidate(ctx context.Context, docID string) error
}

// EventSink receives applied-operation events; best-effort.
type EventSink interface {
	Enqueue(ctx context.Context, evt DocOpEvent) error
}

const (
	// DefaultSyncWindow bounds how many recent operations a catch-up or
	// initial sync carries.
	DefaultSyncWindow = 100
	// DefaultRetainWindow is how many operations compaction keeps.
	DefaultRetainWindow = 500
)

// Sequencer is the sole ordering authority for document operations.
type Sequencer struct {
	store  OperationStore
	docs   DocumentReader
	view   ViewCache
	events EventSink

	syncWindow   int
	retainWindow int
}

func NewSequencer(store OperationStore, docs DocumentReader, view ViewCache, events EventSink) *Sequencer {
	return &Sequencer{
		store:        store,
		docs:         docs,
		view:         view,
		events:       events,
		syncWindow:   DefaultSyncWindow,
		retainWindow: DefaultRetainWindow,
	}
}

// Submit validates the operation, appends it atomically and fans the
// result out to the cache invalidation and event stream. Any error means
// nothing was persisted and no version was consumed; a duplicate comes
// back with the operation its original delivery committed, so the caller
// can report the version it actually landed at.
func (s *Sequencer) Submit(ctx context.Context, docID string, authorID uint64, req SubmitRequest) (Operation, error) {
	if req.Type == "" || len(req.Payload) == 0 {
		return Operation{}, ErrInvalidOperation
	}
	if req.ClientMessageID == "" {
		// transports may omit the message id; synthesize one so two
		// distinct no-id submissions never meet on the storage dedup index
		req.ClientMessageID = uuid.NewString()
	}

	op, err := s.store.Append(ctx, docID, authorID, req.Type, req.Payload, req.ClientMessageID)
	if err != nil {
		if errors.Is(err, ErrDuplicateOperation) {
			if prior, lerr := s.store.FindByClientMessage(ctx, docID, authorID, req.ClientMessageID); lerr == nil && prior.Version > 0 {
				return prior, err
			}
		}
		return Operation{}, err
	}

	// invalidate the read-view inside the same request so no other session
	// observes a stale version
	if s.view != nil {
		if err := s.view.Invalidate(ctx, docID); err != nil {
			log.Printf("docview invalidate failed doc=%s: %v", docID, err)
		}
	}

	if s.events != nil {
		evtCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		evt := DocOpEvent{
			EventType:       "OP_APPLIED",
			DocID:           docID,
			OperationID:     op.OperationID,
			Version:         op.Version,
			AuthorID:        op.AuthorID,
			OperationType:   op.Type,
			Payload:         op.Payload,
			ClientMessageID: op.ClientMessageID,
			AppliedAt:       op.AppliedAt,
		}
		if err := s.events.Enqueue(evtCtx, evt); err != nil {
			log.Printf("op event dropped doc=%s op=%s: %v", docID, op.OperationID, err)
		}
	}

	return op, nil
}

// CurrentVersion serves the version through the protected read-view.
func (s *Sequencer) CurrentVersion(ctx context.Context, docID string) (uint64, error) {
	fetch := func() (uint64, bool, error) {
		return s.docs.CurrentVersion(ctx, docID)
	}
	if s.view == nil {
		v, ok, err := fetch()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrDocumentNotFound
		}
		return v, nil
	}
	v, ok, err := s.view.CurrentVersion(ctx, docID, fetch)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrDocumentNotFound
	}
	return v, nil
}

// MissingSince returns the ordered operations with version > knownVersion,
// bounded to the sync window. When knownVersion predates the oldest
// retained operation the gap is unrecoverable from the log and the caller
// must run a full resync instead.
func (s *Sequencer) MissingSince(ctx context.Context, docID string, knownVersion uint64) ([]Operation, bool, error) {
	oldest, err := s.store.OldestRetained(ctx, docID)
	if err != nil {
		return nil, false, err
	}
	if oldest > 0 && knownVersion+1 < oldest {
		return nil, true, nil
	}
	ops, err := s.store.OpsSince(ctx, docID, knownVersion, s.syncWindow)
	return ops, false, err
}

// Recent returns the newest operations inside the sync window, used for
// the initial sync payload of a fresh connection.
func (s *Sequencer) Recent(ctx context.Context, docID string) ([]Operation, error) {
	current, err := s.CurrentVersion(ctx, docID)
	if err != nil {
		return nil, err
	}
	var from uint64
	if current > uint64(s.syncWindow) {
		from = current - uint64(s.syncWindow)
	}
	return s.store.OpsSince(ctx, docID, from, s.syncWindow)
}

// Compact trims the operation log down to the retain window. Maintenance
// only; never on the submit path.
func (s *Sequencer) Compact(ctx context.Context, docID string) (int64, error) {
	return s.store.Compact(ctx, docID, s.retainWindow)
}
