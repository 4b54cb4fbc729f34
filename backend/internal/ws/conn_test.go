package ws

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"collabsync/backend/internal/collab"
)

// gwStore is an in-memory operation log with the same dedup contract as
// the MySQL store. The failing flag simulates a storage outage.
type gwStore struct {
	mu      sync.Mutex
	failing bool
	version uint64
	ops     []collab.Operation
	seen    map[string]struct{}
}

func newGwStore() *gwStore {
	return &gwStore{seen: make(map[string]struct{})}
}

func (s *gwStore) Append(ctx context.Context, docID string, authorID uint64, opType string, payload []byte, clientMessageID string) (collab.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return collab.Operation{}, fmt.Errorf("%w: connection refused", collab.ErrStorageFailure)
	}
	key := fmt.Sprintf("%d:%s", authorID, clientMessageID)
	if _, dup := s.seen[key]; dup {
		return collab.Operation{}, collab.ErrDuplicateOperation
	}
	s.seen[key] = struct{}{}
	s.version++
	op := collab.Operation{
		OperationID:     collab.DeriveOperationID(docID, authorID, clientMessageID, s.version),
		DocumentID:      docID,
		AuthorID:        authorID,
		Type:            opType,
		Payload:         payload,
		Version:         s.version,
		ClientMessageID: clientMessageID,
	}
	s.ops = append(s.ops, op)
	return op, nil
}

func (s *gwStore) FindByClientMessage(ctx context.Context, docID string, authorID uint64, clientMessageID string) (collab.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.ops {
		if op.AuthorID == authorID && op.ClientMessageID == clientMessageID {
			return op, nil
		}
	}
	return collab.Operation{}, nil
}

func (s *gwStore) OpsSince(ctx context.Context, docID string, fromVersion uint64, limit int) ([]collab.Operation, error) {
	return nil, nil
}

func (s *gwStore) OldestRetained(ctx context.Context, docID string) (uint64, error) {
	return 0, nil
}

func (s *gwStore) Compact(ctx context.Context, docID string, keep int) (int64, error) {
	return 0, nil
}

func (s *gwStore) GetDocument(ctx context.Context, docID string) (collab.DocumentMeta, error) {
	return collab.DocumentMeta{ID: docID, Title: "untitled"}, nil
}

func (s *gwStore) CurrentVersion(ctx context.Context, docID string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, true, nil
}

// memIdem claims message ids in process memory with the same release
// semantics as the Redis guard.
type memIdem struct {
	mu    sync.Mutex
	marks map[string]struct{}
}

func newMemIdem() *memIdem {
	return &memIdem{marks: make(map[string]struct{})}
}

func (g *memIdem) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, dup := g.marks[messageID]
	return dup, nil
}

func (g *memIdem) MarkProcessed(ctx context.Context, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marks[messageID] = struct{}{}
	return nil
}

func (g *memIdem) ProcessOnce(ctx context.Context, messageID string, fn func() error) (bool, error) {
	g.mu.Lock()
	if _, dup := g.marks[messageID]; dup {
		g.mu.Unlock()
		return false, nil
	}
	g.marks[messageID] = struct{}{}
	g.mu.Unlock()

	if err := fn(); err != nil {
		g.mu.Lock()
		delete(g.marks, messageID)
		g.mu.Unlock()
		return true, err
	}
	return true, nil
}

func (g *memIdem) forget(messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.marks, messageID)
}

func newGwConn(store *gwStore, idem *memIdem) *Conn {
	m := &Manager{
		hub:  NewHub(),
		seq:  collab.NewSequencer(store, store, nil, nil),
		docs: store,
		sem:  collab.NewSemaphore(4),
		idem: idem,
	}
	return &Conn{
		m:       m,
		session: Session{ID: "sess-1", DocID: "doc-1", UserID: 1, Username: "alice", CanEdit: true},
		send:    make(chan ServerMessage, 16),
	}
}

func opMessage(id string) InboundMessage {
	return InboundMessage{
		Kind: KindOperation,
		ID:   id,
		Operation: &OperationPayload{Operation: &OperationBody{
			Type:    "insert",
			Payload: hex.EncodeToString([]byte("x")),
		}},
	}
}

func TestOperationRetryAfterStorageFailure(t *testing.T) {
	store := newGwStore()
	idem := newMemIdem()
	c := newGwConn(store, idem)
	ctx := context.Background()

	store.failing = true
	c.handleOperation(ctx, opMessage("m1"))
	out := drain(c)
	if len(out) != 1 || out[0].Type != "error" {
		t.Fatalf("expected an error frame during the outage, got %+v", out)
	}
	// the failed attempt released its claim, so the retransmit runs
	if dup, _ := idem.IsDuplicate(ctx, "m1"); dup {
		t.Fatalf("failed attempt must not leave m1 marked processed")
	}

	store.failing = false
	c.handleOperation(ctx, opMessage("m1"))
	out = drain(c)
	if len(out) != 1 || out[0].Type != "operation.ack" {
		t.Fatalf("retry should be acked, got %+v", out)
	}
	if out[0].Version != 1 {
		t.Fatalf("retry should land at version 1, got %d", out[0].Version)
	}
}

func TestDuplicateOperationAcksOriginalVersion(t *testing.T) {
	store := newGwStore()
	idem := newMemIdem()
	c := newGwConn(store, idem)
	ctx := context.Background()

	c.handleOperation(ctx, opMessage("m1"))
	c.handleOperation(ctx, opMessage("m2"))
	out := drain(c)
	if len(out) != 2 || out[0].Version != 1 || out[1].Version != 2 {
		t.Fatalf("expected acks for versions 1 and 2, got %+v", out)
	}

	// a late retransmit of m1 whose idempotency marker already expired
	// falls through to the storage dedup, which must ack the version the
	// original delivery received, not the document's current version
	idem.forget("m1")
	c.handleOperation(ctx, opMessage("m1"))
	out = drain(c)
	if len(out) != 1 || out[0].Type != "operation.ack" {
		t.Fatalf("retransmit should be acked, got %+v", out)
	}
	if out[0].Version != 1 {
		t.Fatalf("retransmit ack should carry version 1, got %d", out[0].Version)
	}
}
