package ws

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"collabsync/backend/internal/collab"
)

const (
	sendQueueSize  = 64
	acquireTimeout = 200 * time.Millisecond
	writeTimeout   = 10 * time.Second
)

// Session identifies one live connection to a document room.
type Session struct {
	ID        string
	DocID     string
	UserID    uint64
	Username  string
	Color     string
	CanEdit   bool
	CreatedAt time.Time
}

// Conn is a single client connection. readLoop runs on the upgrade
// goroutine; writeLoop runs on its own goroutine and owns all writes.
type Conn struct {
	ws      *websocket.Conn
	m       *Manager
	session Session
	send    chan ServerMessage
}

func newConn(ws *websocket.Conn, m *Manager, session Session) *Conn {
	return &Conn{
		ws:      ws,
		m:       m,
		session: session,
		send:    make(chan ServerMessage, sendQueueSize),
	}
}

// enqueue hands a frame to writeLoop without blocking. Returns false when
// the queue is full and the frame was dropped.
func (c *Conn) enqueue(msg ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteJSON(msg); err != nil {
			log.Printf("ws: write to user %d failed: %v", c.session.UserID, err)
			return
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: user %d disconnected abnormally: %v", c.session.UserID, err)
			}
			return
		}
		msg, err := DecodeClientMessage(raw)
		if err != nil {
			c.enqueue(errorMessage(err.Error()))
			continue
		}
		// fire-and-forget kinds are marked before handling; the operation
		// path claims through ProcessOnce instead, so a transient submit
		// failure releases the marker for the retransmit
		if msg.ID != "" && msg.Kind != KindOperation {
			dup, err := c.m.idem.IsDuplicate(ctx, msg.ID)
			if err != nil {
				log.Printf("ws: idempotency check for %s failed: %v", msg.ID, err)
			} else if dup {
				// retransmit of a message already handled, drop silently
				continue
			} else if err := c.m.idem.MarkProcessed(ctx, msg.ID); err != nil {
				log.Printf("ws: idempotency mark for %s failed: %v", msg.ID, err)
			}
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Conn) dispatch(ctx context.Context, msg InboundMessage) {
	switch msg.Kind {
	case KindOperation:
		c.handleOperation(ctx, msg)
	case KindCursor:
		c.handleCursor(ctx, msg)
	case KindAwareness:
		c.handleAwareness(ctx, msg)
	case KindBlockLock:
		c.handleBlockLock(ctx, msg)
	case KindBlockUnlock:
		c.handleBlockUnlock(ctx, msg)
	case KindTypingStart:
		c.handleTyping(msg, "typing.start")
	case KindTypingStop:
		c.handleTyping(msg, "typing.stop")
	case KindPing:
		c.handlePing(ctx)
	}
}

func (c *Conn) handleOperation(ctx context.Context, msg InboundMessage) {
	if msg.ID == "" {
		_ = c.processOperation(ctx, msg)
		return
	}
	ran, err := c.m.idem.ProcessOnce(ctx, msg.ID, func() error {
		return c.processOperation(ctx, msg)
	})
	if err != nil && !ran {
		// guard unavailable; the storage-level dedup still protects the log
		log.Printf("ws: idempotency claim for %s failed: %v", msg.ID, err)
		_ = c.processOperation(ctx, msg)
	}
}

// processOperation runs the submit path and sends all replies itself. It
// returns an error only for transient failures, so the idempotency claim
// is released and a client retry with the same id is processed again.
func (c *Conn) processOperation(ctx context.Context, msg InboundMessage) error {
	if !c.session.CanEdit {
		c.enqueue(errorMessage("document is read-only for this user"))
		return nil
	}
	p := msg.Operation
	if p == nil || p.Operation == nil {
		c.enqueue(errorMessage("missing operation data"))
		return nil
	}
	payload, err := hex.DecodeString(p.Operation.Payload)
	if err != nil {
		c.enqueue(errorMessage("operation payload is not valid hex"))
		return nil
	}
	clientMessageID := msg.ID
	if clientMessageID == "" {
		clientMessageID = p.Operation.ClientID
	}

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()
	if err := c.m.sem.Acquire(acquireCtx); err != nil {
		c.enqueue(errorMessage("server busy, retry the operation"))
		return err
	}
	defer func() { _ = c.m.sem.Release() }()

	op, err := c.m.seq.Submit(ctx, c.session.DocID, c.session.UserID, collab.SubmitRequest{
		Type:            p.Operation.Type,
		Payload:         payload,
		ClientMessageID: clientMessageID,
	})
	if err != nil {
		switch {
		case errors.Is(err, collab.ErrDuplicateOperation):
			// already sequenced on an earlier delivery; ack the version
			// that delivery actually received
			if op.Version > 0 {
				c.enqueue(operationAck(msg.ID, op.Version))
			} else {
				c.enqueue(errorMessage("duplicate operation"))
			}
			return nil
		case errors.Is(err, collab.ErrInvalidOperation):
			c.enqueue(errorMessage("invalid operation format"))
			return nil
		case errors.Is(err, collab.ErrDocumentNotFound):
			c.enqueue(errorMessage("document not found"))
			return nil
		default:
			log.Printf("ws: submit for doc %s user %d failed: %v", c.session.DocID, c.session.UserID, err)
			c.enqueue(errorMessage("failed to process operation"))
			return err
		}
	}
	c.enqueue(operationAck(msg.ID, op.Version))
	c.m.hub.Broadcast(c.session.DocID, c, operationRelay(op))
	return nil
}

func (c *Conn) handleCursor(ctx context.Context, msg InboundMessage) {
	cursor, err := json.Marshal(msg.Cursor)
	if err != nil {
		return
	}
	if err := c.m.presence.UpdateCursor(ctx, c.session.DocID, c.session.UserID, cursor, c.m.presenceTTL); err != nil {
		log.Printf("ws: cursor update for user %d failed: %v", c.session.UserID, err)
	}
	c.m.hub.Broadcast(c.session.DocID, c, ServerMessage{Type: "cursor.update", Data: CursorData{
		UserID: c.session.UserID,
		Cursor: msg.Cursor,
	}})
}

func (c *Conn) handleAwareness(ctx context.Context, msg InboundMessage) {
	if err := c.m.presence.UpdateAwareness(ctx, c.session.DocID, c.session.UserID, msg.Awareness.State, c.m.presenceTTL); err != nil {
		log.Printf("ws: awareness update for user %d failed: %v", c.session.UserID, err)
	}
	c.m.hub.Broadcast(c.session.DocID, c, ServerMessage{Type: "awareness", Data: AwarenessData{
		UserID: c.session.UserID,
		State:  msg.Awareness.State,
	}})
}

func (c *Conn) handleBlockLock(ctx context.Context, msg InboundMessage) {
	if !c.session.CanEdit {
		c.enqueue(errorMessage("document is read-only for this user"))
		return
	}
	blockID := msg.Block.BlockID
	if blockID == "" {
		c.enqueue(errorMessage("block_id is required"))
		return
	}
	ok, err := c.m.locks.Acquire(ctx, c.session.DocID, blockID, c.session.UserID, c.m.lockLease)
	if err != nil {
		log.Printf("ws: lock acquire for block %s failed: %v", blockID, err)
		c.enqueue(errorMessage("failed to lock block"))
		return
	}
	if !ok {
		c.enqueue(errorMessage(fmt.Sprintf("block %s is already locked", blockID)))
		return
	}
	// the whole room, requester included, sees the lock
	c.m.hub.Broadcast(c.session.DocID, nil, ServerMessage{Type: "block.locked", Data: BlockData{
		BlockID: blockID,
		UserID:  c.session.UserID,
	}})
}

func (c *Conn) handleBlockUnlock(ctx context.Context, msg InboundMessage) {
	blockID := msg.Block.BlockID
	if blockID == "" {
		c.enqueue(errorMessage("block_id is required"))
		return
	}
	released, err := c.m.locks.Release(ctx, c.session.DocID, blockID, c.session.UserID)
	if err != nil {
		log.Printf("ws: lock release for block %s failed: %v", blockID, err)
		return
	}
	if !released {
		// held by someone else or already expired, nothing to announce
		return
	}
	c.m.hub.Broadcast(c.session.DocID, nil, ServerMessage{Type: "block.unlocked", Data: BlockData{
		BlockID: blockID,
		UserID:  c.session.UserID,
	}})
}

func (c *Conn) handleTyping(msg InboundMessage, kind string) {
	var blockID string
	if msg.Typing != nil {
		blockID = msg.Typing.BlockID
	}
	c.m.hub.Broadcast(c.session.DocID, c, ServerMessage{Type: kind, Data: TypingData{
		UserID:  c.session.UserID,
		BlockID: blockID,
	}})
}

func (c *Conn) handlePing(ctx context.Context) {
	if err := c.m.presence.Touch(ctx, c.session.DocID, c.session.UserID, c.m.presenceTTL); err != nil {
		log.Printf("ws: presence touch for user %d failed: %v", c.session.UserID, err)
	}
	c.enqueue(ServerMessage{Type: "pong", Data: PongData{Timestamp: time.Now().UTC().Format(time.RFC3339)}})
}
