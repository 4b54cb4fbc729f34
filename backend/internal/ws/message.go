package ws

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"collabsync/backend/internal/cache"
	"collabsync/backend/internal/collab"
)

// MessageKind is the closed set of inbound message types. Decoding is the
// only place an unknown kind can appear; past DecodeClientMessage every
// InboundMessage carries one of these.
type MessageKind string

const (
	KindOperation   MessageKind = "operation"
	KindCursor      MessageKind = "cursor"
	KindAwareness   MessageKind = "awareness"
	KindBlockLock   MessageKind = "block.lock"
	KindBlockUnlock MessageKind = "block.unlock"
	KindTypingStart MessageKind = "typing.start"
	KindTypingStop  MessageKind = "typing.stop"
	KindPing        MessageKind = "ping"
)

// clientEnvelope is the raw wire shape: {type, id?, data}.
type clientEnvelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

type OperationBody struct {
	Type     string `json:"type"`
	Payload  string `json:"payload"` // hex-encoded opaque bytes
	ClientID string `json:"client_id,omitempty"`
}

type OperationPayload struct {
	Operation *OperationBody `json:"operation"`
	Version   uint64         `json:"version,omitempty"`
}

type CursorPayload struct {
	Position  json.RawMessage `json:"position,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
	BlockID   string          `json:"block_id,omitempty"`
}

type AwarenessPayload struct {
	State json.RawMessage `json:"state"`
}

type BlockPayload struct {
	BlockID string `json:"block_id"`
}

type TypingPayload struct {
	BlockID string `json:"block_id,omitempty"`
}

// InboundMessage is the decoded, typed form of a client message. Exactly
// one payload field is set, matching Kind.
type InboundMessage struct {
	Kind      MessageKind
	ID        string
	Operation *OperationPayload
	Cursor    *CursorPayload
	Awareness *AwarenessPayload
	Block     *BlockPayload
	Typing    *TypingPayload
}

// DecodeClientMessage parses the envelope and the kind-specific payload.
// The switch is exhaustive over MessageKind; anything else fails here and
// becomes a non-fatal error reply.
func DecodeClientMessage(raw []byte) (InboundMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundMessage{}, fmt.Errorf("invalid JSON")
	}
	msg := InboundMessage{Kind: MessageKind(env.Type), ID: env.ID}
	switch msg.Kind {
	case KindOperation:
		var p OperationPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return InboundMessage{}, fmt.Errorf("malformed operation payload")
		}
		msg.Operation = &p
	case KindCursor:
		var p CursorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return InboundMessage{}, fmt.Errorf("malformed cursor payload")
		}
		msg.Cursor = &p
	case KindAwareness:
		var p AwarenessPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return InboundMessage{}, fmt.Errorf("malformed awareness payload")
		}
		msg.Awareness = &p
	case KindBlockLock, KindBlockUnlock:
		var p BlockPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return InboundMessage{}, fmt.Errorf("malformed block payload")
		}
		msg.Block = &p
	case KindTypingStart, KindTypingStop:
		var p TypingPayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return InboundMessage{}, fmt.Errorf("malformed typing payload")
			}
		}
		msg.Typing = &p
	case KindPing:
		// no payload
	default:
		return InboundMessage{}, fmt.Errorf("unknown message type: %s", env.Type)
	}
	return msg, nil
}

// ServerMessage is every outbound frame: {type, id?, version?, data?, error?}.
type ServerMessage struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Version uint64      `json:"version,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
}

// OperationWire is an operation as relayed or replayed to clients; the
// payload travels hex-encoded.
type OperationWire struct {
	OperationID string `json:"operation_id"`
	Type        string `json:"type"`
	Payload     string `json:"payload"`
	Version     uint64 `json:"version"`
	AuthorID    uint64 `json:"author_id"`
	Timestamp   int64  `json:"timestamp"`
}

func operationWire(op collab.Operation) OperationWire {
	return OperationWire{
		OperationID: op.OperationID,
		Type:        op.Type,
		Payload:     hex.EncodeToString(op.Payload),
		Version:     op.Version,
		AuthorID:    op.AuthorID,
		Timestamp:   op.Timestamp,
	}
}

type DocumentStateData struct {
	DocumentID string          `json:"document_id"`
	Title      string          `json:"title"`
	Version    uint64          `json:"version"`
	Updates    []OperationWire `json:"updates"`
	// ResyncRequired is set when the client's last known version predates
	// the retained log and the replay in Updates cannot bridge the gap.
	ResyncRequired bool `json:"resync_required,omitempty"`
}

type ConnectionEstablishedData struct {
	SessionID     string                `json:"session_id"`
	UserColor     string                `json:"user_color"`
	DocumentState DocumentStateData     `json:"document_state"`
	ActiveUsers   []cache.PresenceEntry `json:"active_users"`
}

type OperationData struct {
	Operation OperationWire `json:"operation"`
	Version   uint64        `json:"version"`
	UserID    uint64        `json:"user_id"`
}

type CursorData struct {
	UserID uint64         `json:"user_id"`
	Cursor *CursorPayload `json:"cursor"`
}

type AwarenessData struct {
	UserID uint64          `json:"user_id"`
	State  json.RawMessage `json:"state"`
}

type UserData struct {
	UserID      uint64 `json:"user_id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	SessionID   string `json:"session_id,omitempty"`
}

type BlockData struct {
	BlockID string `json:"block_id"`
	UserID  uint64 `json:"user_id"`
}

type TypingData struct {
	UserID  uint64 `json:"user_id"`
	BlockID string `json:"block_id,omitempty"`
}

type PongData struct {
	Timestamp string `json:"timestamp"`
}

func errorMessage(message string) ServerMessage {
	return ServerMessage{Type: "error", Error: &ErrorBody{Message: message}}
}

func operationAck(id string, version uint64) ServerMessage {
	return ServerMessage{Type: "operation.ack", ID: id, Version: version}
}

func operationRelay(op collab.Operation) ServerMessage {
	return ServerMessage{Type: "operation", Data: OperationData{
		Operation: operationWire(op),
		Version:   op.Version,
		UserID:    op.AuthorID,
	}}
}
