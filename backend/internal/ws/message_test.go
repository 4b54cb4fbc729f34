package ws

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"collabsync/backend/internal/collab"
)

func TestDecodeOperation(t *testing.T) {
	raw := []byte(`{
		"type": "operation",
		"id": "msg-1",
		"data": {
			"operation": {"type": "insert", "payload": "deadbeef", "client_id": "c-1"},
			"version": 7
		}
	}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.Kind != KindOperation || msg.ID != "msg-1" {
		t.Fatalf("unexpected envelope: kind=%s id=%s", msg.Kind, msg.ID)
	}
	op := msg.Operation.Operation
	if op == nil || op.Type != "insert" || op.Payload != "deadbeef" || op.ClientID != "c-1" {
		t.Fatalf("unexpected operation body: %+v", op)
	}
	if msg.Operation.Version != 7 {
		t.Fatalf("version = %d, want 7", msg.Operation.Version)
	}
}

func TestDecodeEveryKind(t *testing.T) {
	cases := []struct {
		raw  string
		kind MessageKind
	}{
		{`{"type":"cursor","data":{"position":{"line":3},"block_id":"b1"}}`, KindCursor},
		{`{"type":"awareness","data":{"state":{"selecting":true}}}`, KindAwareness},
		{`{"type":"block.lock","data":{"block_id":"b1"}}`, KindBlockLock},
		{`{"type":"block.unlock","data":{"block_id":"b1"}}`, KindBlockUnlock},
		{`{"type":"typing.start","data":{"block_id":"b1"}}`, KindTypingStart},
		{`{"type":"typing.stop","data":{}}`, KindTypingStop},
		{`{"type":"ping"}`, KindPing},
	}
	for _, tc := range cases {
		msg, err := DecodeClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("decode %s error: %v", tc.kind, err)
		}
		if msg.Kind != tc.kind {
			t.Fatalf("kind = %s, want %s", msg.Kind, tc.kind)
		}
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":"shout","data":{}}`)); err == nil {
		t.Fatalf("unknown message type must be rejected")
	}
	if _, err := DecodeClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("malformed JSON must be rejected")
	}
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":"operation","data":"nope"}`)); err == nil {
		t.Fatalf("non-object operation payload must be rejected")
	}
	if _, err := DecodeClientMessage([]byte(`{"type":"block.lock","data":"nope"}`)); err == nil {
		t.Fatalf("non-object block payload must be rejected")
	}
}

func TestOperationWireEncodesPayloadAsHex(t *testing.T) {
	op := collab.Operation{
		OperationID: "abc123",
		Type:        "insert",
		Payload:     []byte{0xde, 0xad, 0xbe, 0xef},
		Version:     3,
		AuthorID:    9,
		Timestamp:   1700000000000000,
	}
	wire := operationWire(op)
	if wire.Payload != hex.EncodeToString(op.Payload) {
		t.Fatalf("payload = %s, want %s", wire.Payload, hex.EncodeToString(op.Payload))
	}

	out, err := json.Marshal(operationRelay(op))
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var decoded struct {
		Type string `json:"type"`
		Data OperationData
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded.Type != "operation" || decoded.Data.Version != 3 || decoded.Data.UserID != 9 {
		t.Fatalf("unexpected relay frame: %+v", decoded)
	}
}
