package ws

import "testing"

func testConn(buf int) *Conn {
	return &Conn{send: make(chan ServerMessage, buf)}
}

func drain(c *Conn) []ServerMessage {
	var out []ServerMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	hub := NewHub()
	sender := testConn(4)
	other := testConn(4)
	hub.Join("doc-1", sender)
	hub.Join("doc-1", other)

	hub.Broadcast("doc-1", sender, ServerMessage{Type: "operation"})

	if got := drain(sender); len(got) != 0 {
		t.Fatalf("sender must not receive its own broadcast, got %+v", got)
	}
	got := drain(other)
	if len(got) != 1 || got[0].Type != "operation" {
		t.Fatalf("other connection should receive exactly one frame, got %+v", got)
	}
}

func TestBroadcastNilSenderReachesEveryone(t *testing.T) {
	hub := NewHub()
	a := testConn(4)
	b := testConn(4)
	hub.Join("doc-1", a)
	hub.Join("doc-1", b)

	hub.Broadcast("doc-1", nil, ServerMessage{Type: "block.locked"})

	if got := drain(a); len(got) != 1 {
		t.Fatalf("expected 1 frame for a, got %d", len(got))
	}
	if got := drain(b); len(got) != 1 {
		t.Fatalf("expected 1 frame for b, got %d", len(got))
	}
}

func TestBroadcastIsScopedToRoom(t *testing.T) {
	hub := NewHub()
	inRoom := testConn(4)
	elsewhere := testConn(4)
	hub.Join("doc-1", inRoom)
	hub.Join("doc-2", elsewhere)

	hub.Broadcast("doc-1", nil, ServerMessage{Type: "user.joined"})

	if got := drain(elsewhere); len(got) != 0 {
		t.Fatalf("connection in another room must not receive the frame, got %+v", got)
	}
	if got := drain(inRoom); len(got) != 1 {
		t.Fatalf("expected 1 frame in room, got %d", len(got))
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub := NewHub()
	c := testConn(4)
	hub.Join("doc-1", c)
	hub.Leave("doc-1", c)

	hub.Broadcast("doc-1", nil, ServerMessage{Type: "user.left"})

	if got := drain(c); len(got) != 0 {
		t.Fatalf("left connection must not receive frames, got %+v", got)
	}
	if size := hub.RoomSize("doc-1"); size != 0 {
		t.Fatalf("empty room should be dropped, size=%d", size)
	}
}

func TestBroadcastDropsWhenQueueFull(t *testing.T) {
	hub := NewHub()
	slow := testConn(1)
	hub.Join("doc-1", slow)

	hub.Broadcast("doc-1", nil, ServerMessage{Type: "operation"})
	// second frame overflows the queue and is dropped, not blocked on
	hub.Broadcast("doc-1", nil, ServerMessage{Type: "operation"})

	if got := drain(slow); len(got) != 1 {
		t.Fatalf("expected exactly the first frame, got %d", len(got))
	}
}
