package ws

import (
	"log"
	"sync"
)

// Hub tracks live connections per document room and fans messages out to
// them. Delivery is best-effort: a connection whose send queue is full is
// skipped rather than blocking the sender.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[docID]
	if !ok {
		room = make(map[*Conn]struct{})
		h.rooms[docID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[docID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, docID)
	}
}

// Broadcast sends msg to every connection in the room except sender. A nil
// sender delivers to the whole room, including the originator.
func (h *Hub) Broadcast(docID string, sender *Conn, msg ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		if c == sender {
			continue
		}
		if !c.enqueue(msg) {
			log.Printf("ws: dropping %s frame for slow connection in doc %s", msg.Type, docID)
		}
	}
}

// RoomSize reports the number of live connections for a document.
func (h *Hub) RoomSize(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}
