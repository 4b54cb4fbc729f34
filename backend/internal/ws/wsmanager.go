package ws

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabsync/backend/internal/cache"
	"collabsync/backend/internal/collab"
)

// Application close codes sent after a successful upgrade, so the client
// can tell an auth failure apart from a transport error.
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
)

// Allow browser clients from local development origins; non-browser
// clients send no Origin header and pass.
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

var userColors = []string{
	"#ef4444", "#f59e0b", "#10b981", "#3b82f6",
	"#6366f1", "#8b5cf6", "#ec4899", "#f97316",
}

// PermissionChecker answers document access checks: CanView gates the
// room, CanEdit gates operations and block locks.
type PermissionChecker interface {
	CanView(ctx context.Context, docID string, userID uint64) (bool, error)
	CanEdit(ctx context.Context, docID string, userID uint64) (bool, error)
}

type Manager struct {
	hub         *Hub
	seq         *collab.Sequencer
	docs        collab.DocumentReader
	perms       PermissionChecker
	presence    cache.PresenceStore
	locks       cache.BlockLocks
	idem        cache.IdempotencyGuard
	sem         *collab.Semaphore
	presenceTTL time.Duration
	lockLease   time.Duration
}

func NewManager(hub *Hub, seq *collab.Sequencer, docs collab.DocumentReader, perms PermissionChecker,
	presence cache.PresenceStore, locks cache.BlockLocks, idem cache.IdempotencyGuard, sem *collab.Semaphore) *Manager {
	return &Manager{
		hub:         hub,
		seq:         seq,
		docs:        docs,
		perms:       perms,
		presence:    presence,
		locks:       locks,
		idem:        idem,
		sem:         sem,
		presenceTTL: cache.DefaultPresenceTTL,
		lockLease:   cache.DefaultLockLease,
	}
}

// ConfigureLeases overrides the default presence TTL and block lock lease.
func (m *Manager) ConfigureLeases(presenceTTL, lockLease time.Duration) {
	if presenceTTL > 0 {
		m.presenceTTL = presenceTTL
	}
	if lockLease > 0 {
		m.lockLease = lockLease
	}
}

// WebSocketConnect upgrades the request and runs the connection to
// completion. Auth and permission failures close with an application code
// after the upgrade rather than rejecting the handshake, so browser
// clients can read the reason.
func (m *Manager) WebSocketConnect(c *gin.Context) {
	docID := c.Param("docId")
	userID := c.GetUint64("userId")
	username := c.GetString("username")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	if userID == 0 {
		closeWith(conn, CloseUnauthenticated, "authentication required")
		return
	}
	ok, err := m.perms.CanView(ctx, docID, userID)
	if err != nil {
		log.Printf("ws: permission check for doc %s user %d failed: %v", docID, userID, err)
		closeWith(conn, CloseForbidden, "access denied")
		return
	}
	if !ok {
		closeWith(conn, CloseForbidden, "access denied")
		return
	}
	meta, err := m.docs.GetDocument(ctx, docID)
	if err != nil {
		// a missing document looks the same as one the user cannot see
		closeWith(conn, CloseForbidden, "access denied")
		return
	}

	canEdit, err := m.perms.CanEdit(ctx, docID, userID)
	if err != nil {
		log.Printf("ws: edit check for doc %s user %d failed: %v", docID, userID, err)
		canEdit = false
	}

	session := Session{
		ID:        uuid.NewString(),
		DocID:     docID,
		UserID:    userID,
		Username:  username,
		Color:     userColors[rand.Intn(len(userColors))],
		CanEdit:   canEdit,
		CreatedAt: time.Now(),
	}
	wsConn := newConn(conn, m, session)

	go wsConn.writeLoop()
	m.hub.Join(docID, wsConn)
	if err := m.presence.Join(ctx, docID, userID, username, session.Color, m.presenceTTL); err != nil {
		log.Printf("ws: presence join for user %d failed: %v", userID, err)
	}

	wsConn.enqueue(ServerMessage{Type: "connection.established", Data: ConnectionEstablishedData{
		SessionID:     session.ID,
		UserColor:     session.Color,
		DocumentState: m.documentState(ctx, meta, c.Query("last_version")),
		ActiveUsers:   m.activeUsers(ctx, docID),
	}})
	m.hub.Broadcast(docID, wsConn, ServerMessage{Type: "user.joined", Data: UserData{
		UserID:      userID,
		DisplayName: username,
		Color:       session.Color,
		SessionID:   session.ID,
	}})

	wsConn.readLoop(ctx)

	// the request context is gone once the socket closes
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.hub.Leave(docID, wsConn)
	// safe to close once Leave returns: no broadcast can still hold the conn
	close(wsConn.send)
	if err := m.presence.Leave(cleanupCtx, docID, userID); err != nil {
		log.Printf("ws: presence leave for user %d failed: %v", userID, err)
	}
	m.hub.Broadcast(docID, nil, ServerMessage{Type: "user.left", Data: UserData{
		UserID:      userID,
		DisplayName: username,
		SessionID:   session.ID,
	}})
}

// documentState builds the replay section of the initial sync. A client
// reconnecting with ?last_version=N gets exactly the operations it missed;
// a fresh client gets the recent window.
func (m *Manager) documentState(ctx context.Context, meta collab.DocumentMeta, lastVersion string) DocumentStateData {
	state := DocumentStateData{
		DocumentID: meta.ID,
		Title:      meta.Title,
		Version:    meta.CurrentVersion,
		Updates:    []OperationWire{},
	}
	var (
		ops []collab.Operation
		err error
	)
	if known, perr := strconv.ParseUint(lastVersion, 10, 64); perr == nil {
		ops, state.ResyncRequired, err = m.seq.MissingSince(ctx, meta.ID, known)
	} else {
		ops, err = m.seq.Recent(ctx, meta.ID)
	}
	if err != nil {
		log.Printf("ws: replay for doc %s failed: %v", meta.ID, err)
		return state
	}
	for _, op := range ops {
		state.Updates = append(state.Updates, operationWire(op))
	}
	return state
}

func (m *Manager) activeUsers(ctx context.Context, docID string) []cache.PresenceEntry {
	users, err := m.presence.ListActive(ctx, docID)
	if err != nil {
		log.Printf("ws: presence list for doc %s failed: %v", docID, err)
		return []cache.PresenceEntry{}
	}
	return users
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
