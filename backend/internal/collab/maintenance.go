package collab

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"collabsync/backend/internal/cache"
)

// PresenceSnapshotStore persists presence entries for audit.
type PresenceSnapshotStore interface {
	SavePresenceSnapshot(ctx context.Context, docID string, userID uint64, state []byte) error
}

// Maintenance runs the off-critical-path housekeeping: snapshotting live
// presence to the durable store and compacting operation logs of active
// documents. It never shares a lock with the submit or presence read
// paths, so it can only lag, not block.
type Maintenance struct {
	presence  cache.PresenceStore
	snapshots PresenceSnapshotStore
	seq       *Sequencer
	interval  time.Duration
	stop      chan struct{}
}

func NewMaintenance(presence cache.PresenceStore, snapshots PresenceSnapshotStore, seq *Sequencer, interval time.Duration) *Maintenance {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Maintenance{
		presence:  presence,
		snapshots: snapshots,
		seq:       seq,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

func (m *Maintenance) Start() {
	go m.loop()
}

func (m *Maintenance) Stop() {
	close(m.stop)
}

func (m *Maintenance) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.runOnce()
		case <-m.stop:
			return
		}
	}
}

func (m *Maintenance) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	docs, err := m.presence.Documents(ctx)
	if err != nil {
		log.Printf("maintenance: list documents failed: %v", err)
		return
	}
	for _, docID := range docs {
		m.snapshotPresence(ctx, docID)
		if m.seq != nil {
			if n, err := m.seq.Compact(ctx, docID); err != nil {
				log.Printf("maintenance: compact doc=%s failed: %v", docID, err)
			} else if n > 0 {
				log.Printf("maintenance: compacted %d operations doc=%s", n, docID)
			}
		}
	}
}

func (m *Maintenance) snapshotPresence(ctx context.Context, docID string) {
	if m.snapshots == nil {
		return
	}
	entries, err := m.presence.ListActive(ctx, docID)
	if err != nil {
		log.Printf("maintenance: list presence doc=%s failed: %v", docID, err)
		return
	}
	for _, entry := range entries {
		state, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		if err := m.snapshots.SavePresenceSnapshot(ctx, docID, entry.UserID, state); err != nil {
			log.Printf("maintenance: snapshot presence doc=%s user=%d failed: %v", docID, entry.UserID, err)
		}
	}
}
