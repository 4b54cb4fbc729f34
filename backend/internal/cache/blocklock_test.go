package cache

import (
	"context"
	"testing"
	"time"
)

func TestBlockLockAcquireContend(t *testing.T) {
	rdb := testRedis(t)
	locks := NewRedisBlockLocks(rdb)
	ctx := context.Background()
	docID := testDocID(t)

	ok, err := locks.Acquire(ctx, docID, "b1", 1, 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if !ok {
		t.Fatalf("first acquire should succeed")
	}

	ok, err = locks.Acquire(ctx, docID, "b1", 2, 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if ok {
		t.Fatalf("contending acquire should fail while lock is held")
	}

	// a different block is an independent lock
	ok, err = locks.Acquire(ctx, docID, "b2", 2, 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if !ok {
		t.Fatalf("acquire on a different block should succeed")
	}

	owner, held, err := locks.Owner(ctx, docID, "b1")
	if err != nil {
		t.Fatalf("Owner error: %v", err)
	}
	if !held || owner != 1 {
		t.Fatalf("Owner = (%d, %t), want (1, true)", owner, held)
	}
}

func TestBlockLockReleaseOnlyByOwner(t *testing.T) {
	rdb := testRedis(t)
	locks := NewRedisBlockLocks(rdb)
	ctx := context.Background()
	docID := testDocID(t)

	if _, err := locks.Acquire(ctx, docID, "b1", 1, 10*time.Second); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	released, err := locks.Release(ctx, docID, "b1", 2)
	if err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if released {
		t.Fatalf("non-owner release must not free the lock")
	}
	if _, held, _ := locks.Owner(ctx, docID, "b1"); !held {
		t.Fatalf("lock should survive a non-owner release")
	}

	released, err = locks.Release(ctx, docID, "b1", 1)
	if err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if !released {
		t.Fatalf("owner release should free the lock")
	}

	ok, err := locks.Acquire(ctx, docID, "b1", 2, 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if !ok {
		t.Fatalf("lock should be free after owner release")
	}
}

func TestBlockLockLeaseExpiry(t *testing.T) {
	rdb := testRedis(t)
	locks := NewRedisBlockLocks(rdb)
	ctx := context.Background()
	docID := testDocID(t)

	if _, err := locks.Acquire(ctx, docID, "b1", 1, 1*time.Second); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)

	ok, err := locks.Acquire(ctx, docID, "b1", 2, 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if !ok {
		t.Fatalf("lock should be acquirable after lease expiry")
	}

	// the stale owner's release must not steal the new owner's lock
	released, err := locks.Release(ctx, docID, "b1", 1)
	if err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if released {
		t.Fatalf("stale owner release should be a no-op")
	}
	owner, held, err := locks.Owner(ctx, docID, "b1")
	if err != nil {
		t.Fatalf("Owner error: %v", err)
	}
	if !held || owner != 2 {
		t.Fatalf("Owner = (%d, %t), want (2, true)", owner, held)
	}
}
