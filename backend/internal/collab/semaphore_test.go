package collab

import (
	"context"
	"testing"
	"time"
)

func TestSemaphoreBoundsInflight(t *testing.T) {
	sem := NewSemaphore(2)
	ctx := context.Background()

	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	// full: the third acquire must time out
	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := sem.Acquire(timeoutCtx); err == nil {
		t.Fatalf("acquire beyond capacity should fail")
	}

	if err := sem.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after release error: %v", err)
	}
}

func TestSemaphoreReleaseWithoutAcquire(t *testing.T) {
	sem := NewSemaphore(1)
	if err := sem.Release(); err == nil {
		t.Fatalf("release without acquire should error")
	}
}
