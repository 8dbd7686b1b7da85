package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_IncrementReturnsPostIncrementCount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	windowStart := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 3; i++ {
		count, err := store.Increment(ctx, "user:alice", windowStart, time.Minute)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if count != i {
			t.Errorf("Increment() = %d, want %d", count, i)
		}
	}
}

func TestMemoryStore_NewWindowResetsCount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	w1 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	w2 := w1.Add(time.Minute)

	store.Increment(ctx, "user:alice", w1, time.Minute)
	store.Increment(ctx, "user:alice", w1, time.Minute)

	count, err := store.Increment(ctx, "user:alice", w2, time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Increment() in new window = %d, want 1", count)
	}
}

func TestMemoryStore_ConcurrentIncrementsAreAtomic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	windowStart := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Increment(ctx, "user:alice", windowStart, time.Minute); err != nil {
				t.Errorf("Increment() error = %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := store.Increment(ctx, "user:alice", windowStart, time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if count != goroutines+1 {
		t.Errorf("final count = %d, want %d", count, goroutines+1)
	}
}

func TestMemoryStore_CleanupRemovesOnlyStaleWindows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	store.Increment(ctx, "user:stale", now.Add(-3*time.Minute), time.Minute)
	store.Increment(ctx, "user:recent", now.Add(-90*time.Second), time.Minute)
	store.Increment(ctx, "user:current", now, time.Minute)

	removed, err := store.Cleanup(ctx, now)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if store.Len() != 2 {
		t.Errorf("Len() after cleanup = %d, want 2", store.Len())
	}
}

func TestCleanupExpiredWindows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Increment(ctx, "user:stale", time.Now().Add(-time.Hour), time.Minute)
	store.Increment(ctx, "user:current", time.Now(), time.Minute)

	removed, err := CleanupExpiredWindows(ctx, store)
	if err != nil {
		t.Fatalf("CleanupExpiredWindows() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("CleanupExpiredWindows() removed %d, want 1", removed)
	}
}

func TestRunPeriodicCleanup_StopsOnSignal(t *testing.T) {
	store := NewMemoryStore()
	stopCh := make(chan struct{})
	done := make(chan struct{})

	go func() {
		RunPeriodicCleanup(context.Background(), store, 10*time.Millisecond, stopCh)
		close(done)
	}()

	close(stopCh)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodicCleanup did not stop after stop signal")
	}
}
