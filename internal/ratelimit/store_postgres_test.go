//go:build integration

// Integration tests for the Postgres rate limit store. They start a
// disposable Postgres container via testcontainers and require a local
// Docker daemon. Run with: go test -tags=integration ./internal/ratelimit/...
package ratelimit

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("labtrail_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migration, err := os.ReadFile("../../migrations/000002_create_rate_limit_windows.up.sql")
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	if _, err := db.ExecContext(ctx, string(migration)); err != nil {
		t.Fatalf("failed to apply migration: %v", err)
	}
	return db
}

func TestPostgresStore_IncrementSequence(t *testing.T) {
	db := startPostgres(t)
	store := NewPostgresStore(db)
	ctx := context.Background()
	windowStart := time.Now().UTC().Truncate(time.Minute)

	for i := int64(1); i <= 3; i++ {
		count, err := store.Increment(ctx, "user:alice", windowStart, time.Minute)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if count != i {
			t.Errorf("Increment() = %d, want %d", count, i)
		}
	}

	// Different window starts fresh.
	count, err := store.Increment(ctx, "user:alice", windowStart.Add(time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Increment() in new window = %d, want 1", count)
	}
}

func TestPostgresStore_ConcurrentIncrementsNeverLost(t *testing.T) {
	db := startPostgres(t)
	store := NewPostgresStore(db)
	ctx := context.Background()
	windowStart := time.Now().UTC().Truncate(time.Minute)

	const goroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Increment(ctx, "apiKey:k1", windowStart, time.Minute); err != nil {
				t.Errorf("Increment() error = %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := store.Increment(ctx, "apiKey:k1", windowStart, time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if count != goroutines+1 {
		t.Errorf("final count = %d, want %d", count, goroutines+1)
	}
}

func TestPostgresStore_CleanupRespectsRetention(t *testing.T) {
	db := startPostgres(t)
	store := NewPostgresStore(db)
	store.SetRetention(2 * time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Increment(ctx, "user:stale", now.Add(-5*time.Minute), time.Minute); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if _, err := store.Increment(ctx, "user:current", now, time.Minute); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}

	removed, err := store.Cleanup(ctx, now)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() removed %d rows, want 1", removed)
	}

	// The surviving window still counts correctly.
	count, err := store.Increment(ctx, "user:current", now, time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count after cleanup = %d, want 2", count)
	}
}
