package lock

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// Two separate handles to the same database file stand in for two
// concurrent schemakit processes.
func openShared(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db := openShared(t, path)
	ctx := context.Background()

	guard, err := Acquire(ctx, db, "sqlite")
	if err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}
	if err := guard.Release(ctx); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}

	// Reacquire after release.
	guard, err = Acquire(ctx, db, "sqlite")
	if err != nil {
		t.Fatalf("Failed to reacquire: %v", err)
	}
	if err := guard.Release(ctx); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}
}

func TestSecondAcquireFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	first := openShared(t, path)
	second := openShared(t, path)
	ctx := context.Background()

	guard, err := Acquire(ctx, first, "sqlite")
	if err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}
	defer guard.Release(ctx)

	if _, err := Acquire(ctx, second, "sqlite"); !errors.Is(err, ErrHeld) {
		t.Fatalf("Expected ErrHeld, got %v", err)
	}
}

func TestAcquireAfterOtherReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	first := openShared(t, path)
	second := openShared(t, path)
	ctx := context.Background()

	guard, err := Acquire(ctx, first, "sqlite")
	if err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}
	if err := guard.Release(ctx); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}

	guard2, err := Acquire(ctx, second, "sqlite")
	if err != nil {
		t.Fatalf("Second process should acquire after release: %v", err)
	}
	guard2.Release(ctx)
}

func TestUnsupportedProvider(t *testing.T) {
	db := openShared(t, filepath.Join(t.TempDir(), "test.db"))
	if _, err := Acquire(context.Background(), db, "oracle"); err == nil {
		t.Error("Expected error for unsupported provider")
	}
}
