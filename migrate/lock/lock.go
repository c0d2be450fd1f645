// Package lock serializes migration runs against a single database.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
)

// ErrHeld is returned when another run already holds the migration lock.
// Callers should abort and retry later, not queue.
var ErrHeld = errors.New("lock: migration already in progress")

// lockName keys the advisory lock; all schemakit processes targeting the
// same database contend on it.
const lockName = "schemakit_migrate"

// sqlite has no advisory locks, so a singleton-row table stands in.
const sqliteLockTable = "_schemakit_lock"

// Guard holds the migration-in-progress lock until released. Advisory locks
// are session-scoped, so the guard pins a single connection for its
// lifetime on postgres and mysql.
type Guard struct {
	db       *sql.DB
	conn     *sql.Conn
	provider string
}

// Acquire takes the run lock without waiting. A second concurrent
// invocation fails fast with ErrHeld.
func Acquire(ctx context.Context, db *sql.DB, provider string) (*Guard, error) {
	g := &Guard{db: db, provider: provider}
	switch provider {
	case "postgresql", "postgres":
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain lock connection: %w", err)
		}
		var locked bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", advisoryKey()).Scan(&locked); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
		}
		if !locked {
			conn.Close()
			return nil, ErrHeld
		}
		g.conn = conn
	case "mysql":
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain lock connection: %w", err)
		}
		var locked sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", lockName).Scan(&locked); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to acquire named lock: %w", err)
		}
		if !locked.Valid || locked.Int64 != 1 {
			conn.Close()
			return nil, ErrHeld
		}
		g.conn = conn
	case "sqlite":
		createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY CHECK (id = 1), acquired_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP)`, sqliteLockTable)
		if _, err := db.ExecContext(ctx, createSQL); err != nil {
			return nil, fmt.Errorf("failed to create lock table: %w", err)
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (id) VALUES (1)", sqliteLockTable)); err != nil {
			if strings.Contains(err.Error(), "constraint failed") {
				return nil, ErrHeld
			}
			return nil, fmt.Errorf("failed to acquire lock row: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported provider for locking: %s", provider)
	}
	return g, nil
}

// Release gives the lock back. Safe to call once per successful Acquire.
func (g *Guard) Release(ctx context.Context) error {
	switch g.provider {
	case "postgresql", "postgres":
		_, err := g.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", advisoryKey())
		g.conn.Close()
		return err
	case "mysql":
		_, err := g.conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", lockName)
		g.conn.Close()
		return err
	case "sqlite":
		_, err := g.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = 1", sqliteLockTable))
		return err
	default:
		return nil
	}
}

func advisoryKey() int64 {
	h := fnv.New64a()
	h.Write([]byte(lockName))
	return int64(h.Sum64())
}
