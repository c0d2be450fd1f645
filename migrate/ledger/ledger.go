// Package ledger persists the record of applied migration units.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// DefaultTable is the name of the ledger table.
const DefaultTable = "_schemakit_ledger"

// ErrNotFound is returned by Get when no entry exists for a unit id.
var ErrNotFound = errors.New("ledger: entry not found")

// ConflictError is returned when a concurrent writer already recorded the
// same unit id. Callers should re-plan rather than retry the write.
type ConflictError struct {
	UnitID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ledger: unit %s already recorded by a concurrent writer", e.UnitID)
}

// Entry is one applied-migration record. Entries are never mutated.
type Entry struct {
	UnitID    string
	Name      string
	AppliedAt time.Time
	Checksum  string
}

// Execer is satisfied by both *sql.DB and *sql.Tx, so a record can be
// written inside the same transaction as the unit's forward action.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store reads and writes the ledger table.
type Store struct {
	db       *sql.DB
	provider string
	table    string
}

// NewStore creates a ledger store for the given provider
// ("postgres", "mysql", or "sqlite").
func NewStore(db *sql.DB, provider string) *Store {
	return &Store{db: db, provider: provider, table: DefaultTable}
}

// Init creates the ledger table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.createTableSQL()); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// RecordApplied inserts an entry using the given executor. A duplicate unit
// id surfaces as a ConflictError.
func (s *Store) RecordApplied(ctx context.Context, exec Execer, entry Entry) error {
	_, err := exec.ExecContext(ctx, s.insertSQL(),
		entry.UnitID,
		entry.Name,
		entry.AppliedAt.UTC(),
		entry.Checksum,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return &ConflictError{UnitID: entry.UnitID}
		}
		return fmt.Errorf("failed to record migration %s: %w", entry.UnitID, err)
	}
	return nil
}

// ListApplied returns all entries ordered by unit id.
func (s *Store) ListApplied(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.selectAllSQL())
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UnitID, &e.Name, &e.AppliedAt, &e.Checksum); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the entry for a unit id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, unitID string) (Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx, s.selectOneSQL(), unitID).
		Scan(&e.UnitID, &e.Name, &e.AppliedAt, &e.Checksum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("failed to query ledger entry %s: %w", unitID, err)
	}
	return e, nil
}

// isDuplicateKey detects a unique-constraint violation across providers.
func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) createTableSQL() string {
	switch s.provider {
	case "postgresql", "postgres":
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				unit_id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				checksum VARCHAR(64) NOT NULL
			)
		`, s.table)
	case "mysql":
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				unit_id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				checksum VARCHAR(64) NOT NULL
			)
		`, s.table)
	case "sqlite":
		return fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				unit_id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				checksum TEXT NOT NULL
			)
		`, s.table)
	default:
		return ""
	}
}

func (s *Store) insertSQL() string {
	switch s.provider {
	case "postgresql", "postgres":
		return fmt.Sprintf(`INSERT INTO %s (unit_id, name, applied_at, checksum) VALUES ($1, $2, $3, $4)`, s.table)
	default:
		return fmt.Sprintf(`INSERT INTO %s (unit_id, name, applied_at, checksum) VALUES (?, ?, ?, ?)`, s.table)
	}
}

func (s *Store) selectAllSQL() string {
	return fmt.Sprintf(`SELECT unit_id, name, applied_at, checksum FROM %s ORDER BY unit_id ASC`, s.table)
}

func (s *Store) selectOneSQL() string {
	switch s.provider {
	case "postgresql", "postgres":
		return fmt.Sprintf(`SELECT unit_id, name, applied_at, checksum FROM %s WHERE unit_id = $1`, s.table)
	default:
		return fmt.Sprintf(`SELECT unit_id, name, applied_at, checksum FROM %s WHERE unit_id = ?`, s.table)
	}
}
