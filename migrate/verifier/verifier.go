// Package verifier prechecks migration units against a throwaway
// transaction that is always rolled back.
package verifier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/schemakit/schemakit/migrate/catalog"
)

// ErrUnsupported is returned on providers where a rolled-back transaction
// cannot undo DDL. MySQL commits implicitly before every DDL statement, so
// a precheck there would apply the change for real.
var ErrUnsupported = errors.New("verifier: precheck not supported on mysql (DDL commits implicitly)")

// Mode controls how a precheck failure is treated.
type Mode int

const (
	// Advisory reports violations without blocking the run (dry-run).
	Advisory Mode = iota
	// Enforce blocks the executor from applying a violating unit.
	Enforce
)

// Supported reports whether the provider has transactional DDL, the
// property the throwaway-transaction precheck depends on.
func Supported(provider string) bool {
	return provider != "mysql"
}

// Violation means a unit's forward action failed its precheck, typically an
// "already exists" error the author should have guarded with IF EXISTS.
type Violation struct {
	UnitID string
	Cause  error
}

func (v *Violation) Error() string {
	return fmt.Sprintf("precheck violation in migration %s: %v", v.UnitID, v.Cause)
}

func (v *Violation) Unwrap() error {
	return v.Cause
}

// Verifier runs precheck transactions against the target database.
type Verifier struct {
	db       *sql.DB
	provider string
	mode     Mode
}

// New creates a verifier for the given provider and mode.
func New(db *sql.DB, provider string, mode Mode) *Verifier {
	return &Verifier{db: db, provider: provider, mode: mode}
}

// Mode returns the configured mode.
func (v *Verifier) Mode() Mode {
	return v.mode
}

// Precheck runs the unit's forward action in a transaction that is rolled
// back unconditionally, confirming the action would not fail
// non-idempotently. No schema change survives the call. Providers without
// transactional DDL get ErrUnsupported before anything touches the
// database.
func (v *Verifier) Precheck(ctx context.Context, unit catalog.Unit) error {
	if !Supported(v.provider) {
		return ErrUnsupported
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin precheck transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, unit.UpSQL); err != nil {
		return &Violation{UnitID: unit.ID, Cause: err}
	}
	return nil
}
