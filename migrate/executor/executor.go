// Package executor applies planned migration units transactionally.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/schemakit/schemakit/migrate/catalog"
	"github.com/schemakit/schemakit/migrate/ledger"
	"github.com/schemakit/schemakit/migrate/planner"
)

// UnitError wraps a failure while applying one unit. The transaction for
// that unit was rolled back, the run halted, and no later unit was
// attempted.
type UnitError struct {
	UnitID   string
	TimedOut bool
	Err      error
}

func (e *UnitError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("migration %s exceeded its timeout: %v", e.UnitID, e.Err)
	}
	return fmt.Sprintf("migration %s failed: %v", e.UnitID, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// Precheck validates a unit before it is applied for real. A non-nil error
// blocks the unit.
type Precheck func(ctx context.Context, unit catalog.Unit) error

// Options configures an executor.
type Options struct {
	// PerUnitTimeout aborts and rolls back a unit's transaction when
	// exceeded. Zero means no client-side timeout.
	PerUnitTimeout time.Duration
	// Precheck, when set, runs before each unit's real transaction.
	Precheck Precheck
}

// Executor applies a plan unit by unit. Each unit runs in its own
// transaction, and its ledger record is written inside that same
// transaction so "effect applied" and "effect recorded" are atomic.
type Executor struct {
	db    *sql.DB
	store *ledger.Store
	opts  Options
}

// New creates an executor writing to the given ledger store.
func New(db *sql.DB, store *ledger.Store, opts Options) *Executor {
	return &Executor{db: db, store: store, opts: opts}
}

// Apply runs the plan in order and returns the number of units applied.
// On failure the count covers the units committed before the failing one.
// Cancellation is honored only between units, never mid-unit.
func (e *Executor) Apply(ctx context.Context, plan *planner.Plan) (int, error) {
	applied := 0
	for _, unit := range plan.Units {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}

		if err := e.applyOne(ctx, unit); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (e *Executor) applyOne(ctx context.Context, unit catalog.Unit) error {
	unitCtx := ctx
	if e.opts.PerUnitTimeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, e.opts.PerUnitTimeout)
		defer cancel()
	}

	if e.opts.Precheck != nil {
		if err := e.opts.Precheck(unitCtx, unit); err != nil {
			return &UnitError{UnitID: unit.ID, Err: err}
		}
	}

	tx, err := e.db.BeginTx(unitCtx, nil)
	if err != nil {
		return e.unitError(unitCtx, unit.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if _, err := tx.ExecContext(unitCtx, unit.UpSQL); err != nil {
		_ = tx.Rollback()
		return e.unitError(unitCtx, unit.ID, err)
	}

	entry := ledger.Entry{
		UnitID:    unit.ID,
		Name:      unit.Name,
		AppliedAt: time.Now(),
		Checksum:  unit.Checksum,
	}
	if err := e.store.RecordApplied(unitCtx, tx, entry); err != nil {
		_ = tx.Rollback()
		var conflict *ledger.ConflictError
		if errors.As(err, &conflict) {
			return err
		}
		return e.unitError(unitCtx, unit.ID, err)
	}

	// A commit failure after a successful action is a fatal inconsistency:
	// the effect may or may not be in place, and the ledger says nothing.
	if err := tx.Commit(); err != nil {
		return &UnitError{UnitID: unit.ID, Err: fmt.Errorf("failed to commit: %w", err)}
	}
	return nil
}

func (e *Executor) unitError(ctx context.Context, unitID string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &UnitError{UnitID: unitID, TimedOut: true, Err: err}
	}
	return &UnitError{UnitID: unitID, Err: err}
}
