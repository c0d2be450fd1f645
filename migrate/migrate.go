// Package migrate orchestrates planning and applying schema migrations.
// It wires the catalog, ledger, planner, executor, verifier, and run lock
// into the operations the CLI exposes.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/schemakit/schemakit/migrate/catalog"
	"github.com/schemakit/schemakit/migrate/executor"
	"github.com/schemakit/schemakit/migrate/ledger"
	"github.com/schemakit/schemakit/migrate/lock"
	"github.com/schemakit/schemakit/migrate/planner"
	"github.com/schemakit/schemakit/migrate/verifier"
)

// DefaultEngineVersion is used when the caller does not supply one.
const DefaultEngineVersion = "0.1.0"

// Options configures an Engine.
type Options struct {
	// EngineVersion is checked against each unit's "requires" constraint.
	EngineVersion string
	// PerUnitTimeout aborts a unit's transaction when exceeded.
	PerUnitTimeout time.Duration
	// EnforcePrecheck runs the verifier before each unit and blocks on a
	// violation.
	EnforcePrecheck bool
	// Limit caps how many pending units one Up call applies. Zero means
	// no cap.
	Limit int
}

// Engine is the migration engine facade.
type Engine struct {
	db       *sql.DB
	provider string
	source   catalog.Source
	store    *ledger.Store
	opts     Options
}

// NewEngine creates an engine for the given database and unit source.
func NewEngine(db *sql.DB, provider string, source catalog.Source, opts Options) *Engine {
	if opts.EngineVersion == "" {
		opts.EngineVersion = DefaultEngineVersion
	}
	return &Engine{
		db:       db,
		provider: provider,
		source:   source,
		store:    ledger.NewStore(db, provider),
		opts:     opts,
	}
}

// Ledger exposes the engine's ledger store.
func (e *Engine) Ledger() *ledger.Store {
	return e.store
}

// Result summarizes an Up run.
type Result struct {
	Applied int
	Planned []catalog.Unit
}

// UnitStatus pairs a catalog unit with its ledger state.
type UnitStatus struct {
	Unit      catalog.Unit
	Applied   bool
	AppliedAt time.Time
}

// Status describes the catalog against the ledger.
type Status struct {
	Units   []UnitStatus
	Pending int
}

// Report is the outcome of a dry run.
type Report struct {
	Pending    []catalog.Unit
	Violations []*verifier.Violation
	// PrecheckSkipped is set when the provider cannot roll back DDL, so
	// running prechecks would mutate the schema for real.
	PrecheckSkipped bool
}

// Up acquires the run lock, plans, and applies all pending units in order.
// A concurrent run fails fast with lock.ErrHeld.
func (e *Engine) Up(ctx context.Context) (*Result, error) {
	if e.opts.EnforcePrecheck && !verifier.Supported(e.provider) {
		return nil, verifier.ErrUnsupported
	}

	guard, err := lock.Acquire(ctx, e.db, e.provider)
	if err != nil {
		return nil, err
	}
	// Release on a fresh context so an operator interrupt between units
	// does not leave the lock behind.
	defer guard.Release(context.Background())

	plan, err := e.plan(ctx)
	if err != nil {
		return nil, err
	}
	if e.opts.Limit > 0 && len(plan.Units) > e.opts.Limit {
		plan.Units = plan.Units[:e.opts.Limit]
	}

	execOpts := executor.Options{PerUnitTimeout: e.opts.PerUnitTimeout}
	if e.opts.EnforcePrecheck {
		v := verifier.New(e.db, e.provider, verifier.Enforce)
		execOpts.Precheck = v.Precheck
	}

	applied, err := executor.New(e.db, e.store, execOpts).Apply(ctx, plan)
	if err != nil {
		return &Result{Applied: applied, Planned: plan.Units}, err
	}
	return &Result{Applied: applied, Planned: plan.Units}, nil
}

// Status reports each catalog unit's ledger state. Drift in an applied
// unit fails the call, same as planning.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	units, applied, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := planner.Build(units, applied); err != nil {
		return nil, err
	}

	byID := make(map[string]ledger.Entry, len(applied))
	for _, entry := range applied {
		byID[entry.UnitID] = entry
	}

	status := &Status{}
	for _, u := range units {
		us := UnitStatus{Unit: u}
		if entry, ok := byID[u.ID]; ok {
			us.Applied = true
			us.AppliedAt = entry.AppliedAt
		} else {
			status.Pending++
		}
		status.Units = append(status.Units, us)
	}
	return status, nil
}

// DryRun plans and prechecks every pending unit without committing
// anything. Violations are advisory here.
func (e *Engine) DryRun(ctx context.Context) (*Report, error) {
	plan, err := e.plan(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Pending: plan.Units}
	if !verifier.Supported(e.provider) {
		report.PrecheckSkipped = true
		return report, nil
	}
	v := verifier.New(e.db, e.provider, verifier.Advisory)
	for _, unit := range plan.Units {
		if err := v.Precheck(ctx, unit); err != nil {
			var violation *verifier.Violation
			if errors.As(err, &violation) {
				report.Violations = append(report.Violations, violation)
				continue
			}
			return nil, err
		}
	}
	return report, nil
}

// Verify checks the catalog against the ledger for drift without applying
// anything.
func (e *Engine) Verify(ctx context.Context) error {
	units, applied, err := e.load(ctx)
	if err != nil {
		return err
	}
	_, err = planner.Build(units, applied)
	return err
}

func (e *Engine) plan(ctx context.Context) (*planner.Plan, error) {
	units, applied, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	return planner.Build(units, applied)
}

func (e *Engine) load(ctx context.Context) ([]catalog.Unit, []ledger.Entry, error) {
	units, err := e.source.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := catalog.CheckRequires(units, e.opts.EngineVersion); err != nil {
		return nil, nil, err
	}
	if err := e.store.Init(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := e.store.ListApplied(ctx)
	if err != nil {
		return nil, nil, err
	}
	return units, applied, nil
}
