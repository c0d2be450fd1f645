// Package planner computes the ordered set of pending migration units.
package planner

import (
	"fmt"

	"github.com/schemakit/schemakit/migrate/catalog"
	"github.com/schemakit/schemakit/migrate/ledger"
)

// DriftError reports a checksum mismatch between an applied unit's ledger
// entry and its current catalog content. Drift halts planning and requires
// manual resolution.
type DriftError struct {
	UnitID   string
	Recorded string
	Current  string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("drift detected for migration %s: recorded checksum %.12s, current %.12s", e.UnitID, e.Recorded, e.Current)
}

// Plan is the ordered sequence of units not yet in the ledger. It is
// transient: recomputed on each run, never persisted.
type Plan struct {
	Units []catalog.Unit
}

// Empty reports whether there is nothing to apply.
func (p *Plan) Empty() bool {
	return len(p.Units) == 0
}

// Build filters the catalog to units absent from the ledger, preserving
// catalog order. An applied unit whose checksum no longer matches its
// ledger entry fails the whole plan with a DriftError. An empty catalog or
// a fully applied one yields an empty plan.
func Build(units []catalog.Unit, applied []ledger.Entry) (*Plan, error) {
	byID := make(map[string]ledger.Entry, len(applied))
	for _, e := range applied {
		byID[e.UnitID] = e
	}

	plan := &Plan{}
	for _, u := range units {
		entry, ok := byID[u.ID]
		if !ok {
			plan.Units = append(plan.Units, u)
			continue
		}
		if entry.Checksum != u.Checksum {
			return nil, &DriftError{UnitID: u.ID, Recorded: entry.Checksum, Current: u.Checksum}
		}
	}
	return plan, nil
}
