package verifier

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/schemakit/schemakit/migrate/catalog"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPrecheckLeavesNoEffect(t *testing.T) {
	db := openTestDB(t)
	v := New(db, "sqlite", Advisory)

	unit := catalog.Unit{ID: "001", UpSQL: "CREATE TABLE t (id INTEGER);"}
	if err := v.Precheck(context.Background(), unit); err != nil {
		t.Fatalf("Precheck should pass: %v", err)
	}

	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 't'").Scan(&n)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if n != 0 {
		t.Error("Precheck transaction must be rolled back")
	}
}

func TestPrecheckReportsViolation(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec("CREATE TABLE t (id INTEGER);"); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	v := New(db, "sqlite", Enforce)
	// Unguarded CREATE of an existing table: the non-idempotent case the
	// precheck exists to catch.
	unit := catalog.Unit{ID: "002", UpSQL: "CREATE TABLE t (id INTEGER);"}
	err := v.Precheck(context.Background(), unit)
	var violation *Violation
	if !errors.As(err, &violation) {
		t.Fatalf("Expected Violation, got %v", err)
	}
	if violation.UnitID != "002" {
		t.Errorf("Expected unit 002, got %s", violation.UnitID)
	}
}

func TestPrecheckPassesForGuardedUnit(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec("CREATE TABLE t (id INTEGER);"); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	v := New(db, "sqlite", Enforce)
	unit := catalog.Unit{ID: "003", UpSQL: "CREATE TABLE IF NOT EXISTS t (id INTEGER);"}
	if err := v.Precheck(context.Background(), unit); err != nil {
		t.Errorf("Guarded unit should pass precheck: %v", err)
	}
}

// MySQL commits implicitly on DDL, so a "rolled back" precheck would apply
// the change for real. The verifier must refuse before touching the
// database; a nil handle proves no connection is ever used.
func TestPrecheckRefusedWithoutTransactionalDDL(t *testing.T) {
	v := New(nil, "mysql", Advisory)
	unit := catalog.Unit{ID: "001", UpSQL: "CREATE TABLE t (id INT);"}
	if err := v.Precheck(context.Background(), unit); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Expected ErrUnsupported, got %v", err)
	}

	if Supported("mysql") {
		t.Error("mysql must not be reported as supported")
	}
	for _, provider := range []string{"postgresql", "sqlite"} {
		if !Supported(provider) {
			t.Errorf("%s should be supported", provider)
		}
	}
}

func TestModeAccessor(t *testing.T) {
	if New(nil, "sqlite", Enforce).Mode() != Enforce {
		t.Error("Expected Enforce mode")
	}
	if New(nil, "sqlite", Advisory).Mode() != Advisory {
		t.Error("Expected Advisory mode")
	}
}
