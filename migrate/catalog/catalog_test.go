package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestParseFilename(t *testing.T) {
	id, label, err := ParseFilename("001_drop_index.sql")
	if err != nil {
		t.Fatalf("Failed to parse filename: %v", err)
	}
	if id != "001" {
		t.Errorf("Expected id '001', got '%s'", id)
	}
	if label != "drop_index" {
		t.Errorf("Expected label 'drop_index', got '%s'", label)
	}
}

func TestParseFilenameTimestampID(t *testing.T) {
	id, label, err := ParseFilename("20240101120000_fix-policies.sql")
	if err != nil {
		t.Fatalf("Failed to parse filename: %v", err)
	}
	if id != "20240101120000" {
		t.Errorf("Expected timestamp id, got '%s'", id)
	}
	if label != "fix-policies" {
		t.Errorf("Expected label 'fix-policies', got '%s'", label)
	}
}

func TestParseFilenameRejectsInvalid(t *testing.T) {
	for _, name := range []string{"nodigits.sql", "001.sql", "001_name.txt", "_001_name.sql"} {
		if _, _, err := ParseFilename(name); err == nil {
			t.Errorf("Expected error for filename %q", name)
		}
	}
}

func TestParseUnitSections(t *testing.T) {
	content := "CREATE TABLE users (id INTEGER);\n-- schemakit:down\nDROP TABLE users;\n"
	unit, err := ParseUnit("002_create_users.sql", content)
	if err != nil {
		t.Fatalf("Failed to parse unit: %v", err)
	}
	if !strings.Contains(unit.UpSQL, "CREATE TABLE") {
		t.Errorf("UpSQL missing forward statement: %q", unit.UpSQL)
	}
	if strings.Contains(unit.UpSQL, "DROP TABLE") {
		t.Errorf("UpSQL contains reverse statement: %q", unit.UpSQL)
	}
	if !strings.Contains(unit.DownSQL, "DROP TABLE") {
		t.Errorf("DownSQL missing reverse statement: %q", unit.DownSQL)
	}
	if unit.Checksum != Checksum(content) {
		t.Errorf("Checksum should cover raw content")
	}
}

func TestParseUnitRequiresDirective(t *testing.T) {
	content := "-- requires: >= 0.1.0\nCREATE TABLE t (id INTEGER);\n"
	unit, err := ParseUnit("003_add_t.sql", content)
	if err != nil {
		t.Fatalf("Failed to parse unit: %v", err)
	}
	if unit.Requires != ">= 0.1.0" {
		t.Errorf("Expected requires '>= 0.1.0', got %q", unit.Requires)
	}
}

func TestParseUnitRequiresOnlyInLeadingComments(t *testing.T) {
	content := "CREATE TABLE t (id INTEGER);\n-- requires: >= 9.0.0\n"
	unit, err := ParseUnit("004_add_t.sql", content)
	if err != nil {
		t.Fatalf("Failed to parse unit: %v", err)
	}
	if unit.Requires != "" {
		t.Errorf("Directive after SQL should be ignored, got %q", unit.Requires)
	}
}

func TestParseUnitDescription(t *testing.T) {
	content := "-- requires: >= 0.1.0\n-- Adds the users table.\n-- Safe to re-run.\n\n-- not part of the block\nCREATE TABLE users (id INTEGER);\n"
	unit, err := ParseUnit("006_add_users.sql", content)
	if err != nil {
		t.Fatalf("Failed to parse unit: %v", err)
	}
	if unit.Description != "Adds the users table.\nSafe to re-run." {
		t.Errorf("Unexpected description: %q", unit.Description)
	}
	if unit.Requires != ">= 0.1.0" {
		t.Errorf("Directive should not leak into the description, requires = %q", unit.Requires)
	}
}

func TestParseUnitWithoutDescription(t *testing.T) {
	unit, err := ParseUnit("007_plain.sql", "CREATE TABLE plain (id INTEGER);\n")
	if err != nil {
		t.Fatalf("Failed to parse unit: %v", err)
	}
	if unit.Description != "" {
		t.Errorf("Expected empty description, got %q", unit.Description)
	}
}

func TestParseUnitRejectsEmptyForward(t *testing.T) {
	if _, err := ParseUnit("005_empty.sql", "  \n\t\n"); err == nil {
		t.Error("Expected error for empty forward section")
	}
}

func TestChecksumStable(t *testing.T) {
	a := Checksum("SELECT 1;")
	b := Checksum("SELECT 1;")
	if a != b {
		t.Error("Checksum not deterministic")
	}
	if a == Checksum("SELECT 2;") {
		t.Error("Different content should yield different checksums")
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(a))
	}
}

func TestSortUnits(t *testing.T) {
	units := []Unit{{ID: "010"}, {ID: "002"}, {ID: "001"}}
	SortUnits(units)
	if units[0].ID != "001" || units[1].ID != "002" || units[2].ID != "010" {
		t.Errorf("Wrong order: %v, %v, %v", units[0].ID, units[1].ID, units[2].ID)
	}
}

func TestValidateIDsRejectsDuplicates(t *testing.T) {
	units := []Unit{{ID: "001", Name: "a"}, {ID: "001", Name: "b"}}
	if err := ValidateIDs(units); err == nil {
		t.Error("Expected duplicate id error")
	}
}

func TestCheckRequires(t *testing.T) {
	units := []Unit{{ID: "001", Requires: ">= 0.1.0"}}
	if err := CheckRequires(units, "0.1.0"); err != nil {
		t.Errorf("Constraint should be satisfied: %v", err)
	}
	if err := CheckRequires(units, "0.0.9"); err == nil {
		t.Error("Expected constraint failure for older engine")
	}
}

func TestDirSourceLoadOrdersAndParses(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"migrations/002_fix_policies.sql": "DROP POLICY IF EXISTS p ON t;",
		"migrations/001_drop_index.sql":   "DROP INDEX IF EXISTS idx;",
		"migrations/003_fix_function.sql": "CREATE OR REPLACE FUNCTION f() RETURNS void AS $$ BEGIN END $$ LANGUAGE plpgsql;",
		"migrations/README.md":            "not a migration",
	}
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}

	units, err := NewDirSource(fs, "migrations").Load()
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("Expected 3 units, got %d", len(units))
	}
	for i, want := range []string{"001", "002", "003"} {
		if units[i].ID != want {
			t.Errorf("Unit %d: expected id %s, got %s", i, want, units[i].ID)
		}
	}
}

func TestDirSourceMissingDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	if _, err := NewDirSource(fs, "nope").Load(); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestScaffold(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	path, err := Scaffold(fs, "migrations", "Add Users Table", now)
	if err != nil {
		t.Fatalf("Failed to scaffold: %v", err)
	}
	if path != "migrations/20240102030405_add_users_table.sql" {
		t.Errorf("Unexpected path: %s", path)
	}

	units, err := NewDirSource(fs, "migrations").Load()
	if err != nil {
		t.Fatalf("Scaffolded file should parse: %v", err)
	}
	if len(units) != 1 || units[0].Name != "add_users_table" {
		t.Errorf("Unexpected units: %+v", units)
	}
}
