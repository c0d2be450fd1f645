// Package catalog loads and validates migration units from a directory.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Unit is a single ordered, immutable schema change. ID is the sortable
// numeric prefix of the filename; the checksum covers the raw file content,
// so any edit after the unit has been applied is detectable as drift.
type Unit struct {
	ID          string
	Name        string
	Description string // leading comment block, rendered by the CLI
	UpSQL       string
	DownSQL     string
	Requires    string // optional engine version constraint
	Checksum    string
}

// filename layout: <digits>_<label>.sql
var unitFilePattern = regexp.MustCompile(`^(\d+)_([A-Za-z0-9][A-Za-z0-9_-]*)\.sql$`)

const (
	downMarker     = "-- schemakit:down"
	requiresPrefix = "-- requires:"
)

// Checksum returns the hex-encoded sha256 of a unit's raw content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ParseFilename splits a migration filename into its id and label.
func ParseFilename(filename string) (id string, label string, err error) {
	m := unitFilePattern.FindStringSubmatch(filename)
	if m == nil {
		return "", "", fmt.Errorf("invalid migration filename %q (expected <digits>_<name>.sql)", filename)
	}
	return m[1], m[2], nil
}

// ParseUnit builds a Unit from a migration file's name and content.
func ParseUnit(filename string, content string) (Unit, error) {
	id, label, err := ParseFilename(filename)
	if err != nil {
		return Unit{}, err
	}

	up, down := splitSections(content)
	unit := Unit{
		ID:          id,
		Name:        label,
		Description: parseDescription(content),
		UpSQL:       up,
		DownSQL:     down,
		Requires:    parseRequires(content),
		Checksum:    Checksum(content),
	}
	if strings.TrimSpace(unit.UpSQL) == "" {
		return Unit{}, fmt.Errorf("migration %s has no forward statements", filename)
	}
	return unit, nil
}

// splitSections separates the forward SQL from the optional reverse section.
func splitSections(content string) (up string, down string) {
	idx := strings.Index(content, downMarker)
	if idx == -1 {
		return content, ""
	}
	return content[:idx], content[idx+len(downMarker):]
}

// parseRequires scans leading comment lines for a version constraint
// directive, e.g. "-- requires: >= 0.2.0".
func parseRequires(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "--") {
			break
		}
		if strings.HasPrefix(trimmed, requiresPrefix) {
			return strings.TrimSpace(trimmed[len(requiresPrefix):])
		}
	}
	return ""
}

// parseDescription collects the leading comment block into prose, skipping
// directive lines. Authors write it as markdown; the CLI renders it.
func parseDescription(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			// A blank line ends the block; before it starts, keep looking.
			if len(lines) > 0 {
				break
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "--") {
			break
		}
		if strings.HasPrefix(trimmed, requiresPrefix) {
			continue
		}
		lines = append(lines, strings.TrimSpace(strings.TrimPrefix(trimmed, "--")))
	}
	return strings.Join(lines, "\n")
}

// SortUnits orders units ascending by id. IDs are compared numerically when
// both parse as integers of equal length semantics; zero-padded and timestamp
// ids both sort correctly as strings of digits once lengths are normalized.
func SortUnits(units []Unit) {
	sort.Slice(units, func(i, j int) bool {
		return lessID(units[i].ID, units[j].ID)
	})
}

func lessID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// ValidateIDs rejects duplicate ids in a loaded catalog.
func ValidateIDs(units []Unit) error {
	seen := make(map[string]string, len(units))
	for _, u := range units {
		if prev, ok := seen[u.ID]; ok {
			return fmt.Errorf("duplicate migration id %s (%s and %s)", u.ID, prev, u.Name)
		}
		seen[u.ID] = u.Name
	}
	return nil
}

// CheckRequires verifies that every unit's version constraint is satisfied
// by the running engine version.
func CheckRequires(units []Unit, engineVersion string) error {
	current, err := goversion.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine version %q: %w", engineVersion, err)
	}
	for _, u := range units {
		if u.Requires == "" {
			continue
		}
		constraint, err := goversion.NewConstraint(u.Requires)
		if err != nil {
			return fmt.Errorf("migration %s: invalid requires constraint %q: %w", u.ID, u.Requires, err)
		}
		if !constraint.Check(current) {
			return fmt.Errorf("migration %s requires engine version %q, running %s", u.ID, u.Requires, engineVersion)
		}
	}
	return nil
}
