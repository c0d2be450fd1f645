package catalog

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Source loads a catalog of migration units.
type Source interface {
	Load() ([]Unit, error)
}

// DirSource reads *.sql migration files from a directory. It goes through
// afero so tests can run against an in-memory filesystem.
type DirSource struct {
	fs  afero.Fs
	dir string
}

// NewDirSource creates a source for the given migrations directory.
func NewDirSource(fs afero.Fs, dir string) *DirSource {
	return &DirSource{fs: fs, dir: dir}
}

// Load reads, parses, and orders all migration files in the directory.
func (s *DirSource) Load() ([]Unit, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory %s: %w", s.dir, err)
	}

	var units []Unit
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".sql") {
			continue
		}
		content, err := afero.ReadFile(s.fs, filepath.Join(s.dir, info.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", info.Name(), err)
		}
		unit, err := ParseUnit(info.Name(), string(content))
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}

	SortUnits(units)
	if err := ValidateIDs(units); err != nil {
		return nil, err
	}
	return units, nil
}

// Scaffold writes an empty migration file named with a timestamp id and
// returns its path.
func Scaffold(fs afero.Fs, dir string, name string, now time.Time) (string, error) {
	label := sanitizeLabel(name)
	if label == "" {
		return "", fmt.Errorf("invalid migration name %q", name)
	}

	filename := fmt.Sprintf("%s_%s.sql", now.UTC().Format("20060102150405"), label)
	path := filepath.Join(dir, filename)

	template := fmt.Sprintf("-- %s\n\n-- Forward statements go here.\n\n%s\n\n-- Reverse statements go here (optional).\n", label, downMarker)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	if err := afero.WriteFile(fs, path, []byte(template), 0644); err != nil {
		return "", fmt.Errorf("failed to write migration file: %w", err)
	}
	return path, nil
}

func sanitizeLabel(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(strings.ToLower(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
