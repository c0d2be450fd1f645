package commands

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/schemakit/schemakit/cli/internal/config"
)

// detectProvider guesses the provider from a connection string.
func detectProvider(connStr string) string {
	if strings.HasPrefix(connStr, "mysql://") || strings.Contains(connStr, "@tcp(") {
		return "mysql"
	} else if strings.Contains(connStr, "sqlite") || strings.HasPrefix(connStr, "file:") {
		return "sqlite"
	}
	return "postgresql"
}

// normalizeProviderForDriver normalizes provider name for sql.Open.
// The PostgreSQL driver registers as "postgres", SQLite as "sqlite3".
func normalizeProviderForDriver(provider string) string {
	switch provider {
	case "postgresql", "postgres":
		return "postgres"
	case "sqlite":
		return "sqlite3"
	default:
		return provider
	}
}

// normalizeDSN adjusts a connection string for the provider's driver.
func normalizeDSN(provider string, connStr string) string {
	switch provider {
	case "mysql":
		// go-sql-driver takes a DSN, not a URL, and needs parseTime to
		// scan the ledger's applied_at column.
		connStr = strings.TrimPrefix(connStr, "mysql://")
		if !strings.Contains(connStr, "parseTime") {
			if strings.Contains(connStr, "?") {
				connStr += "&parseTime=true"
			} else {
				connStr += "?parseTime=true"
			}
		}
		return connStr
	case "sqlite":
		return strings.TrimPrefix(connStr, "sqlite://")
	default:
		return connStr
	}
}

// openDatabase connects to the configured database and returns the
// connection plus the resolved provider name.
func openDatabase(cfg *config.Config) (*sql.DB, string, error) {
	if cfg.DatabaseURL == "" {
		return nil, "", fmt.Errorf("no database URL configured (set DATABASE_URL or database_url in schemakit.yaml)")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = detectProvider(cfg.DatabaseURL)
	}

	driver := normalizeProviderForDriver(provider)
	db, err := sql.Open(driver, normalizeDSN(provider, cfg.DatabaseURL))
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, provider, nil
}
