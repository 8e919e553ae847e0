// Package db provides the database connection, schema migration, and small data
// access helpers (OAuth tokens, run history).
//
// Two dialects are supported. SQLite (modernc, pure Go) is the default and lives
// in the data directory next to the catalog. Postgres is used when DB_DSN is a
// postgres URL.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"             // pure Go sqlite driver registered as 'sqlite'
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// SQLiteFile is the database file name created in the data directory.
const SQLiteFile = "clip-tender.db"

// DB is a *sql.DB that remembers its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Rebind rewrites '?' placeholders to '$n' for Postgres. Queries in this module
// are written with '?' and never contain literal question marks.
func (d Dialect) Rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DialectFor infers the dialect from a DSN. Empty and file-like DSNs are SQLite.
func DialectFor(dsn string) Dialect {
	l := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(l, "postgres://") || strings.HasPrefix(l, "postgresql://") || strings.Contains(l, "host=") {
		return Postgres
	}
	return SQLite
}

// Connect opens the database named by dsn. An empty dsn opens SQLite at
// dataDir/clip-tender.db; ":memory:" opens a private in-memory SQLite database.
func Connect(dsn, dataDir string) (*DB, error) {
	dialect := DialectFor(dsn)
	if dialect == Postgres {
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &DB{DB: sqldb, Dialect: Postgres}, nil
	}

	if dsn == "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, SQLiteFile)
	}
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: avoids "database is locked" and keeps :memory: a single database.
	sqldb.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := sqldb.Exec(pragma); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	return &DB{DB: sqldb, Dialect: SQLite}, nil
}

// Ping verifies connectivity, used by readiness probes.
func (d *DB) Ping(ctx context.Context) error { return d.DB.PingContext(ctx) }

// Exec runs q after rebinding placeholders.
func (d *DB) Exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return d.DB.ExecContext(ctx, d.Dialect.Rebind(q), args...)
}

// Query runs q after rebinding placeholders.
func (d *DB) Query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return d.DB.QueryContext(ctx, d.Dialect.Rebind(q), args...)
}

// QueryRow runs q after rebinding placeholders.
func (d *DB) QueryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return d.DB.QueryRowContext(ctx, d.Dialect.Rebind(q), args...)
}
