package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

const (
	postgresMigrations = "migrations/postgres"
	sqliteMigrations   = "migrations/sqlite"
)

// Migrate brings the schema up to date for the connection's dialect. It is
// idempotent and safe to run at every start.
//
// Postgres uses golang-migrate versioned migrations; if that fails (for example
// a dirty version table left by a crash) the embedded up files are applied
// directly, since every statement is IF NOT EXISTS.
func Migrate(ctx context.Context, d *DB) error {
	if d.Dialect == Postgres {
		if err := RunMigrations(d.DB); err != nil {
			slog.Warn("versioned migrations failed, applying embedded schema", slog.Any("err", err), slog.String("component", "db_migrate"))
			return applyEmbedded(ctx, d, postgresMigrations, ".up.sql")
		}
		return nil
	}
	return migrateSQLite(ctx, d)
}

func newPostgresMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, postgresMigrations)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies pending Postgres migrations embedded in the binary.
func RunMigrations(db *sql.DB) error {
	m, err := newPostgresMigrator(db)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("database schema is up to date", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("could not determine migration version", slog.Any("error", err), slog.String("component", "db_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d - manual intervention required", version)
	}
	slog.Info("migrations applied successfully", slog.Uint64("version", uint64(version)), slog.String("component", "db_migrate"))
	return nil
}

// MigrateDown rolls back the most recent Postgres migration. Development only.
func MigrateDown(db *sql.DB) error {
	m, err := newPostgresMigrator(db)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("no migrations to roll back", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// MigrationVersion reports the applied schema version. dirty is always false for SQLite.
func MigrationVersion(ctx context.Context, d *DB) (version uint, dirty bool, err error) {
	if d.Dialect == Postgres {
		m, err := newPostgresMigrator(d.DB)
		if err != nil {
			return 0, false, err
		}
		defer m.Close()
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("failed to get migration version: %w", err)
		}
		return v, dirty, nil
	}
	var v sql.NullInt64
	if err := d.QueryRow(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("read schema_version: %w", err)
	}
	return uint(v.Int64), false, nil
}

// migrateSQLite applies embedded migrations not yet recorded in schema_version,
// each in its own transaction.
func migrateSQLite(ctx context.Context, d *DB) error {
	if _, err := d.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}
	files, err := migrationFiles(sqliteMigrations, ".sql")
	if err != nil {
		return err
	}
	for _, name := range files {
		version, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		var exists int
		if err := d.QueryRow(ctx, "SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile(sqliteMigrations + "/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := d.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
		slog.Debug("sqlite migration applied", slog.Int("version", version), slog.String("component", "db_migrate"))
	}
	return nil
}

// applyEmbedded executes every statement of the matching files in order.
func applyEmbedded(ctx context.Context, d *DB, dir, suffix string) error {
	files, err := migrationFiles(dir, suffix)
	if err != nil {
		return err
	}
	for _, name := range files {
		content, err := migrationsFS.ReadFile(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		for i, stmt := range strings.Split(string(content), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s step %d failed: %w", name, i, err)
			}
		}
	}
	return nil
}

func migrationFiles(dir, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// parseMigrationVersion extracts the leading number from names like "001_init.sql".
func parseMigrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: missing version prefix", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %s: invalid version: %w", name, err)
	}
	return v, nil
}
