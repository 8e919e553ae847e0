package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/onnwee/clip-tender/db"
)

// SQLiteDB opens a migrated private in-memory SQLite database.
func SQLiteDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Connect(":memory:", "")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.Migrate(context.Background(), d); err != nil {
		d.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// PostgresDB connects to TEST_PG_DSN and runs migrations.
// It skips the test if TEST_PG_DSN is not set.
func PostgresDB(t *testing.T) *db.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	d, err := db.Connect(dsn, "")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), d); err != nil {
		d.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}
