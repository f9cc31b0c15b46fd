package database

import (
	"path/filepath"
	"testing"
	"time"
)

// NewTestDatabase opens a migrated store in a temporary directory that is
// removed when the test finishes.
func NewTestDatabase(tb testing.TB) *Database {
	tb.Helper()

	db, err := NewDatabase(filepath.Join(tb.TempDir(), "validator.db"), 2*time.Second)
	if err != nil {
		tb.Fatalf("failed to open test database: %v", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		tb.Fatalf("failed to migrate test database: %v", err)
	}

	tb.Cleanup(func() {
		db.Close()
	})
	return db
}
