package testutil

import (
	"testing"

	"zipdaemon/internal/database"
)

// NewTestLedger creates an in-memory SQLite ledger with migrations applied.
// It is closed automatically when the test completes.
func NewTestLedger(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
