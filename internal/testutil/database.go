package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"boxes-go/internal/database"
)

// NewTestStore opens a migrated, empty store file in a temp directory. A
// file-backed store is needed wherever a test takes backups. The store is
// closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	return NewTestStoreAt(t, filepath.Join(t.TempDir(), "data", "boxes.db"))
}

// NewTestStoreAt opens a migrated store at path.
func NewTestStoreAt(t *testing.T, path string) *database.SQLiteStore {
	t.Helper()

	store, err := database.Open(context.Background(), path, database.Options{
		Clock: FixedClock(),
		IDs:   NewStubIDGenerator(),
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewMemoryStore opens an in-memory store for tests that never back up.
func NewMemoryStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	return NewTestStoreAt(t, database.MemoryPath)
}
