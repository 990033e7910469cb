package rtdb

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "rtdb.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Node{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func mustWrite(t *testing.T, store *Store, path string, value any) {
	t.Helper()
	if err := store.Write(t.Context(), path, value); err != nil {
		t.Fatalf("unexpected write error at %s: %v", path, err)
	}
}

func mustAppend(t *testing.T, store *Store, path string, value any) string {
	t.Helper()
	id, err := store.Append(t.Context(), path, value)
	if err != nil {
		t.Fatalf("unexpected append error at %s: %v", path, err)
	}
	return id
}

func mustReadOnce(t *testing.T, store *Store, path string) Snapshot {
	t.Helper()
	snapshot, err := store.ReadOnce(t.Context(), path)
	if err != nil {
		t.Fatalf("unexpected read error at %s: %v", path, err)
	}
	return snapshot
}
