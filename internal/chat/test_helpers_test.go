package chat

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/caseus-app/caseus-backend/internal/rtdb"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestBackend(t *testing.T) *rtdb.Store {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "chat.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&rtdb.Node{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := rtdb.NewStore(rtdb.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func newTestService(t *testing.T, backend Backend, userID, userName string) *Service {
	t.Helper()
	service, err := NewService(t.Context(), ServiceConfig{
		Backend:  backend,
		UserID:   userID,
		UserName: userName,
	})
	if err != nil {
		t.Fatalf("failed to construct chat service: %v", err)
	}
	t.Cleanup(func() { service.Close(t.Context()) })
	return service
}

// waitFor reads from stream until accept returns true or the deadline
// passes. Intermediate values are allowed because snapshots re-emit in full.
func waitFor[T any](t *testing.T, stream <-chan T, accept func(T) bool, description string) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case value, ok := <-stream:
			if !ok {
				t.Fatalf("stream closed while waiting for %s", description)
			}
			if accept(value) {
				return value
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", description)
		}
	}
}

func expectNoValue[T any](t *testing.T, stream <-chan T, reject func(T) bool, description string) {
	t.Helper()
	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case value, ok := <-stream:
			if !ok {
				return
			}
			if reject(value) {
				t.Fatalf("unexpected %s: %+v", description, value)
			}
		case <-deadline:
			return
		}
	}
}
