// Package testutil provides shared test helpers for setting up contact stores.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/contactlink/internal/store"
)

// TestStore opens a migrated SQLite store in a temp directory that is
// automatically cleaned up.
func TestStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contactlink-test.db")
	s, err := store.Open(store.Config{Driver: store.DriverSQLite, SQLitePath: path}, opts...)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
