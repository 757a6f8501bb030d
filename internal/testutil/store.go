package testutil

import (
	"path/filepath"
	"testing"

	"github.com/roach88/disburse/internal/store"
)

// NewStore opens a fresh SQLite store in a temp dir, closed at test cleanup.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "disburse.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
