package sqlite

import (
	"context"
	"testing"
)

// OpenTestStore opens an in-memory store with all migrations applied. The
// store is closed when the test finishes.
func OpenTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
