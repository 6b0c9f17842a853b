package testutil

import (
	"testing"

	"github.com/nhle/rainfeed/internal/store"
)

// NewTestArchive creates an in-memory SQLiteArchive with all migrations
// applied. It automatically closes the archive when the test completes.
func NewTestArchive(t *testing.T) *store.SQLiteArchive {
	t.Helper()

	a, err := store.NewSQLiteArchive(":memory:")
	if err != nil {
		t.Fatalf("creating test archive: %v", err)
	}

	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("closing test archive: %v", err)
		}
	})

	return a
}
