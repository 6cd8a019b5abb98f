package testsupport

import (
	"path/filepath"
	"testing"

	"camrecorder/internal/journal"
)

// MustOpenJournal opens an upload journal in a temp directory and registers
// cleanup.
func MustOpenJournal(t testing.TB) *journal.Store {
	t.Helper()

	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
