package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gbionescu/reddit-moderator-bot/internal/testutil"
)

// createTestStore creates a new store in a temp dir with deterministic IDs
// and time.
func createTestStore(t *testing.T) (*Store, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	ids := testutil.NewSequentialIDs("call")
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now), WithIDGenerator(ids.Next))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}
