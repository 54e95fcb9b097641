package store

import (
	"context"
	"path/filepath"
	"testing"
)

// openStore opens a fresh store in a temp directory and closes it with
// the test.
func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cluster.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustSeedService creates a cluster service with bindings for tests.
func mustSeedService(t *testing.T, s *Store, serviceID string, bindings ...Binding) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertClusterService(ctx, serviceID, "Test Service"); err != nil {
		t.Fatalf("UpsertClusterService() failed: %v", err)
	}
	for _, b := range bindings {
		b.ServiceID = serviceID
		if err := s.UpsertBinding(ctx, b); err != nil {
			t.Fatalf("UpsertBinding(%q) failed: %v", b.DeviceID, err)
		}
	}
}
