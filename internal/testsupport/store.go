package testsupport

import (
	"context"
	"testing"

	"pubsweep/internal/config"
	"pubsweep/internal/registry"
)

// MustOpenStore opens a registry.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustRegister records a partition's items in the store.
func MustRegister(t testing.TB, store *registry.Store, partitionID string, ids []string) {
	t.Helper()

	if _, err := store.Register(context.Background(), partitionID, partitionID+".csv", ids); err != nil {
		t.Fatalf("store.Register: %v", err)
	}
}
