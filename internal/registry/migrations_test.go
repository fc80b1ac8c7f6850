package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMigrateAppliesNewVersionsOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != "002_retry_ledger" {
		t.Fatalf("unexpected schema version %q", version)
	}

	shipped, err := loadMigrations(migrationFS)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	next := fstest.MapFS{
		"migrations/003_notes.sql": {Data: []byte("CREATE TABLE notes (body TEXT);")},
	}
	for _, m := range shipped {
		next["migrations/"+m.version+".sql"] = &fstest.MapFile{Data: []byte(m.sql)}
	}
	// Running twice must not re-create the table.
	for i := 0; i < 2; i++ {
		if err := store.migrate(ctx, next); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	if version, _ := store.SchemaVersion(ctx); version != "003_notes" {
		t.Fatalf("expected 003_notes, got %q", version)
	}
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	store := openTestStore(t)

	older := fstest.MapFS{
		"migrations/001_init.sql": {Data: []byte("SELECT 1;")},
	}
	err := store.migrate(context.Background(), older)
	if !errors.Is(err, ErrSchemaTooNew) {
		t.Fatalf("expected ErrSchemaTooNew, got %v", err)
	}
}
