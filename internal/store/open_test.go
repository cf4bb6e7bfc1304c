package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/transfa/signup-service/internal/config"
)

func TestOpen_FileBackendMigratesBothTables(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := config.Config{StoreBackend: config.BackendFile, DataDir: dir}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	stores, err := Open(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stores.Close()

	reports, err := stores.MigrateAll(ctx)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(reports) != 2 || reports[0].Table != SignupSchema.Table || reports[1].Table != StaffSchema.Table {
		t.Fatalf("unexpected reports %+v", reports)
	}
	for _, name := range []string{SignupFileName, StaffFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to exist after migration: %v", name, err)
		}
	}

	again, err := stores.MigrateAll(ctx)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	for _, r := range again {
		if r.Changed() {
			t.Fatalf("expected second migration to be a no-op, got %+v", r)
		}
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Open(context.Background(), config.Config{StoreBackend: "sqlite"}, logger); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}
