package repository

import (
	"context"
	"io"
	"log/slog"
	"testing"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestDB opens a private in-memory SQLite database with the full schema.
func createTestDB(t *testing.T) *entsql.Driver {
	t.Helper()
	ctx := context.Background()
	drv, err := OpenSQLite(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared", testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = drv.Close() })
	if err := Migrate(ctx, drv, testLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return drv
}
