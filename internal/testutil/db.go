package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/internal/repository"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewDB opens a private in-memory SQLite database with the full schema.
func NewDB(t testing.TB) *entsql.Driver {
	t.Helper()
	ctx := context.Background()
	drv, err := repository.OpenSQLite(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared", Logger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = drv.Close() })
	if err := repository.Migrate(ctx, drv, Logger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return drv
}
