package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/thermo-extraction/internal/repository"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/extraction"
	"github.com/joseph-ayodele/thermo-extraction/internal/storage"
	"github.com/joseph-ayodele/thermo-extraction/internal/testutil"
)

func write(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIngestDirectory(t *testing.T) {
	drv := testutil.NewDB(t)
	store, err := storage.NewLocal(t.TempDir(), testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	sessions := repository.NewSessionRepository(drv, testutil.Logger())
	svc := extraction.NewService(sessions, store, extraction.Limits{MaxUploadBytes: 1 << 20}, testutil.Logger())

	root := t.TempDir()
	write(t, filepath.Join(root, "a.pdf"), testutil.MinimalPDF(1))
	write(t, filepath.Join(root, "nested", "B.PDF"), testutil.MinimalPDF(3))
	write(t, filepath.Join(root, "notes.txt"), []byte("skip me"))
	write(t, filepath.Join(root, ".cache", "hidden.pdf"), testutil.MinimalPDF(1))
	write(t, filepath.Join(root, "broken.pdf"), []byte("not a pdf at all"))

	u := NewUsecase(svc, testutil.Logger())
	results, stats, err := u.IngestDirectory(context.Background(), root, true)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if stats.Matched != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	ok := 0
	for _, r := range results {
		if r.Err != "" {
			if filepath.Base(r.Path) != "broken.pdf" {
				t.Errorf("unexpected failure %s: %s", r.Path, r.Err)
			}
			continue
		}
		if _, err := sessions.GetBySessionID(context.Background(), r.SessionID); err != nil {
			t.Errorf("session %s for %s: %v", r.SessionID, r.Path, err)
		}
		ok++
	}
	if ok != 2 {
		t.Errorf("sessions created = %d, want 2", ok)
	}
}

func TestIngestDirectoryRequiresRoot(t *testing.T) {
	u := NewUsecase(nil, nil)
	if _, _, err := u.IngestDirectory(context.Background(), "  ", false); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestIsHidden(t *testing.T) {
	for path, want := range map[string]bool{
		"/a/.git":       true,
		"/a/b.pdf":      false,
		".":             false,
		"/x/.env/y.pdf": false,
	} {
		if got := IsHidden(path); got != want {
			t.Errorf("IsHidden(%q) = %v, want %v", path, got, want)
		}
	}
}
