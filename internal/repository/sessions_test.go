package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
)

func newSession(id string) *entity.Session {
	return &entity.Session{
		SessionID:    id,
		PDFFilename:  "paper.pdf",
		PDFPath:      id + "/original.pdf",
		PDFSizeBytes: 2048,
	}
}

func TestSessionCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(createTestDB(t), testLogger())

	s := newSession("extract-AAAAAAAAAA")
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.GetBySessionID(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != constants.StateUploaded {
		t.Errorf("got state %q, want uploaded", got.State)
	}
	if got.CurrentStep != 1 {
		t.Errorf("got step %d, want 1", got.CurrentStep)
	}
	if got.ID != s.ID || got.PDFSizeBytes != 2048 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.ErrorStage != nil || got.DatasetID != nil {
		t.Errorf("expected empty optional fields, got %+v", got)
	}
}

func TestSessionGetMissing(t *testing.T) {
	repo := NewSessionRepository(createTestDB(t), testLogger())
	_, err := repo.GetBySessionID(context.Background(), "extract-missing000")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSessionCreateRejectsUnknownState(t *testing.T) {
	repo := NewSessionRepository(createTestDB(t), testLogger())
	s := newSession("extract-BBBBBBBBBB")
	s.State = "exploded"
	if err := repo.Create(context.Background(), s); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestSessionAdvanceAndConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(createTestDB(t), testLogger())
	s := newSession("extract-CCCCCCCCCC")
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	v, err := repo.Advance(ctx, s.SessionID, 0, StageUpdate{State: constants.StateAnalyzing})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if v != 1 {
		t.Errorf("got version %d, want 1", v)
	}

	// stale version loses
	if _, err := repo.Advance(ctx, s.SessionID, 0, StageUpdate{State: constants.StateAnalyzing}); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	step := 2
	meta := json.RawMessage(`{"title":"Apatite (U-Th)/He"}`)
	v, err = repo.Advance(ctx, s.SessionID, v, StageUpdate{
		State:       constants.StateAnalyzed,
		CurrentStep: &step,
		Values: map[string]any{
			"paper_metadata": meta,
			"tables_found":   3,
			"data_types":     []string{"AHe", "AFT"},
			"error_stage":    nil,
			"error_message":  nil,
		},
	})
	if err != nil {
		t.Fatalf("advance analyzed: %v", err)
	}
	got, err := repo.GetBySessionID(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != constants.StateAnalyzed || got.CurrentStep != 2 || got.Version != v {
		t.Errorf("got state=%s step=%d version=%d", got.State, got.CurrentStep, got.Version)
	}
	if got.TablesFound == nil || *got.TablesFound != 3 {
		t.Errorf("tables_found not stored: %v", got.TablesFound)
	}
	if len(got.DataTypes) != 2 || got.DataTypes[1] != "AFT" {
		t.Errorf("data_types not stored: %v", got.DataTypes)
	}
	var m map[string]string
	if err := json.Unmarshal(got.PaperMetadata, &m); err != nil || m["title"] != "Apatite (U-Th)/He" {
		t.Errorf("paper_metadata not stored: %s (%v)", got.PaperMetadata, err)
	}
}

func TestSessionMarkFailedKeepsOutputs(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(createTestDB(t), testLogger())
	s := newSession("extract-DDDDDDDDDD")
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	v, err := repo.Advance(ctx, s.SessionID, 0, StageUpdate{
		State:  constants.StateExtracting,
		Values: map[string]any{"tables_found": 2},
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := repo.MarkFailed(ctx, s.SessionID, v, constants.ErrorStageExtract, "model returned no csv"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _ := repo.GetBySessionID(ctx, s.SessionID)
	if got.State != constants.StateFailed {
		t.Errorf("got %q, want failed", got.State)
	}
	if got.ErrorStage == nil || *got.ErrorStage != constants.ErrorStageExtract {
		t.Errorf("error_stage = %v", got.ErrorStage)
	}
	if got.TablesFound == nil || *got.TablesFound != 2 {
		t.Errorf("prior output lost: %v", got.TablesFound)
	}
}

func TestSessionUsageAccumulates(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(createTestDB(t), testLogger())
	s := newSession("extract-EEEEEEEEEE")
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.AddUsage(ctx, s.SessionID, entity.BucketExtraction, "claude-sonnet-4-5", 1000, 250); err != nil {
			t.Fatalf("add usage: %v", err)
		}
	}
	if err := repo.AddUsage(ctx, s.SessionID, "bogus", "m", 1, 1); err == nil {
		t.Errorf("expected error for unknown bucket")
	}
	got, _ := repo.GetBySessionID(ctx, s.SessionID)
	b := got.Usage.Extraction
	if b.InputTokens != 2000 || b.OutputTokens != 500 || b.Calls != 2 {
		t.Errorf("got %+v", b)
	}
	if got.Usage.Analysis.Calls != 0 {
		t.Errorf("analysis bucket touched: %+v", got.Usage.Analysis)
	}
	if got.AIModel == nil || *got.AIModel != "claude-sonnet-4-5" {
		t.Errorf("ai_model = %v", got.AIModel)
	}
}

func TestSessionListAndCount(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(createTestDB(t), testLogger())
	for _, id := range []string{"extract-FFFFFFFFF1", "extract-FFFFFFFFF2", "extract-FFFFFFFFF3"} {
		if err := repo.Create(ctx, newSession(id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := repo.Advance(ctx, "extract-FFFFFFFFF2", 0, StageUpdate{State: constants.StateAnalyzing}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	all, err := repo.List(ctx, nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d sessions, want 3", len(all))
	}
	st := constants.StateAnalyzing
	only, err := repo.List(ctx, &st, 10)
	if err != nil {
		t.Fatalf("list by state: %v", err)
	}
	if len(only) != 1 || only[0].SessionID != "extract-FFFFFFFFF2" {
		t.Errorf("got %v", only)
	}

	counts, err := repo.CountByState(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(counts) != len(constants.SessionStates) {
		t.Errorf("got %d states, want %d", len(counts), len(constants.SessionStates))
	}
	if counts[constants.StateUploaded] != 2 || counts[constants.StateAnalyzing] != 1 || counts[constants.StateLoaded] != 0 {
		t.Errorf("got %v", counts)
	}
}

func TestSessionDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(createTestDB(t), testLogger())
	s := newSession("extract-GGGGGGGGGG")
	s.ID = uuid.New()
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Delete(ctx, s.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetBySessionID(ctx, s.SessionID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, s.SessionID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}
