package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
	"github.com/joseph-ayodele/thermo-extraction/internal/ocr"
	"github.com/joseph-ayodele/thermo-extraction/internal/repository"
	"github.com/joseph-ayodele/thermo-extraction/internal/session"
	"github.com/joseph-ayodele/thermo-extraction/internal/storage"
	"github.com/joseph-ayodele/thermo-extraction/internal/testutil"
)

const analysisJSON = "```json\n" + `{
  "paper_metadata": {
    "title": "Apatite fission-track ages of the Gawler Craton",
    "authors": ["A. Smith", "B. Jones"],
    "journal": "Tectonics",
    "year": "2021",
    "doi": "10.1029/2021TC006789",
    "abstract": "We report new AFT and AHe ages."
  },
  "tables": [
    {"table_number": 2, "caption": "(U-Th)/He data", "estimated_columns": 3, "data_type": "AHe"},
    {"table_number": 1, "caption": "AFT data", "page_number": 3, "estimated_rows": 3, "estimated_columns": 4, "data_type": "AFT"},
  ],
  "figures": [{"figure_number": 1, "caption": "Location map"}]
}` + "\n```"

const table1CSV = "```csv\nSample,Age (Ma),Error,Grains\nGC-01,120.5,4.2,20\n\nGC-02,98.1,3.9,18\nGC-03,,5.0,22\n```"

var tableNumberRe = regexp.MustCompile(`Extract Table (\d+)`)

type fakeAI struct {
	mu       sync.Mutex
	analysis string
	tables   map[int]string
	review   string
	fair     string
	fairErr  error
	calls    map[string]int
}

func newFakeAI() *fakeAI {
	return &fakeAI{
		analysis: analysisJSON,
		tables: map[int]string{
			1: table1CSV,
			2: "Sample,Age\nGC-01,45.1\n",
		},
		review: `{"valid": true, "quality_score": 92, "issues": [], "recommendation": "accept"}`,
		fair:   `{"findable_score": 20, "accessible_score": 22, "interoperable_score": 18, "reusable_score": 21, "summary": "ok"}`,
		calls:  map[string]int{},
	}
}

func (f *fakeAI) Model() string { return "claude-sonnet-4-5-20250929" }

func (f *fakeAI) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := llm.Response{Model: f.Model(), Usage: llm.Usage{InputTokens: 1000, OutputTokens: 200}}
	switch req.System {
	case llm.AnalysisSystemPrompt:
		f.calls["analysis"]++
		if len(req.Attachments) != 1 || req.Attachments[0].MIMEType != "application/pdf" {
			return llm.Response{}, errors.New("analysis call without the PDF attached")
		}
		resp.Text = f.analysis
	case llm.ExtractionSystemPrompt:
		f.calls["extraction"]++
		m := tableNumberRe.FindStringSubmatch(req.Prompt)
		if m == nil {
			return llm.Response{}, errors.New("no table number in prompt")
		}
		n, _ := strconv.Atoi(m[1])
		resp.Text = f.tables[n]
	case llm.ReviewSystemPrompt:
		f.calls["review"]++
		resp.Text = f.review
	case llm.FairSystemPrompt:
		f.calls["fair"]++
		if f.fairErr != nil {
			return llm.Response{}, f.fairErr
		}
		resp.Text = f.fair
	default:
		return llm.Response{}, errors.New("unexpected system prompt")
	}
	return resp, nil
}

type fakeText struct{ text string }

func (f fakeText) ExtractPDF(context.Context, []byte) (ocr.ExtractionResult, error) {
	return ocr.ExtractionResult{Text: f.text, Pages: 4, Method: "pdf-text"}, nil
}

type fakeRenderer struct{ pages []int }

func (f *fakeRenderer) RenderPage(_ context.Context, _ []byte, page int) ([]byte, error) {
	f.pages = append(f.pages, page)
	return []byte("\x89PNG page"), nil
}

type env struct {
	runner   *Runner
	ai       *fakeAI
	render   *fakeRenderer
	store    *storage.Local
	sessions repository.SessionRepository
	datasets repository.DatasetRepository
	files    repository.DataFileRepository
	locks    *session.Locker
}

func newEnv(t *testing.T, review bool) *env {
	t.Helper()
	drv := testutil.NewDB(t)
	store, err := storage.NewLocal(t.TempDir(), testutil.Logger())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	e := &env{
		ai:       newFakeAI(),
		render:   &fakeRenderer{},
		store:    store,
		sessions: repository.NewSessionRepository(drv, testutil.Logger()),
		datasets: repository.NewDatasetRepository(drv, testutil.Logger()),
		files:    repository.NewDataFileRepository(drv, testutil.Logger()),
		locks:    session.NewLocker(),
	}
	e.runner = NewRunner(Deps{
		Sessions: e.sessions,
		Datasets: e.datasets,
		Files:    e.files,
		Store:    store,
		AI:       e.ai,
		Text:     fakeText{text: "Table 1. AFT data\nGC-01 120.5 4.2 20\n"},
		Renderer: e.render,
		Locks:    e.locks,
	}, Options{ExtractConcurrency: 2, QualityReview: review, AITimeout: time.Minute}, testutil.Logger())
	return e
}

func (e *env) upload(t *testing.T, sid string) {
	t.Helper()
	ctx := context.Background()
	key := SessionKey(sid, KeyOriginalPDF)
	pdf := testutil.MinimalPDF(4)
	if err := storage.PutBytes(ctx, e.store, storage.BucketExtractions, key, pdf, "application/pdf"); err != nil {
		t.Fatalf("put pdf: %v", err)
	}
	if err := e.sessions.Create(ctx, &entity.Session{
		SessionID:    sid,
		PDFFilename:  "gawler_2021.pdf",
		PDFPath:      key,
		PDFSizeBytes: int64(len(pdf)),
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func (e *env) get(t *testing.T, sid string) *entity.Session {
	t.Helper()
	s, err := e.sessions.GetBySessionID(context.Background(), sid)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return s
}

func TestFullRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	const sid = "extract-RoundTrip1"
	e.upload(t, sid)

	an, err := e.runner.Analyze(ctx, sid)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if an.TablesFound != 2 || an.FiguresFound != 1 || an.Tables[0].TableNumber != 1 {
		t.Fatalf("analyze result: %+v", an)
	}
	if an.PaperMetadata.Year == nil || *an.PaperMetadata.Year != 2021 {
		t.Errorf("year not normalized: %v", an.PaperMetadata.Year)
	}
	s := e.get(t, sid)
	if s.State != constants.StateAnalyzed || s.CurrentStep != 2 || s.TablesFound == nil || *s.TablesFound != 2 {
		t.Fatalf("after analyze: state=%s step=%d tables=%v", s.State, s.CurrentStep, s.TablesFound)
	}
	if len(s.DataTypes) != 2 {
		t.Errorf("data types: %v", s.DataTypes)
	}
	for _, rel := range []string{KeyPlainText, KeyTableIndex, KeyPaperIndex, KeyTablesMD} {
		if _, err := e.store.Stat(ctx, storage.BucketExtractions, SessionKey(sid, rel)); err != nil {
			t.Errorf("artifact %s: %v", rel, err)
		}
	}

	ex, err := e.runner.Extract(ctx, sid, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ex.CSVsExtracted != 1 || len(ex.FailedTables) != 1 || ex.FailedTables[0] != 2 {
		t.Fatalf("extract result: %+v", ex)
	}
	if ex.ExtractionQualityScore == nil || *ex.ExtractionQualityScore != 91.7 {
		t.Errorf("quality score: %v", ex.ExtractionQualityScore)
	}
	if len(e.render.pages) != 1 || e.render.pages[0] != 3 {
		t.Errorf("rendered pages: %v", e.render.pages)
	}
	s = e.get(t, sid)
	if s.State != constants.StateExtracted || s.CurrentStep != 3 || s.CSVsExtracted == nil || *s.CSVsExtracted != 1 {
		t.Fatalf("after extract: state=%s step=%d", s.State, s.CurrentStep)
	}

	ld, err := e.runner.Load(ctx, sid)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ld.AlreadyExists || ld.RecordsImported != 3 || ld.FairScore == nil || *ld.FairScore != 81 || ld.FairGrade != "B" {
		t.Fatalf("load result: %+v", ld)
	}
	s = e.get(t, sid)
	if s.State != constants.StateLoaded || s.CurrentStep != 3 || s.ErrorStage != nil || s.CompletedAt == nil {
		t.Fatalf("after load: state=%s step=%d err=%v", s.State, s.CurrentStep, s.ErrorStage)
	}
	if s.DatasetID == nil || *s.DatasetID != ld.DatasetID {
		t.Errorf("dataset id not stored")
	}

	ds, err := e.datasets.GetByID(ctx, ld.DatasetID)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	if ds.DatasetName != "Apatite fission-track ages of the Gawler Craton" {
		t.Errorf("dataset name %q", ds.DatasetName)
	}
	wantCitation := "A. Smith, B. Jones (2021). Apatite fission-track ages of the Gawler Craton. Tectonics."
	if ds.FullCitation == nil || *ds.FullCitation != wantCitation {
		t.Errorf("citation %v", ds.FullCitation)
	}

	files, err := e.files.ListByDataset(ctx, ld.DatasetID, "")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	// pdf + 1 csv + 1 table screenshot + 4 metadata files
	if len(files) != 7 || ld.FilesUploaded != 7 {
		t.Fatalf("got %d files (%d reported)", len(files), ld.FilesUploaded)
	}
	for _, f := range files {
		if f.Category == constants.CategoryTable && (f.RowCount == nil || *f.RowCount != 3) {
			t.Errorf("csv row count %v", f.RowCount)
		}
		if f.Category == constants.CategoryTableImage && (f.Description == nil || *f.Description != "AFT data") {
			t.Errorf("screenshot description %v", f.Description)
		}
		if _, err := e.store.Stat(ctx, storage.BucketDatasets, f.FilePath); err != nil {
			t.Errorf("published object %s: %v", f.FilePath, err)
		}
	}

	u := s.Usage
	if u.Analysis.Calls != 1 || u.Extraction.Calls != 3 || u.FairAnalysis.Calls != 1 {
		t.Errorf("usage calls: %+v", u)
	}
	if u.Extraction.InputTokens != 3000 {
		t.Errorf("extraction input tokens %d", u.Extraction.InputTokens)
	}
}

func TestExtractAllFailedMarksSessionFailed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	const sid = "extract-AllFailed1"
	e.upload(t, sid)
	if _, err := e.runner.Analyze(ctx, sid); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	e.ai.tables[1] = "Sample\nGC-01\n"

	_, err := e.runner.Extract(ctx, sid, []int{1})
	var se *StageError
	if !errors.As(err, &se) || se.Title() != "Extraction failed" {
		t.Fatalf("got %v, want a StageError", err)
	}
	s := e.get(t, sid)
	if s.State != constants.StateFailed || s.ErrorStage == nil || *s.ErrorStage != constants.ErrorStageExtract {
		t.Fatalf("state=%s error_stage=%v", s.State, s.ErrorStage)
	}
	if s.ErrorMessage == nil || !strings.Contains(*s.ErrorMessage, "column completeness") {
		t.Errorf("error message %v", s.ErrorMessage)
	}
	if s.TablesFound == nil || *s.TablesFound != 2 {
		t.Errorf("analyze outputs lost: %v", s.TablesFound)
	}

	// retry the failed stage
	e.ai.tables[1] = table1CSV
	ex, err := e.runner.Extract(ctx, sid, []int{1})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if ex.CSVsExtracted != 1 {
		t.Errorf("retry result %+v", ex)
	}
	s = e.get(t, sid)
	if s.State != constants.StateExtracted || s.ErrorStage != nil || s.ErrorMessage != nil {
		t.Errorf("after retry: state=%s error=%v", s.State, s.ErrorMessage)
	}
}

func TestAnalyzeParseFailureKeepsDebugResponse(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	const sid = "extract-BadJSON001"
	e.upload(t, sid)
	e.ai.analysis = "I could not read this paper."

	if _, err := e.runner.Analyze(ctx, sid); err == nil {
		t.Fatalf("expected failure")
	}
	b, err := storage.GetBytes(ctx, e.store, storage.BucketExtractions, SessionKey(sid, KeyDebugResponse))
	if err != nil || string(b) != "I could not read this paper." {
		t.Fatalf("debug response: %q, %v", b, err)
	}
	s := e.get(t, sid)
	if s.State != constants.StateFailed || *s.ErrorStage != constants.ErrorStageAnalyze {
		t.Errorf("state=%s", s.State)
	}
	if s.Usage.Analysis.Calls != 1 {
		t.Errorf("failed call not billed: %+v", s.Usage.Analysis)
	}
}

func TestStageGuards(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	const sid = "extract-Guards0001"
	e.upload(t, sid)

	if _, err := e.runner.Extract(ctx, sid, nil); common.CodeOf(err) != codes.FailedPrecondition {
		t.Errorf("extract before analyze: %v", err)
	}
	if _, err := e.runner.Analyze(ctx, "extract-Missing001"); common.CodeOf(err) != codes.NotFound {
		t.Errorf("unknown session: %v", err)
	}

	unlock, _ := e.locks.TryLock(sid)
	if _, err := e.runner.Analyze(ctx, sid); common.CodeOf(err) != codes.Aborted {
		t.Errorf("busy session: %v", err)
	}
	unlock()

	if _, err := e.runner.Analyze(ctx, sid); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, err := e.runner.Extract(ctx, sid, []int{7}); common.CodeOf(err) != codes.InvalidArgument {
		t.Errorf("unknown table: %v", err)
	}
	if s := e.get(t, sid); s.State != constants.StateAnalyzed {
		t.Errorf("rejected request changed state to %s", s.State)
	}
	if _, err := e.runner.Load(ctx, sid); common.CodeOf(err) != codes.FailedPrecondition {
		t.Errorf("load before extract: %v", err)
	}
}

func TestLoadLinksExistingDOIAndSurvivesFairFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	existing := &entity.Dataset{DatasetName: "Earlier import"}
	doi := "10.1029/2021TC006789"
	existing.DOI = &doi
	if err := e.datasets.Create(ctx, existing); err != nil {
		t.Fatalf("seed dataset: %v", err)
	}

	const sid = "extract-LinkDOI001"
	e.upload(t, sid)
	if _, err := e.runner.Analyze(ctx, sid); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, err := e.runner.Extract(ctx, sid, []int{1}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	e.ai.fairErr = errors.New("upstream 529")
	ld, err := e.runner.Load(ctx, sid)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ld.AlreadyExists || ld.DatasetID != existing.ID || ld.FilesUploaded != 0 {
		t.Errorf("load result %+v", ld)
	}
	s := e.get(t, sid)
	if s.State != constants.StateLoaded || s.FairScore != nil {
		t.Errorf("state=%s fair=%v", s.State, s.FairScore)
	}
}

func TestCompleteRefusesDisallowedTransition(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	const sid = "extract-BadEdge001"
	e.upload(t, sid)
	sess := e.get(t, sid)

	s := &run{r: e.runner, stage: session.Load, sess: sess, version: sess.Version, log: testutil.Logger(), start: time.Now()}
	err := s.complete(ctx, map[string]any{"records_imported": 5})
	var se *StageError
	if !errors.As(err, &se) || !strings.Contains(err.Error(), "invalid transition uploaded -> loaded") {
		t.Fatalf("got %v", err)
	}
	got := e.get(t, sid)
	if got.State != constants.StateUploaded || got.Version != sess.Version || got.CompletedAt != nil || got.RecordsImported != nil {
		t.Errorf("refused transition was written: state=%s version=%d", got.State, got.Version)
	}
}

func TestStaleRunningSessionIsTakenOver(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	const sid = "extract-Stale00001"
	e.upload(t, sid)
	if _, err := e.sessions.Advance(ctx, sid, 0, repository.StageUpdate{State: constants.StateAnalyzing}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := e.runner.Analyze(ctx, sid); common.CodeOf(err) != codes.Aborted {
		t.Fatalf("fresh running session: %v", err)
	}

	e.runner.opts.StaleAfter = time.Minute
	e.runner.opts.Now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := e.runner.Analyze(ctx, sid); err != nil {
		t.Fatalf("stale takeover: %v", err)
	}
	if s := e.get(t, sid); s.State != constants.StateAnalyzed {
		t.Errorf("state %s", s.State)
	}
}

func TestExtractDropsCSVsOfEarlierAttempts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	const sid = "extract-Leftover01"
	e.upload(t, sid)
	if _, err := e.runner.Analyze(ctx, sid); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	leftover := ExtractedCSVKey(sid, 2)
	if err := storage.PutBytes(ctx, e.store, storage.BucketExtractions, leftover, []byte("A,B\n1,2\n3,4\n"), "text/csv"); err != nil {
		t.Fatal(err)
	}

	if _, err := e.runner.Extract(ctx, sid, []int{1}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, err := e.store.Stat(ctx, storage.BucketExtractions, leftover); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("leftover csv still present: %v", err)
	}
	ld, err := e.runner.Load(ctx, sid)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ld.RecordsImported != 3 {
		t.Errorf("records imported %d", ld.RecordsImported)
	}
	files, err := e.files.ListByDataset(ctx, ld.DatasetID, constants.CategoryTable)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].FileName != "table_1.csv" {
		t.Errorf("published tables %+v", files)
	}
}

func TestLoadRecordsMissingArtifacts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	const sid = "extract-Missing002"
	e.upload(t, sid)
	if _, err := e.runner.Analyze(ctx, sid); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, err := e.runner.Extract(ctx, sid, []int{1}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if err := e.store.Delete(ctx, storage.BucketExtractions, SessionKey(sid, KeyTablesMD)); err != nil {
		t.Fatal(err)
	}

	ld, err := e.runner.Load(ctx, sid)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ld.FilesMissing != 1 {
		t.Errorf("files missing %d", ld.FilesMissing)
	}
	files, err := e.files.ListByDataset(ctx, ld.DatasetID, constants.CategoryMetadata)
	if err != nil {
		t.Fatal(err)
	}
	var missing []string
	for _, f := range files {
		if f.UploadStatus == constants.UploadStatusMissing {
			missing = append(missing, f.FileName)
			if f.FileSizeBytes != nil {
				t.Errorf("missing file has size %d", *f.FileSizeBytes)
			}
		}
	}
	if len(files) != 4 || len(missing) != 1 || missing[0] != "tables.md" {
		t.Errorf("metadata files %d, missing %v", len(files), missing)
	}
}
