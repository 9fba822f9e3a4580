package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
	"github.com/joseph-ayodele/thermo-extraction/internal/export"
	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
	"github.com/joseph-ayodele/thermo-extraction/internal/ocr"
	"github.com/joseph-ayodele/thermo-extraction/internal/pipeline"
	"github.com/joseph-ayodele/thermo-extraction/internal/repository"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/analytics"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/dataset"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/extraction"
	"github.com/joseph-ayodele/thermo-extraction/internal/session"
	"github.com/joseph-ayodele/thermo-extraction/internal/storage"
	"github.com/joseph-ayodele/thermo-extraction/internal/testutil"
)

const analysisReply = `{
  "paper_metadata": {"title": "Cooling history of the Ruby Range", "authors": ["C. Lee"], "year": 2018, "doi": "10.1000/ruby"},
  "tables": [{"table_number": 1, "caption": "AHe data", "estimated_columns": 3, "data_type": "AHe"}],
  "figures": []
}`

type scriptedAI struct{}

func (scriptedAI) Model() string { return "claude-sonnet-4-5" }

func (scriptedAI) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	resp := llm.Response{Usage: llm.Usage{InputTokens: 500, OutputTokens: 100}}
	switch req.System {
	case llm.AnalysisSystemPrompt:
		resp.Text = analysisReply
	case llm.ExtractionSystemPrompt:
		resp.Text = "Sample,Age,Error\nRR-1,12.1,0.4\nRR-2,14.3,0.6\n"
	case llm.FairSystemPrompt:
		resp.Text = `{"findable_score": 25, "accessible_score": 20, "interoperable_score": 15, "reusable_score": 20}`
	default:
		return llm.Response{}, errors.New("unexpected prompt")
	}
	return resp, nil
}

type staticText struct{}

func (staticText) ExtractPDF(context.Context, []byte) (ocr.ExtractionResult, error) {
	return ocr.ExtractionResult{Text: "Table 1. AHe data\nRR-1 12.1 0.4\n", Pages: 1, Method: "pdf-text"}, nil
}

type harness struct {
	srv      *httptest.Server
	sessions repository.SessionRepository
	configs  repository.TestConfigRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	drv := testutil.NewDB(t)
	log := testutil.Logger()
	store, err := storage.NewLocal(t.TempDir(), log)
	if err != nil {
		t.Fatal(err)
	}
	sessions := repository.NewSessionRepository(drv, log)
	datasets := repository.NewDatasetRepository(drv, log)
	files := repository.NewDataFileRepository(drv, log)
	configs := repository.NewTestConfigRepository(drv, log)

	runner := pipeline.NewRunner(pipeline.Deps{
		Sessions: sessions,
		Datasets: datasets,
		Files:    files,
		Store:    store,
		AI:       scriptedAI{},
		Text:     staticText{},
		Locks:    session.NewLocker(),
	}, pipeline.Options{ExtractConcurrency: 1, AITimeout: time.Minute}, log)

	const maxUpload = 1 << 20
	s := New(Services{
		Sessions:  extraction.NewService(sessions, store, extraction.Limits{MaxUploadBytes: maxUpload, DirectMaxBytes: maxUpload}, log),
		Runner:    runner,
		Datasets:  dataset.NewService(datasets, files, store, log),
		Export:    export.NewService(datasets, files, store, log),
		Analytics: analytics.NewService(configs, log),
		Ping:      func(ctx context.Context) error { return PingDB(ctx, drv, log, time.Second) },
	}, Options{MaxUploadBytes: maxUpload}, log)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, sessions: sessions, configs: configs}
}

func (h *harness) do(t *testing.T, method, path, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func multipartPDF(t *testing.T, field, mimeType string, data []byte) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="ruby.pdf"`)
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()
	return mw.FormDataContentType(), buf.Bytes()
}

func decode(t *testing.T, body []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func TestRoundTrip(t *testing.T) {
	h := newHarness(t)

	ct, body := multipartPDF(t, "pdf", "application/pdf", testutil.MinimalPDF(1))
	resp, out := h.do(t, http.MethodPost, "/api/extraction/upload", ct, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d %s", resp.StatusCode, out)
	}
	var up extraction.UploadResult
	decode(t, out, &up)
	sid := up.SessionID
	if resp.Header.Get("X-Request-ID") == "" {
		t.Errorf("missing request id header")
	}

	for _, stage := range []string{"analyze", "extract", "load"} {
		resp, out := h.do(t, http.MethodPost, "/api/extraction/"+sid+"/"+stage, "application/json", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d %s", stage, resp.StatusCode, out)
		}
	}

	resp, out = h.do(t, http.MethodGet, "/api/extraction/"+sid, "", nil)
	var got struct{ Session entity.Session }
	decode(t, out, &got)
	if got.Session.State != constants.StateLoaded || got.Session.CurrentStep != 3 || got.Session.ErrorStage != nil {
		t.Fatalf("session after round trip: %+v", got.Session)
	}
	if got.Session.DatasetID == nil || got.Session.RecordsImported == nil || *got.Session.RecordsImported != 2 {
		t.Fatalf("load outputs: %+v", got.Session)
	}

	resp, out = h.do(t, http.MethodGet, "/api/extraction/"+sid+"/costs", "", nil)
	var costs struct {
		Total       float64 `json:"total"`
		TotalTokens int64   `json:"total_tokens"`
	}
	decode(t, out, &costs)
	if resp.StatusCode != http.StatusOK || costs.TotalTokens != 1800 || costs.Total <= 0 {
		t.Errorf("costs: %d %s", resp.StatusCode, out)
	}

	dsid := got.Session.DatasetID.String()
	resp, out = h.do(t, http.MethodGet, "/api/datasets/"+dsid+"/files", "", nil)
	var list struct {
		Files []entity.DataFile `json:"files"`
	}
	decode(t, out, &list)
	if resp.StatusCode != http.StatusOK || len(list.Files) == 0 {
		t.Fatalf("files: %d %s", resp.StatusCode, out)
	}
	var csvID string
	for _, f := range list.Files {
		if f.Category == constants.CategoryTable {
			csvID = f.ID.String()
		}
	}
	resp, out = h.do(t, http.MethodGet, "/api/datasets/files/"+csvID, "", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/csv" ||
		!strings.HasPrefix(resp.Header.Get("Content-Disposition"), "attachment;") || !strings.Contains(string(out), "RR-2") {
		t.Errorf("download: %d %v %q", resp.StatusCode, resp.Header, out)
	}

	resp, out = h.do(t, http.MethodGet, "/api/datasets/"+dsid+"/download-all", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("zip: %d %s", resp.StatusCode, out)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "cooling-history-of-the-ruby-range-data.zip") {
		t.Errorf("zip name: %q", cd)
	}
	if _, err := zip.NewReader(bytes.NewReader(out), int64(len(out))); err != nil {
		t.Errorf("zip body: %v", err)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/datasets/"+dsid+"/workbook", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("workbook: %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodDelete, "/api/extraction/"+sid, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, out = h.do(t, http.MethodGet, "/api/extraction/"+sid, "", nil)
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(out), "Session not found") {
		t.Errorf("get after delete: %d %s", resp.StatusCode, out)
	}
}

func TestUploadValidation(t *testing.T) {
	h := newHarness(t)
	pdf := testutil.MinimalPDF(1)
	cases := []struct {
		name  string
		field string
		mime  string
		data  []byte
		want  string
	}{
		{"wrong type", "pdf", "image/png", pdf, "Invalid file type"},
		{"oversized", "pdf", "application/pdf", bytes.Repeat([]byte("a"), 3<<20), "File too large"},
		{"missing file", "document", "application/pdf", pdf, "No PDF file provided"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ct, body := multipartPDF(t, tc.field, tc.mime, tc.data)
			resp, out := h.do(t, http.MethodPost, "/api/extraction/upload", ct, body)
			if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(out), tc.want) {
				t.Errorf("got %d %s, want 400 %q", resp.StatusCode, out, tc.want)
			}
		})
	}
	counts, err := h.sessions.CountByState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for st, n := range counts {
		if n != 0 {
			t.Errorf("%s has %d sessions", st, n)
		}
	}
}

func TestStageErrors(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/api/extraction/extract-abcdefghij/analyze", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: %d", resp.StatusCode)
	}

	ct, body := multipartPDF(t, "pdf", "application/pdf", testutil.MinimalPDF(1))
	_, out := h.do(t, http.MethodPost, "/api/extraction/upload", ct, body)
	var up extraction.UploadResult
	decode(t, out, &up)
	resp, out = h.do(t, http.MethodPost, "/api/extraction/"+up.SessionID+"/load", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("load from uploaded: %d %s", resp.StatusCode, out)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/extraction/"+up.SessionID+"/extract", "application/json", []byte(`{"tables": "all"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: %d", resp.StatusCode)
	}
}

func TestMalformedSessionID(t *testing.T) {
	h := newHarness(t)
	for _, c := range []struct{ method, path string }{
		{http.MethodGet, "/api/extraction/not-a-session"},
		{http.MethodDelete, "/api/extraction/extract-short"},
		{http.MethodGet, "/api/extraction/extract-abc.defghi/costs"},
		{http.MethodPost, "/api/extraction/session1/analyze"},
	} {
		resp, out := h.do(t, c.method, c.path, "", nil)
		var body errorBody
		decode(t, out, &body)
		if resp.StatusCode != http.StatusBadRequest || body.Error != "Invalid session id" {
			t.Errorf("%s %s: %d %s", c.method, c.path, resp.StatusCode, out)
		}
	}
}

func TestServerErrorCarriesRequestID(t *testing.T) {
	s := New(Services{}, Options{}, testutil.Logger())
	req := httptest.NewRequest(http.MethodGet, "/api/extraction", nil)
	req = req.WithContext(common.WithRequestID(req.Context(), "req-42"))

	rec := httptest.NewRecorder()
	s.writeError(rec, req, errors.New("db down"), "Failed to list sessions")
	var body errorBody
	decode(t, rec.Body.Bytes(), &body)
	if rec.Code != http.StatusInternalServerError || body.Error != "Failed to list sessions" || body.RequestID != "req-42" {
		t.Errorf("server error: %d %+v", rec.Code, body)
	}

	rec = httptest.NewRecorder()
	s.writeError(rec, req, common.NotFoundError("Session not found"), "")
	body = errorBody{}
	decode(t, rec.Body.Bytes(), &body)
	if rec.Code != http.StatusNotFound || body.RequestID != "" {
		t.Errorf("client error: %d %+v", rec.Code, body)
	}
}

func TestAnalyticsErrors(t *testing.T) {
	h := newHarness(t)
	resp, out := h.do(t, http.MethodGet, "/api/analytics/stats", "", nil)
	var body statsErrorBody
	decode(t, out, &body)
	if resp.StatusCode != http.StatusNotFound || body.ErrorType != "NO_DATA" {
		t.Errorf("empty: %d %s", resp.StatusCode, out)
	}

	cv := 42.0
	if err := h.configs.Create(context.Background(), &entity.TestConfig{ManufacturerID: 1, AssayID: 1, Curated: true, CVLt10Percentage: &cv}); err != nil {
		t.Fatal(err)
	}
	resp, out = h.do(t, http.MethodGet, "/api/analytics/stats?dataset=curated", "", nil)
	body = statsErrorBody{}
	decode(t, out, &body)
	if resp.StatusCode != http.StatusUnprocessableEntity || body.ErrorType != "INSUFFICIENT_DATA" ||
		body.DataPoints == nil || *body.DataPoints != 1 || body.MinimumRequired == nil || *body.MinimumRequired != 3 {
		t.Errorf("insufficient: %d %s", resp.StatusCode, out)
	}

	resp, _ = h.do(t, http.MethodGet, "/api/analytics/stats?manufacturerId=x", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad filter: %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp, out := h.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(out), "ok") {
		t.Errorf("healthz: %d %s", resp.StatusCode, out)
	}
}
