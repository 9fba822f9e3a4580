package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
	"github.com/joseph-ayodele/thermo-extraction/internal/session"
	"github.com/joseph-ayodele/thermo-extraction/internal/storage"
)

// TableOutcome reports what happened to one requested table.
type TableOutcome struct {
	TableNumber int                `json:"table_number"`
	Success     bool               `json:"success"`
	Error       string             `json:"error,omitempty"`
	CSVPath     string             `json:"csv_path,omitempty"`
	Stats       *TableStats        `json:"stats,omitempty"`
	Review      *llm.QualityReview `json:"review,omitempty"`
	Screenshot  bool               `json:"screenshot"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// ExtractResult is the response of the extract stage.
type ExtractResult struct {
	SessionID              string         `json:"sessionId"`
	TablesRequested        int            `json:"tables_requested"`
	CSVsExtracted          int            `json:"csvs_extracted"`
	FailedTables           []int          `json:"failed_tables"`
	ExtractionQualityScore *float64       `json:"extraction_quality_score"`
	Tables                 []TableOutcome `json:"tables"`
}

// Extract converts the requested tables (all analyzed tables when tables is
// empty) into CSV files. Tables are extracted concurrently; a table that
// fails is recorded in failed_tables and does not stop the others.
func (r *Runner) Extract(ctx context.Context, sessionID string, tables []int) (*ExtractResult, error) {
	var targets []llm.TableInfo
	precheck := func(sess *entity.Session) error {
		idx, err := loadTableIndex(ctx, r.d.Store, sess.SessionID)
		if err != nil {
			return err
		}
		targets, err = selectTables(idx, tables)
		return err
	}
	s, release, err := r.begin(ctx, session.Extract, sessionID, precheck)
	if err != nil {
		return nil, err
	}
	defer release()

	// CSVs of an earlier attempt would otherwise be published by load.
	if n, errs := storage.DeletePrefix(ctx, r.d.Store, storage.BucketExtractions, s.key(DirExtracted)); len(errs) > 0 {
		return nil, s.fail(ctx, fmt.Errorf("clear previous extraction: %w", errors.Join(errs...)))
	} else if n > 0 {
		s.log.Info("stage.extract.cleared", "files", n)
	}

	text, err := s.text(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	pdf := sync.OnceValues(func() ([]byte, error) { return s.pdf(ctx) })

	outcomes := make([]TableOutcome, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.ExtractConcurrency)
	for i, t := range targets {
		g.Go(func() error {
			outcomes[i] = s.extractTable(gctx, t, text, pdf)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.fail(ctx, fmt.Errorf("extraction interrupted: %w", err))
	}

	out := &ExtractResult{
		SessionID:       sessionID,
		TablesRequested: len(targets),
		FailedTables:    []int{},
		Tables:          outcomes,
	}
	var (
		completeness float64
		reasons      []string
	)
	for _, o := range outcomes {
		if o.Success {
			out.CSVsExtracted++
			completeness += o.Stats.Completeness
			continue
		}
		out.FailedTables = append(out.FailedTables, o.TableNumber)
		reasons = append(reasons, fmt.Sprintf("table %d: %s", o.TableNumber, o.Error))
	}
	if len(targets) > 0 && out.CSVsExtracted == 0 {
		return nil, s.fail(ctx, fmt.Errorf("no tables could be extracted: %s", strings.Join(reasons, "; ")))
	}
	values := map[string]any{
		"csvs_extracted":           out.CSVsExtracted,
		"failed_tables":            out.FailedTables,
		"extraction_quality_score": nil,
	}
	if out.CSVsExtracted > 0 {
		q := math.Round(completeness/float64(out.CSVsExtracted)*10) / 10
		out.ExtractionQualityScore = &q
		values["extraction_quality_score"] = q
	}
	if err := s.complete(ctx, values); err != nil {
		return nil, err
	}
	return out, nil
}

// selectTables resolves the requested numbers against the analysis. An empty
// request selects every table.
func selectTables(idx TableIndex, requested []int) ([]llm.TableInfo, error) {
	if len(requested) == 0 {
		out := make([]llm.TableInfo, 0, len(idx.Tables))
		for _, t := range idx.Tables {
			out = append(out, t.TableInfo)
		}
		return out, nil
	}
	var (
		out     []llm.TableInfo
		unknown []string
		seen    = map[int]bool{}
	)
	for _, n := range requested {
		if seen[n] {
			continue
		}
		seen[n] = true
		t, ok := idx.Table(n)
		if !ok {
			unknown = append(unknown, fmt.Sprint(n))
			continue
		}
		out = append(out, t)
	}
	if len(unknown) > 0 {
		return nil, common.InvalidArgumentErrorf("Unknown table numbers: %s", strings.Join(unknown, ", "))
	}
	slices.SortFunc(out, func(a, b llm.TableInfo) int { return a.TableNumber - b.TableNumber })
	return out, nil
}

// extractTable runs one table through AI extraction, parsing, the quality
// thresholds and the optional review, and stores the CSV on success.
func (s *run) extractTable(ctx context.Context, t llm.TableInfo, text string, pdf func() ([]byte, error)) TableOutcome {
	o := TableOutcome{TableNumber: t.TableNumber}
	log := s.log.With("table", t.TableNumber)
	failed := func(err error) TableOutcome {
		o.Error = err.Error()
		log.Warn("stage.extract.table_failed", "error", err)
		return o
	}

	shot, warn := s.screenshot(ctx, t, pdf)
	if warn != "" {
		o.Warnings = append(o.Warnings, warn)
	}
	req := llm.Request{
		System:      llm.ExtractionSystemPrompt,
		Prompt:      llm.BuildExtractionPrompt(t, text, s.sess.PDFFilename, shot != nil),
		MaxTokens:   llm.ExtractionMaxTokens,
		Temperature: llm.DefaultTemperature,
	}
	if shot != nil {
		o.Screenshot = true
		req.Attachments = []llm.Attachment{*shot}
	}
	resp, err := s.call(ctx, req)
	if err != nil {
		return failed(err)
	}
	csvText := llm.StripFences(resp.Text)
	table, err := ParseCSV(csvText)
	if err != nil {
		return failed(err)
	}
	st := table.Stats()
	o.Stats = &st
	if err := CheckQuality(st, t.EstimatedColumns); err != nil {
		return failed(err)
	}

	body, err := table.Bytes()
	if err != nil {
		return failed(fmt.Errorf("encode csv: %w", err))
	}
	if s.r.opts.QualityReview {
		review, err := s.review(ctx, t, string(body), st, text)
		switch {
		case err != nil:
			o.Warnings = append(o.Warnings, "quality review unavailable: "+err.Error())
		case !review.Passed():
			o.Review = &review
			return failed(fmt.Errorf("quality review rejected table (score %.0f, recommendation %q)",
				review.QualityScore, review.Recommendation))
		default:
			o.Review = &review
		}
	}

	key := ExtractedCSVKey(s.sess.SessionID, t.TableNumber)
	if err := storage.PutBytes(ctx, s.r.d.Store, storage.BucketExtractions, key, body, "text/csv"); err != nil {
		return failed(fmt.Errorf("store csv: %w", err))
	}
	o.Success = true
	o.CSVPath = key
	log.Info("stage.extract.table_ok", "rows", st.Rows, "columns", st.Columns, "completeness", st.Completeness)
	return o
}

// review asks the AI backend to grade an extracted table. A malformed verdict
// is reported as an error and the caller keeps the table.
func (s *run) review(ctx context.Context, t llm.TableInfo, csv string, st TableStats, text string) (llm.QualityReview, error) {
	resp, err := s.call(ctx, llm.Request{
		System: llm.ReviewSystemPrompt,
		Prompt: llm.BuildReviewPrompt(llm.ReviewInput{
			Table:        t,
			CSV:          csv,
			Rows:         st.Rows,
			Columns:      st.Columns,
			Completeness: st.Completeness,
			PDFText:      text,
		}),
		MaxTokens:   llm.ReviewMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return llm.QualityReview{}, err
	}
	return llm.ParseReview(resp.Text)
}

// screenshot finds the uploaded screenshot of table t. Without one, the
// table's page is rendered (when a renderer is configured and the page is
// known) and stored so load can publish it.
func (s *run) screenshot(ctx context.Context, t llm.TableInfo, pdf func() ([]byte, error)) (*llm.Attachment, string) {
	for _, ext := range []string{"png", "jpg"} {
		key := ScreenshotKey(s.sess.SessionID, "table", t.TableNumber, ext)
		b, err := storage.GetBytes(ctx, s.r.d.Store, storage.BucketExtractions, key)
		if err == nil {
			mt := "image/png"
			if ext == "jpg" {
				mt = "image/jpeg"
			}
			return &llm.Attachment{MIMEType: mt, Data: b}, ""
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Sprintf("screenshot unavailable: %v", err)
		}
	}
	if s.r.d.Renderer == nil || t.PageNumber == nil {
		return nil, ""
	}
	doc, err := pdf()
	if err != nil {
		return nil, fmt.Sprintf("page render skipped: %v", err)
	}
	png, err := s.r.d.Renderer.RenderPage(ctx, doc, *t.PageNumber)
	if err != nil {
		return nil, fmt.Sprintf("page render failed: %v", err)
	}
	key := ScreenshotKey(s.sess.SessionID, "table", t.TableNumber, "png")
	if err := storage.PutBytes(ctx, s.r.d.Store, storage.BucketExtractions, key, png, "image/png"); err != nil {
		s.log.Warn("stage.extract.screenshot_store_failed", "table", t.TableNumber, "error", err)
	}
	return &llm.Attachment{MIMEType: "image/png", Data: png}, ""
}
