package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
	"github.com/joseph-ayodele/thermo-extraction/internal/session"
)

// AnalyzeResult is the response of the analyze stage.
type AnalyzeResult struct {
	SessionID     string            `json:"sessionId"`
	PaperMetadata llm.PaperMetadata `json:"paper_metadata"`
	TablesFound   int               `json:"tables_found"`
	FiguresFound  int               `json:"figures_found"`
	Tables        []llm.TableInfo   `json:"tables"`
	Figures       []llm.FigureInfo  `json:"figures"`
	TextMethod    string            `json:"text_method"`
	Pages         int               `json:"pages"`
}

var errNoText = errors.New("no text could be extracted from the PDF")

// Analyze extracts the paper text, asks the AI backend for citation metadata
// and the table/figure inventory, and stores the index artifacts.
func (r *Runner) Analyze(ctx context.Context, sessionID string) (*AnalyzeResult, error) {
	s, release, err := r.begin(ctx, session.Analyze, sessionID, nil)
	if err != nil {
		return nil, err
	}
	defer release()

	pdf, err := s.pdf(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	text, err := r.d.Text.ExtractPDF(ctx, pdf)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("extract PDF text: %w", err))
	}
	if strings.TrimSpace(text.Text) == "" {
		return nil, s.fail(ctx, errNoText)
	}
	s.log.Info("stage.analyze.text", "method", text.Method, "pages", text.Pages, "chars", len(text.Text))

	resp, err := s.call(ctx, llm.Request{
		System:      llm.AnalysisSystemPrompt,
		Prompt:      llm.BuildAnalysisPrompt(text.Text, s.sess.PDFFilename),
		Attachments: []llm.Attachment{{MIMEType: "application/pdf", Data: pdf}},
		MaxTokens:   llm.AnalysisMaxTokens,
		Temperature: llm.DefaultTemperature,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	analysis, _, err := llm.ParseAnalysis(resp.Text, s.log)
	if err != nil {
		if perr := s.put(ctx, KeyDebugResponse, []byte(resp.Text), "text/plain"); perr != nil {
			s.log.Warn("stage.analyze.debug_write_failed", "error", perr)
		}
		return nil, s.fail(ctx, fmt.Errorf("failed to parse AI response: %w", err))
	}

	now := r.opts.Now()
	idx, err := json.MarshalIndent(newTableIndex(analysis, now), "", "  ")
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("encode table index: %w", err))
	}
	artifacts := []struct {
		rel, contentType string
		body             []byte
	}{
		{KeyPlainText, "text/plain", []byte(text.Text)},
		{KeyTableIndex, "application/json", idx},
		{KeyPaperIndex, "text/markdown", []byte(paperIndexMarkdown(analysis, s.sess.PDFFilename, now))},
		{KeyTablesMD, "text/markdown", []byte(tablesMarkdown(analysis.Tables))},
	}
	for _, a := range artifacts {
		if err := s.put(ctx, a.rel, a.body, a.contentType); err != nil {
			return nil, s.fail(ctx, err)
		}
	}

	meta, err := json.Marshal(analysis.PaperMetadata)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("encode paper metadata: %w", err))
	}
	dataTypes := analysis.DataTypes()
	if dataTypes == nil {
		dataTypes = []string{}
	}
	if err := s.complete(ctx, map[string]any{
		"paper_metadata": json.RawMessage(meta),
		"tables_found":   len(analysis.Tables),
		"data_types":     dataTypes,
	}); err != nil {
		return nil, err
	}

	out := &AnalyzeResult{
		SessionID:     sessionID,
		PaperMetadata: analysis.PaperMetadata,
		TablesFound:   len(analysis.Tables),
		FiguresFound:  len(analysis.Figures),
		Tables:        analysis.Tables,
		Figures:       analysis.Figures,
		TextMethod:    text.Method,
		Pages:         text.Pages,
	}
	if out.Tables == nil {
		out.Tables = []llm.TableInfo{}
	}
	if out.Figures == nil {
		out.Figures = []llm.FigureInfo{}
	}
	return out, nil
}
