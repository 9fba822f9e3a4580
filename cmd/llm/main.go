package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joseph-ayodele/thermo-extraction/internal/app"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/costs"
	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
	"github.com/joseph-ayodele/thermo-extraction/internal/ocr"
)

// Runs the paper analysis call against the configured provider a number of
// times without touching the database, to compare answers and cost.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: llm <paper.pdf> [times]")
		os.Exit(2)
	}
	path := os.Args[1]
	times := 3
	if len(os.Args) >= 3 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			times = n
		}
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	pdf, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read pdf", "path", path, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(times)*cfg.AI.Timeout+2*time.Minute)
	defer cancel()

	extractor := ocr.NewExtractor(ocr.Config{
		Pdftotext:   cfg.OCR.Pdftotext,
		Pdftoppm:    cfg.OCR.Pdftoppm,
		Tesseract:   cfg.OCR.Tesseract,
		TessdataDir: cfg.OCR.TessdataDir,
	}, logger)
	text, err := extractor.ExtractPDF(ctx, pdf)
	if err != nil {
		logger.Error("extract text", "error", err)
		os.Exit(1)
	}

	client, closeClient, err := app.NewAIClient(ctx, cfg.AI, logger)
	if err != nil {
		logger.Error("create AI client", "provider", cfg.AI.Provider, "error", err)
		os.Exit(1)
	}
	defer closeClient()

	base := filepath.Base(path)
	var totalIn, totalOut int64
	for i := 1; i <= times; i++ {
		runCtx, cancelRun := context.WithTimeout(ctx, cfg.AI.Timeout)
		start := time.Now()
		logger.Info("analysis.run.start", "iter", i, "file", base, "model", client.Model())

		resp, err := client.Complete(runCtx, llm.Request{
			System:      llm.AnalysisSystemPrompt,
			Prompt:      llm.BuildAnalysisPrompt(text.Text, base),
			Attachments: []llm.Attachment{{MIMEType: "application/pdf", Data: pdf}},
			MaxTokens:   llm.AnalysisMaxTokens,
			Temperature: llm.DefaultTemperature,
		})
		cancelRun()
		if err != nil {
			logger.Error("analysis.run.error", "iter", i, "err", err)
			continue
		}
		totalIn += resp.Usage.InputTokens
		totalOut += resp.Usage.OutputTokens

		analysis, _, err := llm.ParseAnalysis(resp.Text, logger)
		if err != nil {
			logger.Error("analysis.run.unparseable", "iter", i, "err", err, "chars", len(resp.Text))
			continue
		}
		logger.Info("analysis.run.ok",
			"iter", i,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"title", analysis.PaperMetadata.Title,
			"doi", analysis.PaperMetadata.DOI,
			"tables", len(analysis.Tables),
			"figures", len(analysis.Figures),
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens)
	}

	logger.Info("done",
		"file", base,
		"times", times,
		"text_method", text.Method,
		"input_tokens", totalIn,
		"output_tokens", totalOut,
		"cost_usd", costs.Cost(totalIn, totalOut, client.Model()))
}
