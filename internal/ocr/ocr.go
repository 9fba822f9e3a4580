// Package ocr turns uploaded PDFs into text with poppler and tesseract, and
// renders single pages to PNG.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI for scanned PDFs, default 300
	MaxPages      int    // 0 = no limit
	TessdataDir   string

	// MinCharsPerPage below which the text layer is treated as missing and
	// the PDF is OCRed instead. Default 200.
	MinCharsPerPage int
}

type ExtractionResult struct {
	Text     string
	Pages    int
	Method   string // "pdf-text" | "pdf-ocr"
	Duration time.Duration
	Warnings []string
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	return NewExtractorWithRunner(cfg, execRunner{}, logger)
}

// NewExtractorWithRunner lets tests stub the external commands.
func NewExtractorWithRunner(cfg Config, r Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinCharsPerPage <= 0 {
		cfg.MinCharsPerPage = 200
	}
	return &Extractor{cfg: cfg, runner: r, logger: logger}
}

// ExtractPDF returns the text of a PDF. The embedded text layer is used when
// it is dense enough, otherwise the pages are rasterized and OCRed.
func (e *Extractor) ExtractPDF(ctx context.Context, pdf []byte) (ExtractionResult, error) {
	start := time.Now()
	path, cleanup, err := writeTemp(pdf)
	if err != nil {
		return ExtractionResult{}, err
	}
	defer cleanup()

	text, pages, warns, err := e.pdfToText(ctx, path)
	if err == nil && len(Normalize(text)) >= e.cfg.MinCharsPerPage*max(pages, 1)/2 {
		e.logger.Debug("ocr.pdf_text.ok", "pages", pages, "chars", len(text))
		return ExtractionResult{
			Text:     Normalize(text),
			Pages:    pages,
			Method:   "pdf-text",
			Duration: time.Since(start),
			Warnings: warns,
		}, nil
	}
	if err != nil {
		e.logger.Warn("ocr.pdf_text.failed", "error", err)
		warns = append(warns, err.Error())
	} else {
		e.logger.Info("ocr.pdf_text.sparse", "pages", pages, "chars", len(text))
	}

	ocrText, ocrPages, ocrWarns, ocrErr := e.pdfToOCR(ctx, path)
	warns = append(warns, ocrWarns...)
	if ocrErr != nil {
		if err == nil && text != "" {
			// keep the sparse text layer rather than failing the stage
			return ExtractionResult{Text: Normalize(text), Pages: pages, Method: "pdf-text", Duration: time.Since(start), Warnings: append(warns, ocrErr.Error())}, nil
		}
		return ExtractionResult{Warnings: warns, Duration: time.Since(start)}, fmt.Errorf("extract pdf text: %w", ocrErr)
	}
	e.logger.Info("ocr.pdf_ocr.ok", "pages", ocrPages, "chars", len(ocrText))
	return ExtractionResult{
		Text:     Normalize(ocrText),
		Pages:    ocrPages,
		Method:   "pdf-ocr",
		Duration: time.Since(start),
		Warnings: warns,
	}, nil
}

// RenderPage rasterizes one 1-based page to PNG.
func (e *Extractor) RenderPage(ctx context.Context, pdf []byte, page int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("invalid page %d", page)
	}
	path, cleanup, err := writeTemp(pdf)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	prefix := filepath.Join(filepath.Dir(path), "render")
	p := fmt.Sprint(page)
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", "150", "-png", "-f", p, "-l", p, "-singlefile", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, truncate(string(errb), 512))
	}
	b, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page: %w", err)
	}
	return b, nil
}

func writeTemp(pdf []byte) (string, func(), error) {
	dir, err := os.MkdirTemp("", "thermo-pdf-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	path := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write temp pdf: %w", err)
	}
	return path, cleanup, nil
}
