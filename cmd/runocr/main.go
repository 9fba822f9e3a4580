package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/ocr"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	page := flag.Int("page", 0, "also render this 1-based page to PNG")
	png := flag.String("png", "page.png", "output path for -page")
	flag.Parse()
	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [-page N -png out.png] <paper.pdf>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	pdf, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read pdf", "path", path, "error", err)
		os.Exit(1)
	}
	pages, err := ocr.PageCount(pdf)
	if err != nil {
		logger.Error("not a readable PDF", "path", path, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := common.LoadConfig().OCR
	x := ocr.NewExtractor(ocr.Config{
		Pdftotext:   cfg.Pdftotext,
		Pdftoppm:    cfg.Pdftoppm,
		Tesseract:   cfg.Tesseract,
		TessdataDir: cfg.TessdataDir,
	}, logger)

	start := time.Now()
	res, err := x.ExtractPDF(ctx, pdf)
	dur := time.Since(start)
	if err != nil {
		logger.Error("text extraction failed", "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}
	logger.Info("text extraction OK",
		"method", res.Method,
		"pages", res.Pages,
		"pages_parsed", pages,
		"bytes", len(res.Text),
		"warnings", len(res.Warnings),
		"duration_ms", dur.Milliseconds(),
	)

	if *page > 0 {
		img, err := x.RenderPage(ctx, pdf, *page)
		if err != nil {
			logger.Error("render failed", "page", *page, "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*png, img, 0o644); err != nil {
			logger.Error("write png", "path", *png, "error", err)
			os.Exit(1)
		}
		logger.Info("page rendered", "page", *page, "path", *png, "bytes", len(img))
	}
}
