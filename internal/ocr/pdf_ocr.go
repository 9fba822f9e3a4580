package ocr

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

func (e *Extractor) pdfToText(ctx context.Context, path string) (text string, pages int, warnings []string, err error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", 0, []string{string(errb)}, err
	}
	text = string(out)
	// A form-feed \f is used as page separator by default
	pages = strings.Count(strings.TrimRight(text, "\f\n"), "\f") + 1
	return text, pages, nil, nil
}

func (e *Extractor) pdfToOCR(ctx context.Context, path string) (text string, pages int, warnings []string, err error) {
	prefix := filepath.Join(filepath.Dir(path), "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	args := []string{"-r", fmt.Sprintf("%d", e.cfg.DPI), "-png"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", fmt.Sprint(e.cfg.MaxPages))
	}
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, append(args, path, prefix)...)
	if err != nil {
		return "", 0, []string{string(errb)}, err
	}

	// collect generated pngs (page-1.png, page-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", 0, []string{"pdftoppm produced no images"}, fmt.Errorf("no pages rendered")
	}

	var b strings.Builder
	var warns []string
	for _, img := range matches {
		txt, err := e.tesseractOCR(ctx, img)
		if err != nil {
			warns = append(warns, err.Error())
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.WriteString(txt)
	}
	if b.Len() == 0 {
		return "", len(matches), warns, fmt.Errorf("tesseract produced no text")
	}
	return b.String(), len(matches), warns, nil
}

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, error) {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	return reBoxNoise.ReplaceAllString(string(out), ""), nil
}
