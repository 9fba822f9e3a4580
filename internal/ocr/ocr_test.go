package ocr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/joseph-ayodele/thermo-extraction/internal/testutil"
)

type fakeRunner struct {
	text     string
	textErr  error
	ocrPages int
	ocrText  string
	calls    []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, name)
	switch name {
	case "pdftotext":
		return []byte(f.text), nil, f.textErr
	case "pdftoppm":
		prefix := args[len(args)-1]
		for _, a := range args {
			if a == "-singlefile" {
				return nil, nil, os.WriteFile(prefix+".png", []byte("png"), 0o600)
			}
		}
		for i := 1; i <= f.ocrPages; i++ {
			if err := os.WriteFile(prefix+"-"+string(rune('0'+i))+".png", []byte("png"), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		return []byte(f.ocrText), nil, nil
	}
	return nil, []byte("unknown command"), errors.New("exit 127")
}

func newTestExtractor(r Runner) *Extractor {
	return NewExtractorWithRunner(Config{}, r, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtractPDFUsesTextLayer(t *testing.T) {
	r := &fakeRunner{text: strings.Repeat("Sample  Age (Ma)  1σ\r\n", 30) + "\f"}
	res, err := newTestExtractor(r).ExtractPDF(context.Background(), []byte("%PDF"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Method != "pdf-text" || res.Pages != 1 {
		t.Errorf("method %s pages %d", res.Method, res.Pages)
	}
	if strings.Contains(res.Text, "\r") || !strings.Contains(res.Text, "Sample  Age") {
		t.Errorf("layout spacing or line endings not preserved: %q", res.Text[:40])
	}
	if len(r.calls) != 1 {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestExtractPDFFallsBackToOCR(t *testing.T) {
	r := &fakeRunner{text: "\f\f", ocrPages: 2, ocrText: "Table 1 Apatite fission track data"}
	res, err := newTestExtractor(r).ExtractPDF(context.Background(), []byte("%PDF"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Method != "pdf-ocr" || res.Pages != 2 {
		t.Errorf("method %s pages %d", res.Method, res.Pages)
	}
	if strings.Count(res.Text, "Apatite") != 2 {
		t.Errorf("text = %q", res.Text)
	}
}

func TestExtractPDFFailsWhenNothingWorks(t *testing.T) {
	r := &fakeRunner{textErr: errors.New("exit 1")}
	if _, err := newTestExtractor(r).ExtractPDF(context.Background(), []byte("%PDF")); err == nil {
		t.Fatal("expected error")
	}
}

func TestRenderPage(t *testing.T) {
	e := newTestExtractor(&fakeRunner{})
	b, err := e.RenderPage(context.Background(), []byte("%PDF"), 4)
	if err != nil || string(b) != "png" {
		t.Fatalf("got %q, %v", b, err)
	}
	if _, err := e.RenderPage(context.Background(), []byte("%PDF"), 0); err == nil {
		t.Error("expected error for page 0")
	}
}

func TestPageCount(t *testing.T) {
	n, err := PageCount(testutil.MinimalPDF(3))
	if err != nil {
		t.Fatalf("page count: %v", err)
	}
	if n != 3 {
		t.Errorf("got %d pages, want 3", n)
	}
	if _, err := PageCount([]byte("not a pdf at all")); err == nil {
		t.Error("expected error for garbage")
	}
	if _, err := PageCount(nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestNormalizeKeepsColumns(t *testing.T) {
	in := "A    B   \r\n\r\n\r\n\r\n\r\nC"
	if got := Normalize(in); got != "A    B\n\n\nC" {
		t.Errorf("got %q", got)
	}
}
