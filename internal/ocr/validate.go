package ocr

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageCount parses the document in relaxed mode and returns its page count.
// An error means the bytes are not a readable PDF.
func PageCount(pdf []byte) (int, error) {
	if len(pdf) == 0 {
		return 0, fmt.Errorf("empty pdf")
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(pdf), conf)
	if err != nil {
		return 0, fmt.Errorf("invalid pdf: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid pdf: no pages")
	}
	return n, nil
}
