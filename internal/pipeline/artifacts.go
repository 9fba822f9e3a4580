package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
)

// Artifact keys relative to the session root in the extractions bucket.
const (
	KeyOriginalPDF   = "original.pdf"
	KeyPlainText     = "text/plain-text.txt"
	KeyTableIndex    = "table-index.json"
	KeyPaperIndex    = "paper-index.md"
	KeyTablesMD      = "tables.md"
	KeyDebugResponse = "debug-failed-response.txt"
	DirExtracted     = "extracted/"
	DirTableImages   = "images/tables/"
	DirFigureImages  = "images/figures/"
)

// SessionKey joins a session id and a relative artifact key.
func SessionKey(sessionID, rel string) string {
	return sessionID + "/" + rel
}

// ExtractedCSVKey is where table n's CSV is stored.
func ExtractedCSVKey(sessionID string, n int) string {
	return SessionKey(sessionID, fmt.Sprintf("%stable_%d.csv", DirExtracted, n))
}

// ScreenshotKey is where a table or figure screenshot is stored. kind is
// "table" or "figure", ext "png" or "jpg".
func ScreenshotKey(sessionID, kind string, n int, ext string) string {
	return SessionKey(sessionID, fmt.Sprintf("images/%ss/%s-%d.%s", kind, kind, n, ext))
}

// TableIndex is the table-index.json artifact written by analyze and read
// back by extract and load.
type TableIndex struct {
	PaperMetadata llm.PaperMetadata `json:"paper_metadata"`
	Tables        []IndexedTable    `json:"tables"`
	Figures       []llm.FigureInfo  `json:"figures"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// IndexedTable is a table plus where to find it.
type IndexedTable struct {
	llm.TableInfo
	Locations TableLocations `json:"locations"`
}

type TableLocations struct {
	TextFile struct {
		Path      string `json:"path"`
		StartLine *int   `json:"start_line"`
		EndLine   *int   `json:"end_line"`
	} `json:"text_file"`
	PDFPages struct {
		Pages []int `json:"pages"`
	} `json:"pdf_pages"`
}

func newTableIndex(a llm.AnalysisResult, now time.Time) TableIndex {
	idx := TableIndex{
		PaperMetadata: a.PaperMetadata,
		Tables:        make([]IndexedTable, 0, len(a.Tables)),
		Figures:       a.Figures,
		GeneratedAt:   now.UTC(),
	}
	if idx.Figures == nil {
		idx.Figures = []llm.FigureInfo{}
	}
	for _, t := range a.Tables {
		it := IndexedTable{TableInfo: t}
		if it.DataType == "" {
			it.DataType = "Unknown"
		}
		it.Locations.TextFile.Path = KeyPlainText
		it.Locations.PDFPages.Pages = []int{}
		if t.PageNumber != nil {
			it.Locations.PDFPages.Pages = []int{*t.PageNumber}
		}
		idx.Tables = append(idx.Tables, it)
	}
	return idx
}

// Table returns the indexed table numbered n.
func (idx TableIndex) Table(n int) (llm.TableInfo, bool) {
	for _, t := range idx.Tables {
		if t.TableNumber == n {
			return t.TableInfo, true
		}
	}
	return llm.TableInfo{}, false
}

// Captions maps table numbers to captions.
func (idx TableIndex) Captions() map[int]string {
	out := make(map[int]string, len(idx.Tables))
	for _, t := range idx.Tables {
		if t.Caption != "" {
			out[t.TableNumber] = t.Caption
		}
	}
	return out
}

func decodeTableIndex(b []byte) (TableIndex, error) {
	var idx TableIndex
	if err := json.Unmarshal(b, &idx); err != nil {
		return TableIndex{}, fmt.Errorf("decode %s: %w", KeyTableIndex, err)
	}
	return idx, nil
}

func paperIndexMarkdown(a llm.AnalysisResult, filename string, now time.Time) string {
	m := a.PaperMetadata
	var b strings.Builder
	fmt.Fprintf(&b, "# Paper Index: %s\n\n", or(m.Title, "Unknown Title"))
	fmt.Fprintf(&b, "**Generated:** %s\n**Filename:** %s\n\n---\n\n", now.UTC().Format(time.RFC3339), filename)
	b.WriteString("## Citation\n\n")
	fmt.Fprintf(&b, "**Title:** %s\n", or(m.Title, "Unknown"))
	fmt.Fprintf(&b, "**Authors:** %s\n", or(strings.Join(m.Authors, ", "), "Unknown"))
	fmt.Fprintf(&b, "**Affiliations:** %s\n", or(strings.Join(m.Affiliations, "; "), "Not specified"))
	fmt.Fprintf(&b, "**Journal:** %s\n", or(m.Journal, "Unknown"))
	fmt.Fprintf(&b, "**Year:** %s\n", intOr(m.Year, "Unknown"))
	fmt.Fprintf(&b, "**DOI:** %s\n\n", or(m.DOI, "Not specified"))
	fmt.Fprintf(&b, "## Abstract\n\n%s\n\n---\n\n", or(m.Abstract, "No abstract available."))

	fmt.Fprintf(&b, "## Tables Found (%d)\n\n", len(a.Tables))
	if len(a.Tables) == 0 {
		b.WriteString("No tables detected.\n")
	}
	for _, t := range a.Tables {
		dims := "Dimensions unknown"
		if t.EstimatedRows != nil && t.EstimatedColumns != nil {
			dims = fmt.Sprintf("%d×%d", *t.EstimatedRows, *t.EstimatedColumns)
		}
		fmt.Fprintf(&b, "### Table %d\n**Caption:** %s\n**Location:** %s\n**Estimated size:** %s\n**Data type:** %s\n\n",
			t.TableNumber, or(t.Caption, "No caption"), pageLabel(t.PageNumber), dims, or(t.DataType, "Unknown"))
	}

	fmt.Fprintf(&b, "---\n\n## Figures Found (%d)\n\n", len(a.Figures))
	if len(a.Figures) == 0 {
		b.WriteString("No figures detected.\n")
	}
	for _, f := range a.Figures {
		fmt.Fprintf(&b, "### Figure %d\n**Caption:** %s\n**Location:** %s\n\n",
			f.FigureNumber, or(f.Caption, "No caption"), pageLabel(f.PageNumber))
	}
	b.WriteString("\n---\n\n## Next Steps\n\n")
	b.WriteString("1. **Review table list** - Verify all expected tables are detected\n")
	b.WriteString("2. **Proceed to extraction** - POST /api/extraction/{sessionId}/extract\n")
	b.WriteString("3. **Check table-index.json** - Review detailed table metadata\n")
	return b.String()
}

func tablesMarkdown(tables []llm.TableInfo) string {
	var b strings.Builder
	b.WriteString("# Tables Reference\n\n")
	if len(tables) == 0 {
		b.WriteString("No tables were detected in this paper.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "**Total tables detected:** %d\n\n---\n\n", len(tables))
	for _, t := range tables {
		page := pageLabel(t.PageNumber)
		fmt.Fprintf(&b, "## Table %d\n\n**Caption:** %s\n\n", t.TableNumber, or(t.Caption, "No caption"))
		fmt.Fprintf(&b, "**Metadata:**\n- Page: %s\n- Estimated size: %s rows × %s columns\n- Data type: %s\n\n",
			page, intOr(t.EstimatedRows, "Unknown"), intOr(t.EstimatedColumns, "Unknown"), or(t.DataType, "Unknown"))
		fmt.Fprintf(&b, "**Locations:**\n- Text file: `%s`\n- PDF pages: %s\n- Screenshot: `%stable-%d.png`\n\n---\n\n",
			KeyPlainText, page, DirTableImages, t.TableNumber)
	}
	return b.String()
}

func pageLabel(p *int) string {
	if p == nil {
		return "Page unknown"
	}
	return fmt.Sprintf("Page %d", *p)
}

func or(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func intOr(p *int, def string) string {
	if p == nil {
		return def
	}
	return fmt.Sprint(*p)
}
