package llm

import (
	"fmt"
	"strings"
)

// Generation settings per call kind.
const (
	AnalysisMaxTokens   = 4000
	ExtractionMaxTokens = 8000
	ReviewMaxTokens     = 2000
	FairMaxTokens       = 4096
	DefaultTemperature  = 0.1
)

// AnalysisSystemPrompt asks for citation metadata plus a table and figure index.
const AnalysisSystemPrompt = `You are a research paper analysis assistant. Your task is to analyze PDF text content and extract structured metadata about the paper, including citation information, tables, and figures.

Return a JSON object with this structure:

{
  "paper_metadata": {
    "title": "Full paper title",
    "authors": ["Author 1", "Author 2"],
    "affiliations": ["Institution 1"],
    "journal": "Journal name",
    "year": 2024,
    "doi": "10.xxxx/xxxxx",
    "abstract": "Brief summary of findings (2-3 sentences)",
    "supplementary_data_url": "URL to supplementary materials (optional)",
    "publication_volume_pages": "Volume 12, 345-367 (optional)",
    "study_location": "Study area, e.g. Northern Range, Trinidad (optional)",
    "mineral_analyzed": "Apatite or Zircon (optional)",
    "sample_count": 24,
    "age_range_min_ma": 5.2,
    "age_range_max_ma": 48
  },
  "tables": [
    {"table_number": 1, "caption": "Table caption", "page_number": 5, "estimated_rows": 20, "estimated_columns": 8, "data_type": "AFT ages"}
  ],
  "figures": [
    {"figure_number": 1, "caption": "Figure caption", "page_number": 3}
  ]
}

Guidelines:
- Look for "Table 1", "Table 2" and appendix tables; copy captions exactly.
- Look for "Figure 1", "Fig. 1" and appendix figures; copy captions exactly.
- Estimate page numbers from text markers and table dimensions from the caption or layout.
- "sample_count" is the number of dated samples; "age_range_min_ma"/"age_range_max_ma" bound the reported ages in Ma. Omit them when the paper does not state them.
- "data_type" is a short label for what the table measures (e.g. "AFT ages", "AHe ages", "track lengths", "sample locations").

Return ONLY valid JSON. No markdown code blocks, no explanations.`

// ExtractionSystemPrompt asks for one table as raw CSV.
const ExtractionSystemPrompt = `You are a data extraction assistant. Your task is to extract data tables from research papers and convert them to CSV format.

Rules:
- Extract ALL rows and columns exactly as they appear in the paper.
- Use the EXACT column headers from the paper, keeping capitalization, spacing and units (e.g. "Age (Ma)", "±1σ").
- Preserve numeric precision; never round.
- Missing values are empty strings, not "N/A" or "-".
- Remove footnote and superscript markers.

Return ONLY the CSV: header row first, comma delimited, text values containing commas quoted. No markdown code blocks, no comments.`

// ReviewSystemPrompt frames the quality review call.
const ReviewSystemPrompt = "You are a data extraction quality reviewer. Your task is to analyze extracted table data and identify quality issues. Return ONLY JSON."

// FairSystemPrompt frames the FAIR assessment call.
const FairSystemPrompt = `You are a FAIR data compliance assessor for thermochronology data. Evaluate extracted datasets against Kohn et al. (2024) reporting standards.

Score each category 0-25:
- findable: DOI, authors, citation
- accessible: data files, PDF availability
- interoperable: consistent tabular structure, units, field names
- reusable: provenance, documentation

Return ONLY JSON: {"findable_score", "accessible_score", "interoperable_score", "reusable_score", "findable_reasoning", "accessible_reasoning", "interoperable_reasoning", "reusable_reasoning", "summary"}.`

// BuildAnalysisPrompt is the user message of the analysis call.
func BuildAnalysisPrompt(pdfText, filename string) string {
	var b strings.Builder
	b.WriteString("Analyze this research paper and extract metadata.\n\n")
	b.WriteString("**Filename:** " + filename + "\n\n")
	b.WriteString("**Full Paper Text:**\n\n")
	b.WriteString(pdfText)
	b.WriteString("\n\nReturn a JSON object with paper_metadata, tables, and figures as specified in the system prompt.")
	return b.String()
}

// BuildExtractionPrompt is the user message for extracting one table.
func BuildExtractionPrompt(t TableInfo, pdfText, filename string, hasScreenshot bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract Table %d from this research paper.\n\n", t.TableNumber)
	b.WriteString("**Filename:** " + filename + "\n\n")
	b.WriteString("**Table Information:**\n")
	fmt.Fprintf(&b, "- Table Number: %d\n", t.TableNumber)
	b.WriteString("- Caption: " + orUnknown(t.Caption) + "\n")
	if t.EstimatedColumns != nil {
		fmt.Fprintf(&b, "- Estimated Columns: %d\n", *t.EstimatedColumns)
	}
	if t.EstimatedRows != nil {
		fmt.Fprintf(&b, "- Estimated Rows: %d\n", *t.EstimatedRows)
	}
	if hasScreenshot {
		b.WriteString("\nA screenshot of the table is attached. Use it to resolve column alignment.\n")
	}
	b.WriteString("\n**Full Paper Text:**\n\n")
	b.WriteString(pdfText)
	b.WriteString("\n\nExtract this table and convert it to CSV format with the exact column headers as they appear in the paper.")
	return b.String()
}

// ReviewInput carries what the reviewer sees about one extracted table.
type ReviewInput struct {
	Table        TableInfo
	CSV          string
	Rows         int
	Columns      int
	Completeness float64
	PDFText      string
}

const (
	reviewCSVLimit  = 5000
	reviewTextLimit = 30000
)

// BuildReviewPrompt is the user message of the quality review call.
func BuildReviewPrompt(in ReviewInput) string {
	csv := in.CSV
	if len(csv) > reviewCSVLimit {
		csv = csv[:reviewCSVLimit] + "\n... (truncated)"
	}
	text := in.PDFText
	if len(text) > reviewTextLimit {
		text = text[:reviewTextLimit]
	}
	var b strings.Builder
	b.WriteString("Review the quality of this extracted table data.\n\n")
	b.WriteString("**Original Table Caption:** " + orUnknown(in.Table.Caption) + "\n\n")
	b.WriteString("**Expected Table Characteristics:**\n")
	fmt.Fprintf(&b, "- Table Number: %d\n", in.Table.TableNumber)
	fmt.Fprintf(&b, "- Estimated Rows: %s\n", intOrUnknown(in.Table.EstimatedRows))
	fmt.Fprintf(&b, "- Estimated Columns: %s\n\n", intOrUnknown(in.Table.EstimatedColumns))
	b.WriteString("**Extracted CSV:**\n```csv\n" + csv + "\n```\n\n")
	b.WriteString("**CSV Statistics:**\n")
	fmt.Fprintf(&b, "- Rows: %d\n- Columns: %d\n- Completeness: %.1f%%\n\n", in.Rows, in.Columns, in.Completeness)
	b.WriteString("**Original PDF Text (context):**\n```\n" + text + "\n```\n\n")
	b.WriteString(`Check for data integrity issues (overlong cells, concatenated values, merged superscripts), structural issues (headers, alignment, missing rows or columns) and completeness.

Return a JSON object:
{"valid": true/false, "quality_score": 0-100, "issues": [{"severity": "critical|high|medium|low", "category": "data_integrity|structure|completeness|formatting", "description": "...", "location": "Row X, Column Y"}], "recommendation": "accept|retry|manual_review"}

Scores below 85 or any critical/high issue mean valid=false. Return ONLY the JSON object.`)
	return b.String()
}

// FairInput summarizes a loaded dataset for the FAIR assessment.
type FairInput struct {
	Title       string
	Authors     []string
	DOI         string
	Journal     string
	Year        *int
	HasPDF      bool
	CSVPreviews map[string]string // file name -> first lines
}

// BuildFairPrompt is the user message of the FAIR assessment call.
func BuildFairPrompt(in FairInput) string {
	var b strings.Builder
	b.WriteString("Analyze this dataset for FAIR compliance.\n\n**Dataset Metadata:**\n")
	b.WriteString("- Title: " + orUnknown(in.Title) + "\n")
	b.WriteString("- Authors: " + orUnknown(strings.Join(in.Authors, ", ")) + "\n")
	if in.DOI == "" {
		b.WriteString("- DOI: None\n")
	} else {
		b.WriteString("- DOI: " + in.DOI + "\n")
	}
	fmt.Fprintf(&b, "- Journal: %s (%s)\n", orUnknown(in.Journal), intOrUnknown(in.Year))
	fmt.Fprintf(&b, "- Source PDF stored: %t\n\n", in.HasPDF)
	fmt.Fprintf(&b, "**CSV Files (%d total):**\n", len(in.CSVPreviews))
	for _, name := range sortedKeys(in.CSVPreviews) {
		b.WriteString("\n### " + name + "\n```csv\n" + in.CSVPreviews[name] + "\n```\n")
	}
	b.WriteString("\nScore findable, accessible, interoperable and reusable 0-25 each with reasoning.")
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func intOrUnknown(p *int) string {
	if p == nil {
		return "Unknown"
	}
	return fmt.Sprint(*p)
}
