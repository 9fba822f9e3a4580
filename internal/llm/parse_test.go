package llm

import (
	"io"
	"log/slog"
	"strings"
	"testing"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", "Here is the result:\n{\"a\":1}\nThanks", `{"a":1}`},
		{"trailing commas", `{"a":[1,2,],"b":{"c":3,},}`, `{"a":[1,2],"b":{"c":3}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanJSON(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	in := "```csv\nSample,Age (Ma)\nA,1.2\n```"
	if got := StripFences(in); got != "Sample,Age (Ma)\nA,1.2" {
		t.Errorf("got %q", got)
	}
	if got := StripFences("a,b\n1,2"); got != "a,b\n1,2" {
		t.Errorf("got %q", got)
	}
}

func TestParseAnalysisNormalizes(t *testing.T) {
	raw := "```json\n" + `{
  "paper_metadata": {"title": "Cooling of the Malawi rift", "authors": "A. Author", "year": "2021", "doi": null},
  "tables": [
    {"table_number": 2, "caption": "AHe data", "estimated_columns": "12", "data_type": "AHe ages"},
    {"table_number": "1", "caption": "AFT data", "data_type": "AFT ages"},
    {"table_number": "A1", "caption": "Appendix"},
  ],
  "figures": [{"figure_number": 1, "caption": "Map", "page_number": 3}]
}` + "\n```"

	res, cleaned, err := ParseAnalysis(raw, quietLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cleaned) == 0 {
		t.Error("expected cleaned json")
	}
	if res.PaperMetadata.Year == nil || *res.PaperMetadata.Year != 2021 {
		t.Errorf("year = %v", res.PaperMetadata.Year)
	}
	if len(res.PaperMetadata.Authors) != 1 || res.PaperMetadata.Authors[0] != "A. Author" {
		t.Errorf("authors = %v", res.PaperMetadata.Authors)
	}
	if len(res.Tables) != 2 || res.Tables[0].TableNumber != 1 || res.Tables[1].TableNumber != 2 {
		t.Fatalf("tables = %+v", res.Tables)
	}
	if res.Tables[1].EstimatedColumns == nil || *res.Tables[1].EstimatedColumns != 12 {
		t.Errorf("estimated columns = %v", res.Tables[1].EstimatedColumns)
	}
	if got := res.DataTypes(); len(got) != 2 || got[0] != "AFT ages" {
		t.Errorf("data types = %v", got)
	}
	if _, ok := res.Table(2); !ok {
		t.Error("table 2 not found")
	}
}

func TestParseAnalysisStudyFields(t *testing.T) {
	raw := `{"paper_metadata": {
  "title": "Exhumation of the Northern Range",
  "publication_volume_pages": " Volume 41, e2021TC007 ",
  "study_location": "Northern Range, Trinidad",
  "mineral_analyzed": "apatite",
  "sample_count": "24",
  "age_range_min_ma": "~5.5",
  "age_range_max_ma": "48 Ma"
}}`
	res, _, err := ParseAnalysis(raw, quietLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m := res.PaperMetadata
	if m.VolumePages != "Volume 41, e2021TC007" || m.StudyLocation != "Northern Range, Trinidad" {
		t.Errorf("strings = %q %q", m.VolumePages, m.StudyLocation)
	}
	if m.SampleCount == nil || *m.SampleCount != 24 {
		t.Errorf("sample count = %v", m.SampleCount)
	}
	if m.AgeRangeMinMa == nil || *m.AgeRangeMinMa != 5.5 || m.AgeRangeMaxMa == nil || *m.AgeRangeMaxMa != 48 {
		t.Errorf("age range = %v..%v", m.AgeRangeMinMa, m.AgeRangeMaxMa)
	}

	res, _, err = ParseAnalysis(`{"paper_metadata": {"title": "T", "age_range_min_ma": "young"}}`, quietLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.PaperMetadata.AgeRangeMinMa != nil {
		t.Errorf("unparseable age kept: %v", *res.PaperMetadata.AgeRangeMinMa)
	}
}

func TestParseAnalysisRejects(t *testing.T) {
	for _, in := range []string{
		"I could not read this paper.",
		`{"tables": []}`,
		`{"paper_metadata": {"title": ""}}`,
	} {
		if _, _, err := ParseAnalysis(in, quietLogger()); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestParseReview(t *testing.T) {
	q, err := ParseReview("```json\n{\"valid\": true, \"quality_score\": 91, \"issues\": []}\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !q.Passed() {
		t.Errorf("expected pass: %+v", q)
	}
	q, err = ParseReview(`{"valid": true, "quality_score": 80}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Passed() {
		t.Error("score 80 must not pass")
	}
	if _, err := ParseReview(`{"valid": "yes"}`); err == nil {
		t.Error("expected schema error")
	}
}

func TestParseFairAndGrade(t *testing.T) {
	f, err := ParseFair(`{"findable_score": 22, "accessible_score": 20, "interoperable_score": 18, "reusable_score": 15, "summary": "ok"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Total() != 75 || f.Grade() != "C" {
		t.Errorf("total %d grade %s", f.Total(), f.Grade())
	}
	if _, err := ParseFair(`{"findable_score": 30, "accessible_score": 0, "interoperable_score": 0, "reusable_score": 0}`); err == nil {
		t.Error("expected range error")
	}
}

func TestBuildPromptsCarryContext(t *testing.T) {
	cols := 8
	p := BuildExtractionPrompt(TableInfo{TableNumber: 3, Caption: "Fission track ages", EstimatedColumns: &cols}, "paper text", "paper.pdf", true)
	for _, want := range []string{"Extract Table 3", "Fission track ages", "Estimated Columns: 8", "screenshot", "paper text"} {
		if !strings.Contains(p, want) {
			t.Errorf("extraction prompt missing %q", want)
		}
	}
	r := BuildReviewPrompt(ReviewInput{Table: TableInfo{TableNumber: 1}, CSV: strings.Repeat("x", 6000)})
	if !strings.Contains(r, "(truncated)") || !strings.Contains(r, "Estimated Rows: Unknown") {
		t.Error("review prompt not truncated or missing defaults")
	}
}
