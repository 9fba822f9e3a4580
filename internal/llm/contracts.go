package llm

import "context"

// Attachment is a binary document sent alongside the prompt (the paper PDF,
// a table screenshot).
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Attachments []Attachment
	MaxTokens   int
	Temperature float32
}

// Usage is the token count reported by the backend for one call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is the text of the first candidate plus accounting.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Client is the completion backend the stage runner depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Model() string
}

// PaperMetadata is the citation block returned by the analysis call.
type PaperMetadata struct {
	Title                string   `json:"title"`
	Authors              []string `json:"authors,omitempty"`
	Affiliations         []string `json:"affiliations,omitempty"`
	Journal              string   `json:"journal,omitempty"`
	Year                 *int     `json:"year,omitempty"`
	DOI                  string   `json:"doi,omitempty"`
	Abstract             string   `json:"abstract,omitempty"`
	SupplementaryDataURL string   `json:"supplementary_data_url,omitempty"`

	VolumePages     string   `json:"publication_volume_pages,omitempty"`
	StudyLocation   string   `json:"study_location,omitempty"`
	MineralAnalyzed string   `json:"mineral_analyzed,omitempty"`
	SampleCount     *int     `json:"sample_count,omitempty"`
	AgeRangeMinMa   *float64 `json:"age_range_min_ma,omitempty"`
	AgeRangeMaxMa   *float64 `json:"age_range_max_ma,omitempty"`
}

// TableInfo locates one table of the paper.
type TableInfo struct {
	TableNumber      int    `json:"table_number"`
	Caption          string `json:"caption"`
	PageNumber       *int   `json:"page_number,omitempty"`
	EstimatedRows    *int   `json:"estimated_rows,omitempty"`
	EstimatedColumns *int   `json:"estimated_columns,omitempty"`
	DataType         string `json:"data_type,omitempty"`
}

// FigureInfo locates one figure of the paper.
type FigureInfo struct {
	FigureNumber int    `json:"figure_number"`
	Caption      string `json:"caption"`
	PageNumber   *int   `json:"page_number,omitempty"`
}

// AnalysisResult is the structured output of the analyze stage.
type AnalysisResult struct {
	PaperMetadata PaperMetadata `json:"paper_metadata"`
	Tables        []TableInfo   `json:"tables"`
	Figures       []FigureInfo  `json:"figures"`
}

// ReviewIssue is one finding of the table quality review.
type ReviewIssue struct {
	Severity    string `json:"severity"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
}

// QualityReview is the verdict of the table quality review.
type QualityReview struct {
	Valid          bool          `json:"valid"`
	QualityScore   float64       `json:"quality_score"`
	Issues         []ReviewIssue `json:"issues,omitempty"`
	Recommendation string        `json:"recommendation,omitempty"`
}

// Passed reports whether the table can be kept.
func (q QualityReview) Passed() bool {
	return q.Valid && q.QualityScore >= MinQualityScore
}

// MinQualityScore is the review score a table needs to pass.
const MinQualityScore = 85

// FairAssessment scores a dataset on the four FAIR principles, 0-25 each.
type FairAssessment struct {
	FindableScore          int    `json:"findable_score"`
	AccessibleScore        int    `json:"accessible_score"`
	InteroperableScore     int    `json:"interoperable_score"`
	ReusableScore          int    `json:"reusable_score"`
	FindableReasoning      string `json:"findable_reasoning,omitempty"`
	AccessibleReasoning    string `json:"accessible_reasoning,omitempty"`
	InteroperableReasoning string `json:"interoperable_reasoning,omitempty"`
	ReusableReasoning      string `json:"reusable_reasoning,omitempty"`
	Summary                string `json:"summary,omitempty"`
}

// Total is the 0-100 FAIR score.
func (f FairAssessment) Total() int {
	return f.FindableScore + f.AccessibleScore + f.InteroperableScore + f.ReusableScore
}

// Grade maps the total onto A-F.
func (f FairAssessment) Grade() string {
	switch t := f.Total(); {
	case t >= 90:
		return "A"
	case t >= 80:
		return "B"
	case t >= 70:
		return "C"
	case t >= 60:
		return "D"
	default:
		return "F"
	}
}
