package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
)

// ParseAnalysis turns the raw analysis text into an AnalysisResult. The
// cleaned JSON is returned as well so callers can persist it.
func ParseAnalysis(text string, logger *slog.Logger) (AnalysisResult, []byte, error) {
	cleaned := []byte(CleanJSON(text))
	if !json.Valid(cleaned) {
		return AnalysisResult{}, nil, fmt.Errorf("analysis response is not valid JSON")
	}
	normalized, _, err := NormalizeAnalysisJSON(cleaned, logger)
	if err != nil {
		return AnalysisResult{}, nil, err
	}
	if err := ValidateJSONAgainstSchema(AnalysisJSONSchema(), normalized); err != nil {
		return AnalysisResult{}, normalized, fmt.Errorf("analysis schema validation failed: %w", err)
	}
	var out AnalysisResult
	if err := json.Unmarshal(normalized, &out); err != nil {
		return AnalysisResult{}, normalized, fmt.Errorf("unmarshal analysis: %w", err)
	}
	slices.SortStableFunc(out.Tables, func(a, b TableInfo) int { return a.TableNumber - b.TableNumber })
	return out, normalized, nil
}

// ParseReview decodes the quality review verdict.
func ParseReview(text string) (QualityReview, error) {
	cleaned := []byte(CleanJSON(text))
	if err := ValidateJSONAgainstSchema(ReviewJSONSchema(), cleaned); err != nil {
		return QualityReview{}, err
	}
	var out QualityReview
	if err := json.Unmarshal(cleaned, &out); err != nil {
		return QualityReview{}, fmt.Errorf("unmarshal review: %w", err)
	}
	return out, nil
}

// ParseFair decodes the FAIR assessment.
func ParseFair(text string) (FairAssessment, error) {
	cleaned := []byte(CleanJSON(text))
	if err := ValidateJSONAgainstSchema(FairJSONSchema(), cleaned); err != nil {
		return FairAssessment{}, err
	}
	var out FairAssessment
	if err := json.Unmarshal(cleaned, &out); err != nil {
		return FairAssessment{}, fmt.Errorf("unmarshal fair assessment: %w", err)
	}
	return out, nil
}

// DataTypes lists the distinct table data types in first-seen order.
func (a AnalysisResult) DataTypes() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range a.Tables {
		dt := strings.TrimSpace(t.DataType)
		if dt == "" || seen[strings.ToLower(dt)] {
			continue
		}
		seen[strings.ToLower(dt)] = true
		out = append(out, dt)
	}
	return out
}

// Table returns the table with the given number.
func (a AnalysisResult) Table(n int) (TableInfo, bool) {
	for _, t := range a.Tables {
		if t.TableNumber == n {
			return t, true
		}
	}
	return TableInfo{}, false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
