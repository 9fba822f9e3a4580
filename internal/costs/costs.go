// Package costs prices the token usage recorded on an extraction session.
package costs

import (
	"math"
	"strings"

	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
)

// Price is USD per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// DefaultPrice applies to models missing from the table.
var DefaultPrice = Price{Input: 3, Output: 15}

// prices is matched by prefix, longest first, so dated model ids
// ("claude-sonnet-4-5-20250929") resolve to their family.
var prices = map[string]Price{
	"claude-opus-4":     {Input: 15, Output: 75},
	"claude-sonnet-4":   {Input: 3, Output: 15},
	"claude-3-7-sonnet": {Input: 3, Output: 15},
	"claude-3-5-sonnet": {Input: 3, Output: 15},
	"claude-haiku-4-5":  {Input: 1, Output: 5},
	"claude-3-5-haiku":  {Input: 0.80, Output: 4},
	"gemini-2.5-pro":    {Input: 1.25, Output: 10},
	"gemini-2.5-flash":  {Input: 0.30, Output: 2.50},
	"gpt-4o-mini":       {Input: 0.15, Output: 0.60},
	"gpt-4o":            {Input: 2.50, Output: 10},
	"gpt-4.1":           {Input: 2, Output: 8},
	"gpt-5-mini":        {Input: 0.25, Output: 2},
	"gpt-5":             {Input: 1.25, Output: 10},
}

// PriceFor returns the price row for model.
func PriceFor(model string) Price {
	m := strings.ToLower(strings.TrimSpace(model))
	best, bestLen := DefaultPrice, 0
	for prefix, p := range prices {
		if strings.HasPrefix(m, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best
}

// Cost prices one input/output token pair. Negative counts are treated as zero.
func Cost(inputTokens, outputTokens int64, model string) float64 {
	p := PriceFor(model)
	in := float64(max(inputTokens, 0))
	out := float64(max(outputTokens, 0))
	return round6(in/1e6*p.Input + out/1e6*p.Output)
}

// StageCost is one bucket of the breakdown.
type StageCost struct {
	Input  int64   `json:"input"`
	Output int64   `json:"output"`
	Calls  int     `json:"calls"`
	Cost   float64 `json:"cost"`
}

// Breakdown is the cost report of a session.
type Breakdown struct {
	Analysis     StageCost `json:"analysis"`
	Extraction   StageCost `json:"extraction"`
	FairAnalysis StageCost `json:"fair_analysis"`
	Total        float64   `json:"total"`
	TotalTokens  int64     `json:"total_tokens"`
	Model        string    `json:"model"`
}

// ForSession builds the breakdown from the session's usage buckets. All
// buckets are priced with the session's recorded model.
func ForSession(s *entity.Session) Breakdown {
	model := ""
	if s.AIModel != nil {
		model = *s.AIModel
	}
	return Compute(s.Usage, model)
}

// Compute prices each bucket and sums them.
func Compute(u entity.Usage, model string) Breakdown {
	stage := func(b entity.TokenBucket) StageCost {
		return StageCost{
			Input:  b.InputTokens,
			Output: b.OutputTokens,
			Calls:  b.Calls,
			Cost:   Cost(b.InputTokens, b.OutputTokens, model),
		}
	}
	out := Breakdown{
		Analysis:     stage(u.Analysis),
		Extraction:   stage(u.Extraction),
		FairAnalysis: stage(u.FairAnalysis),
		Model:        model,
	}
	out.Total = round6(out.Analysis.Cost + out.Extraction.Cost + out.FairAnalysis.Cost)
	for _, b := range entity.Buckets {
		tb := u.Bucket(b)
		out.TotalTokens += tb.InputTokens + tb.OutputTokens
	}
	return out
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
