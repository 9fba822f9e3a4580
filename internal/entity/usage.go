package entity

// UsageBucket names one of the per-stage token counters on a session.
type UsageBucket string

const (
	BucketAnalysis     UsageBucket = "analysis"
	BucketExtraction   UsageBucket = "extraction"
	BucketFairAnalysis UsageBucket = "fair_analysis"
)

// Buckets lists the buckets in reporting order.
var Buckets = []UsageBucket{BucketAnalysis, BucketExtraction, BucketFairAnalysis}

// TokenBucket accumulates the token usage of one stage.
type TokenBucket struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Calls        int   `json:"calls"`
}

// Usage holds the three buckets stored on a session.
type Usage struct {
	Analysis     TokenBucket `json:"analysis"`
	Extraction   TokenBucket `json:"extraction"`
	FairAnalysis TokenBucket `json:"fair_analysis"`
}

// Bucket returns the bucket named b.
func (u Usage) Bucket(b UsageBucket) TokenBucket {
	switch b {
	case BucketAnalysis:
		return u.Analysis
	case BucketExtraction:
		return u.Extraction
	case BucketFairAnalysis:
		return u.FairAnalysis
	}
	return TokenBucket{}
}
