package async

import (
	"context"
	"time"

	"github.com/joseph-ayodele/thermo-extraction/internal/pipeline"
)

// Job runs one session through analyze, extract and load.
type Job struct {
	SessionID   string
	Tables      []int // nil extracts every detected table
	SubmittedAt time.Time
}

// Result is reported once per job. Load is nil when a stage failed.
type Result struct {
	Job     Job
	Analyze *pipeline.AnalyzeResult
	Load    *pipeline.LoadResult
	Stage   string
	Err     error
	Elapsed time.Duration
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Stages is the part of the stage runner the workers drive.
type Stages interface {
	Analyze(ctx context.Context, sessionID string) (*pipeline.AnalyzeResult, error)
	Extract(ctx context.Context, sessionID string, tables []int) (*pipeline.ExtractResult, error)
	Load(ctx context.Context, sessionID string) (*pipeline.LoadResult, error)
}
