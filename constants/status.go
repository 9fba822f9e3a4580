package constants

// SessionState is the canonical lifecycle value stored in extraction_session.state.
type SessionState string

// Stable values (store these exact strings in DB).
const (
	StateUploaded   SessionState = "uploaded"
	StateAnalyzing  SessionState = "analyzing"
	StateAnalyzed   SessionState = "analyzed"
	StateExtracting SessionState = "extracting"
	StateExtracted  SessionState = "extracted"
	StateLoading    SessionState = "loading"
	StateLoaded     SessionState = "loaded"
	StateFailed     SessionState = "failed" // terminal failure, retried by re-invoking the failed stage
)

// SessionStates lists every state in lifecycle order.
var SessionStates = []SessionState{
	StateUploaded,
	StateAnalyzing,
	StateAnalyzed,
	StateExtracting,
	StateExtracted,
	StateLoading,
	StateLoaded,
	StateFailed,
}

// SessionStateValues returns the states as plain strings (for schema enums).
func SessionStateValues() []string {
	out := make([]string, len(SessionStates))
	for i, s := range SessionStates {
		out[i] = string(s)
	}
	return out
}

// ParseSessionState reports whether s is a known state.
func ParseSessionState(s string) (SessionState, bool) {
	for _, st := range SessionStates {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// ErrorStage names the stage that put a session into StateFailed.
type ErrorStage string

const (
	ErrorStageAnalyze ErrorStage = "analyze"
	ErrorStageExtract ErrorStage = "extract"
	ErrorStageLoad    ErrorStage = "load"
)

var ErrorStages = []string{string(ErrorStageAnalyze), string(ErrorStageExtract), string(ErrorStageLoad)}

// UploadStatus is stored on data_file rows.
type UploadStatus string

const (
	UploadStatusUploaded UploadStatus = "uploaded"
	UploadStatusMissing  UploadStatus = "missing"
)
