// Package session holds the extraction-session lifecycle: which stage may run
// from which state, and which state transitions are legal.
package session

import (
	"fmt"
	"time"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
)

// Stage is one externally triggered step of the pipeline.
type Stage int

const (
	Analyze Stage = iota + 1
	Extract
	Load
)

func (s Stage) String() string {
	switch s {
	case Analyze:
		return "analyze"
	case Extract:
		return "extract"
	case Load:
		return "load"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ErrorStage is the value recorded in error_stage when s fails.
func (s Stage) ErrorStage() constants.ErrorStage {
	switch s {
	case Analyze:
		return constants.ErrorStageAnalyze
	case Extract:
		return constants.ErrorStageExtract
	case Load:
		return constants.ErrorStageLoad
	}
	return ""
}

// Entry is the completed state a stage starts from on the happy path.
func (s Stage) Entry() constants.SessionState {
	switch s {
	case Analyze:
		return constants.StateUploaded
	case Extract:
		return constants.StateAnalyzed
	case Load:
		return constants.StateExtracted
	}
	return ""
}

// Running is the in-progress state written when s starts.
func (s Stage) Running() constants.SessionState {
	switch s {
	case Analyze:
		return constants.StateAnalyzing
	case Extract:
		return constants.StateExtracting
	case Load:
		return constants.StateLoading
	}
	return ""
}

// Done is the completed state written when s succeeds.
func (s Stage) Done() constants.SessionState {
	switch s {
	case Analyze:
		return constants.StateAnalyzed
	case Extract:
		return constants.StateExtracted
	case Load:
		return constants.StateLoaded
	}
	return ""
}

// DoneStep is current_step after s succeeds.
func (s Stage) DoneStep() int {
	switch s {
	case Analyze:
		return 2
	case Extract, Load:
		return 3
	}
	return 1
}

// Bucket is the usage bucket the stage's AI calls are billed to.
func (s Stage) Bucket() entity.UsageBucket {
	switch s {
	case Analyze:
		return entity.BucketAnalysis
	case Extract:
		return entity.BucketExtraction
	case Load:
		return entity.BucketFairAnalysis
	}
	return ""
}

// StageFromErrorStage maps a recorded error_stage back to its stage.
func StageFromErrorStage(es constants.ErrorStage) (Stage, bool) {
	switch es {
	case constants.ErrorStageAnalyze:
		return Analyze, true
	case constants.ErrorStageExtract:
		return Extract, true
	case constants.ErrorStageLoad:
		return Load, true
	}
	return 0, false
}

// IsTerminal reports whether no further transition may leave st on success.
func IsTerminal(st constants.SessionState) bool {
	return st == constants.StateLoaded || st == constants.StateFailed
}

// Allowed reports whether the runner may move a session from -> to. A running
// state may be re-entered by the stale takeover in CanStart.
func Allowed(from, to constants.SessionState) bool {
	if from == to {
		switch from {
		case constants.StateAnalyzing, constants.StateExtracting, constants.StateLoading:
			return true
		}
		return false
	}
	if to == constants.StateFailed {
		switch from {
		case constants.StateAnalyzing, constants.StateExtracting, constants.StateLoading:
			return true
		}
		return false
	}
	switch from {
	case constants.StateUploaded:
		return to == constants.StateAnalyzing
	case constants.StateAnalyzing:
		return to == constants.StateAnalyzed
	case constants.StateAnalyzed:
		return to == constants.StateExtracting
	case constants.StateExtracting:
		return to == constants.StateExtracted
	case constants.StateExtracted:
		return to == constants.StateLoading
	case constants.StateLoading:
		return to == constants.StateLoaded
	case constants.StateLoaded:
		return false
	case constants.StateFailed:
		// retry re-enters the failed stage's in-progress state
		return to == constants.StateAnalyzing || to == constants.StateExtracting || to == constants.StateLoading
	}
	return false
}

// CanStart decides whether stage may run against s now. A session left in a
// running state longer than staleAfter (a crashed request) may be resumed by
// the same stage; staleAfter <= 0 disables that.
func CanStart(stage Stage, s *entity.Session, now time.Time, staleAfter time.Duration) error {
	switch s.State {
	case constants.StateUploaded, constants.StateAnalyzed, constants.StateExtracted:
		if stage.Entry() == s.State {
			return nil
		}
		return common.FailedPreconditionError(fmt.Sprintf(
			"Invalid state for %s: session is %s, expected %s", stage, s.State, stage.Entry()))
	case constants.StateAnalyzing, constants.StateExtracting, constants.StateLoading:
		if stage.Running() == s.State && staleAfter > 0 && now.Sub(s.UpdatedAt) > staleAfter {
			return nil
		}
		return common.AbortedError(fmt.Sprintf("session %s is busy: %s", s.SessionID, s.State))
	case constants.StateLoaded:
		return common.FailedPreconditionError(fmt.Sprintf("session %s is already loaded", s.SessionID))
	case constants.StateFailed:
		if s.ErrorStage == nil {
			if stage == Analyze {
				return nil
			}
		} else if failed, ok := StageFromErrorStage(*s.ErrorStage); ok && failed == stage {
			return nil
		}
		got := "unknown"
		if s.ErrorStage != nil {
			got = string(*s.ErrorStage)
		}
		return common.FailedPreconditionError(fmt.Sprintf(
			"Invalid state for %s: session failed during %s; retry that stage", stage, got))
	}
	return common.FailedPreconditionError(fmt.Sprintf("unknown session state %q", s.State))
}
