// Package pipeline runs the analyze, extract and load stages of an
// extraction session. Each stage runs inside the request that triggered it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
	"github.com/joseph-ayodele/thermo-extraction/internal/ocr"
	"github.com/joseph-ayodele/thermo-extraction/internal/repository"
	"github.com/joseph-ayodele/thermo-extraction/internal/session"
	"github.com/joseph-ayodele/thermo-extraction/internal/storage"
)

// TextExtractor pulls the text layer (or OCR text) out of a PDF.
type TextExtractor interface {
	ExtractPDF(ctx context.Context, pdf []byte) (ocr.ExtractionResult, error)
}

// PageRenderer renders one PDF page to PNG.
type PageRenderer interface {
	RenderPage(ctx context.Context, pdf []byte, page int) ([]byte, error)
}

// Deps are the collaborators of a Runner. Renderer may be nil.
type Deps struct {
	Sessions repository.SessionRepository
	Datasets repository.DatasetRepository
	Files    repository.DataFileRepository
	Store    storage.Store
	AI       llm.Client
	Text     TextExtractor
	Renderer PageRenderer
	Locks    *session.Locker
}

type Options struct {
	ExtractConcurrency int           // default 2
	QualityReview      bool          // second AI pass per extracted table
	AITimeout          time.Duration // per call, default 3m
	StaleAfter         time.Duration // running sessions older than this may be resumed; 0 disables
	Now                func() time.Time
}

type Runner struct {
	d      Deps
	opts   Options
	logger *slog.Logger
}

func NewRunner(d Deps, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if d.Locks == nil {
		d.Locks = session.NewLocker()
	}
	if opts.ExtractConcurrency <= 0 {
		opts.ExtractConcurrency = 2
	}
	if opts.AITimeout <= 0 {
		opts.AITimeout = 3 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{d: d, opts: opts, logger: logger}
}

// StageError is returned when a stage failed after the session was moved to
// its running state. The session has been marked failed.
type StageError struct {
	Stage session.Stage
	Err   error
}

func (e *StageError) Error() string { return e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Title is the short error label returned to API clients.
func (e *StageError) Title() string {
	switch e.Stage {
	case session.Analyze:
		return "Analysis failed"
	case session.Extract:
		return "Extraction failed"
	case session.Load:
		return "Load failed"
	}
	return "Stage failed"
}

// run is one claimed stage execution.
type run struct {
	r       *Runner
	stage   session.Stage
	sess    *entity.Session
	version int64
	log     *slog.Logger
	start   time.Time
}

// begin claims the session for stage: in-process lock, state check, precheck,
// then a compare-and-set to the running state. The returned release must be
// called when the stage ends.
func (r *Runner) begin(ctx context.Context, stage session.Stage, sessionID string, precheck func(*entity.Session) error) (*run, func(), error) {
	log := common.LoggerFromContext(ctx, r.logger).With("session_id", sessionID, "stage", stage.String())
	unlock, ok := r.d.Locks.TryLock(sessionID)
	if !ok {
		log.Warn("stage.busy")
		return nil, nil, common.AbortedError("Session is busy: another stage is already running")
	}
	sess, err := r.d.Sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		unlock()
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, common.NotFoundError("Session not found")
		}
		return nil, nil, err
	}
	if err := session.CanStart(stage, sess, r.opts.Now(), r.opts.StaleAfter); err != nil {
		unlock()
		log.Warn("stage.rejected", "state", sess.State, "error", err)
		return nil, nil, err
	}
	if !session.Allowed(sess.State, stage.Running()) {
		unlock()
		log.Error("stage.transition_refused", "from", sess.State, "to", stage.Running())
		return nil, nil, common.FailedPreconditionError(fmt.Sprintf("Invalid transition %s -> %s", sess.State, stage.Running()))
	}
	if precheck != nil {
		if err := precheck(sess); err != nil {
			unlock()
			return nil, nil, err
		}
	}
	v, err := r.d.Sessions.Advance(ctx, sessionID, sess.Version, repository.StageUpdate{State: stage.Running()})
	if err != nil {
		unlock()
		if errors.Is(err, common.ErrConflict) {
			return nil, nil, common.AbortedError("Session was modified concurrently; retry")
		}
		return nil, nil, err
	}
	sess.State, sess.Version = stage.Running(), v
	log.Info("stage.start", "version", v)
	return &run{r: r, stage: stage, sess: sess, version: v, log: log, start: time.Now()}, unlock, nil
}

// fail records err on the session and wraps it in a StageError. The update
// uses a context detached from the request so a cancelled client still
// leaves the session in failed.
func (s *run) fail(ctx context.Context, err error) error {
	ctx = context.WithoutCancel(ctx)
	if !session.Allowed(s.sess.State, constants.StateFailed) {
		s.log.Error("stage.transition_refused", "from", s.sess.State, "to", constants.StateFailed, "error", err)
		return &StageError{Stage: s.stage, Err: err}
	}
	if v, merr := s.r.d.Sessions.MarkFailed(ctx, s.sess.SessionID, s.version, s.stage.ErrorStage(), err.Error()); merr != nil {
		s.log.Error("stage.mark_failed.failed", "error", merr)
	} else {
		s.sess.State, s.version = constants.StateFailed, v
	}
	s.log.Error("stage.failed", "elapsed_ms", time.Since(s.start).Milliseconds(), "error", err)
	return &StageError{Stage: s.stage, Err: err}
}

// complete writes the stage outputs together with the done state and clears
// any previous error.
func (s *run) complete(ctx context.Context, values map[string]any) error {
	done := s.stage.Done()
	if !session.Allowed(s.sess.State, done) {
		return s.fail(ctx, fmt.Errorf("invalid transition %s -> %s", s.sess.State, done))
	}
	if values == nil {
		values = map[string]any{}
	}
	values["error_stage"] = nil
	values["error_message"] = nil
	if session.IsTerminal(done) {
		values["completed_at"] = s.r.opts.Now().UTC()
	}
	step := s.stage.DoneStep()
	v, err := s.r.d.Sessions.Advance(ctx, s.sess.SessionID, s.version, repository.StageUpdate{
		State:       done,
		CurrentStep: &step,
		Values:      values,
	})
	if err != nil {
		return s.fail(ctx, fmt.Errorf("save %s results: %w", s.stage, err))
	}
	s.sess.State, s.version = done, v
	s.log.Info("stage.ok", "state", done, "elapsed_ms", time.Since(s.start).Milliseconds())
	return nil
}

// call runs one AI completion bounded by the configured timeout and records
// its token usage in the stage's bucket.
func (s *run) call(ctx context.Context, req llm.Request) (llm.Response, error) {
	cctx, cancel := context.WithTimeout(ctx, s.r.opts.AITimeout)
	defer cancel()
	start := time.Now()
	resp, err := s.r.d.AI.Complete(cctx, req)
	if err != nil {
		s.log.Error("stage.ai.failed", "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return llm.Response{}, fmt.Errorf("AI request failed: %w", err)
	}
	model := resp.Model
	if model == "" {
		model = s.r.d.AI.Model()
	}
	if uerr := s.r.d.Sessions.AddUsage(context.WithoutCancel(ctx), s.sess.SessionID, s.stage.Bucket(),
		model, resp.Usage.InputTokens, resp.Usage.OutputTokens); uerr != nil {
		s.log.Warn("stage.usage.failed", "error", uerr)
	}
	s.log.Info("stage.ai.ok",
		"model", model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (s *run) key(rel string) string {
	return SessionKey(s.sess.SessionID, rel)
}

func (s *run) put(ctx context.Context, rel string, b []byte, contentType string) error {
	if err := storage.PutBytes(ctx, s.r.d.Store, storage.BucketExtractions, s.key(rel), b, contentType); err != nil {
		return fmt.Errorf("store %s: %w", rel, err)
	}
	return nil
}

// pdf loads the uploaded paper.
func (s *run) pdf(ctx context.Context) ([]byte, error) {
	key := s.sess.PDFPath
	if key == "" {
		key = s.key(KeyOriginalPDF)
	}
	b, err := storage.GetBytes(ctx, s.r.d.Store, storage.BucketExtractions, key)
	if err != nil {
		return nil, fmt.Errorf("load PDF: %w", err)
	}
	return b, nil
}

// text returns the cached plain text, re-extracting it from the PDF when the
// artifact is missing.
func (s *run) text(ctx context.Context) (string, error) {
	b, err := storage.GetBytes(ctx, s.r.d.Store, storage.BucketExtractions, s.key(KeyPlainText))
	if err == nil {
		return string(b), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("load %s: %w", KeyPlainText, err)
	}
	s.log.Warn("stage.text.cache_miss")
	pdf, err := s.pdf(ctx)
	if err != nil {
		return "", err
	}
	res, err := s.r.d.Text.ExtractPDF(ctx, pdf)
	if err != nil {
		return "", fmt.Errorf("extract PDF text: %w", err)
	}
	return res.Text, nil
}

func (s *run) tableIndex(ctx context.Context) (TableIndex, error) {
	return loadTableIndex(ctx, s.r.d.Store, s.sess.SessionID)
}

func loadTableIndex(ctx context.Context, store storage.Store, sessionID string) (TableIndex, error) {
	b, err := storage.GetBytes(ctx, store, storage.BucketExtractions, SessionKey(sessionID, KeyTableIndex))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TableIndex{}, common.FailedPreconditionError("Table index missing; run analyze first")
		}
		return TableIndex{}, fmt.Errorf("load %s: %w", KeyTableIndex, err)
	}
	return decodeTableIndex(b)
}
