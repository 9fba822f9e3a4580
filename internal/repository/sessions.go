package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/db/ent/schema"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
)

const sessionTable = "extraction_session"

var sessionColumns = []string{
	"id", "session_id", "pdf_filename", "pdf_path", "pdf_size_bytes",
	"state", "current_step", "version",
	"paper_metadata", "tables_found", "data_types",
	"csvs_extracted", "extraction_quality_score", "failed_tables",
	"dataset_id", "fair_score", "records_imported",
	"ai_model",
	"analysis_input_tokens", "analysis_output_tokens", "analysis_calls",
	"extraction_input_tokens", "extraction_output_tokens", "extraction_calls",
	"fair_analysis_input_tokens", "fair_analysis_output_tokens", "fair_analysis_calls",
	"error_message", "error_stage", "user_id",
	"created_at", "updated_at", "completed_at",
}

// StageUpdate carries the columns a stage writes together with its state
// change. A nil value in Values writes NULL.
type StageUpdate struct {
	State       constants.SessionState
	CurrentStep *int
	Values      map[string]any
}

type SessionRepository interface {
	Create(ctx context.Context, s *entity.Session) error
	GetBySessionID(ctx context.Context, sessionID string) (*entity.Session, error)
	List(ctx context.Context, state *constants.SessionState, limit int) ([]*entity.Session, error)
	CountByState(ctx context.Context) (entity.StateCounts, error)
	// Advance writes a stage update if the row still has version; it returns
	// the new version or an error wrapping common.ErrConflict.
	Advance(ctx context.Context, sessionID string, version int64, upd StageUpdate) (int64, error)
	MarkFailed(ctx context.Context, sessionID string, version int64, stage constants.ErrorStage, message string) (int64, error)
	AddUsage(ctx context.Context, sessionID string, bucket entity.UsageBucket, model string, input, output int64) error
	Delete(ctx context.Context, sessionID string) error
}

type sessionRepo struct {
	c   conn
	log *slog.Logger
}

func NewSessionRepository(drv *entsql.Driver, log *slog.Logger) SessionRepository {
	return &sessionRepo{c: newConn(drv), log: log}
}

func (r *sessionRepo) Create(ctx context.Context, s *entity.Session) error {
	now := time.Now().UTC()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.State == "" {
		s.State = constants.StateUploaded
	}
	if s.CurrentStep == 0 {
		s.CurrentStep = 1
	}
	s.Version = 0
	s.CreatedAt, s.UpdatedAt = now, now

	values := map[string]any{
		"id":             s.ID,
		"session_id":     s.SessionID,
		"pdf_filename":   s.PDFFilename,
		"pdf_path":       s.PDFPath,
		"pdf_size_bytes": s.PDFSizeBytes,
		"state":          s.State,
		"current_step":   s.CurrentStep,
		"version":        s.Version,
		"user_id":        s.UserID,
		"created_at":     now,
		"updated_at":     now,
	}
	for _, b := range entity.Buckets {
		values[string(b)+"_input_tokens"] = int64(0)
		values[string(b)+"_output_tokens"] = int64(0)
		values[string(b)+"_calls"] = 0
	}
	if err := checkFields(schema.ExtractionSession{}, values); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	ins := r.c.b.Insert(sessionTable)
	insertValues(ins, values)
	if _, err := r.c.exec(ctx, ins); err != nil {
		r.log.Error("session create failed", "session_id", s.SessionID, "err", err)
		return err
	}
	r.log.Info("session created", "session_id", s.SessionID, "id", s.ID, "size", s.PDFSizeBytes)
	return nil
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*entity.Session, error) {
	q := r.c.b.Select(sessionColumns...).
		From(r.c.b.Table(sessionTable)).
		Where(entsql.EQ("session_id", sessionID))
	out, err := r.selectSessions(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound("session", sessionID)
	}
	return out[0], nil
}

func (r *sessionRepo) List(ctx context.Context, state *constants.SessionState, limit int) ([]*entity.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.c.b.Select(sessionColumns...).
		From(r.c.b.Table(sessionTable)).
		OrderBy(entsql.Desc("created_at")).
		Limit(limit)
	if state != nil {
		q.Where(entsql.EQ("state", string(*state)))
	}
	return r.selectSessions(ctx, q)
}

func (r *sessionRepo) CountByState(ctx context.Context) (entity.StateCounts, error) {
	q := r.c.b.Select("state", entsql.Count("*")).
		From(r.c.b.Table(sessionTable)).
		GroupBy("state")
	rows, err := r.c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(entity.StateCounts, len(constants.SessionStates))
	for _, st := range constants.SessionStates {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", common.ErrDatabase, err)
		}
		if st, ok := constants.ParseSessionState(state); ok {
			counts[st] = n
		}
	}
	return counts, rows.Err()
}

func (r *sessionRepo) Advance(ctx context.Context, sessionID string, version int64, upd StageUpdate) (int64, error) {
	values := make(map[string]any, len(upd.Values)+2)
	for k, v := range upd.Values {
		values[k] = v
	}
	values["state"] = string(upd.State)
	if upd.CurrentStep != nil {
		values["current_step"] = *upd.CurrentStep
	}
	for k, v := range values {
		switch v.(type) {
		case json.RawMessage, []string, []int:
			b, err := jsonValue(v)
			if err != nil {
				return 0, fmt.Errorf("encode %s: %w", k, err)
			}
			values[k] = b
		}
	}
	if err := checkFields(schema.ExtractionSession{}, values); err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	u := r.c.b.Update(sessionTable)
	setAll(u, values)
	u.Set("version", version+1).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID),
			entsql.EQ("version", version),
		))
	n, err := r.c.exec(ctx, u)
	if err != nil {
		r.log.Error("session advance failed", "session_id", sessionID, "state", upd.State, "err", err)
		return 0, err
	}
	if n == 0 {
		if _, gerr := r.GetBySessionID(ctx, sessionID); isNotFound(gerr) {
			return 0, gerr
		}
		r.log.Warn("session advance lost race", "session_id", sessionID, "version", version, "state", upd.State)
		return 0, fmt.Errorf("session %q version %d: %w", sessionID, version, common.ErrConflict)
	}
	r.log.Info("session advanced", "session_id", sessionID, "state", upd.State, "version", version+1)
	return version + 1, nil
}

func (r *sessionRepo) MarkFailed(ctx context.Context, sessionID string, version int64, stage constants.ErrorStage, message string) (int64, error) {
	v, err := r.Advance(ctx, sessionID, version, StageUpdate{
		State: constants.StateFailed,
		Values: map[string]any{
			"error_stage":   string(stage),
			"error_message": message,
		},
	})
	if err != nil {
		r.log.Error("session mark failed failed", "session_id", sessionID, "stage", stage, "err", err)
		return 0, err
	}
	r.log.Warn("session failed", "session_id", sessionID, "stage", stage, "error", message)
	return v, nil
}

func (r *sessionRepo) AddUsage(ctx context.Context, sessionID string, bucket entity.UsageBucket, model string, input, output int64) error {
	switch bucket {
	case entity.BucketAnalysis, entity.BucketExtraction, entity.BucketFairAnalysis:
	default:
		return fmt.Errorf("%w: unknown usage bucket %q", common.ErrInvalidInput, bucket)
	}
	prefix := string(bucket)
	u := r.c.b.Update(sessionTable).
		Add(prefix+"_input_tokens", input).
		Add(prefix+"_output_tokens", output).
		Add(prefix+"_calls", 1).
		Set("ai_model", model).
		Where(entsql.EQ("session_id", sessionID))
	n, err := r.c.exec(ctx, u)
	if err != nil {
		r.log.Error("session usage update failed", "session_id", sessionID, "bucket", bucket, "err", err)
		return err
	}
	if n == 0 {
		return notFound("session", sessionID)
	}
	r.log.Debug("session usage recorded", "session_id", sessionID, "bucket", bucket, "input", input, "output", output)
	return nil
}

func (r *sessionRepo) Delete(ctx context.Context, sessionID string) error {
	n, err := r.c.exec(ctx, r.c.b.Delete(sessionTable).Where(entsql.EQ("session_id", sessionID)))
	if err != nil {
		r.log.Error("session delete failed", "session_id", sessionID, "err", err)
		return err
	}
	if n == 0 {
		return notFound("session", sessionID)
	}
	r.log.Info("session deleted", "session_id", sessionID)
	return nil
}

func (r *sessionRepo) selectSessions(ctx context.Context, q *entsql.Selector) ([]*entity.Session, error) {
	rows, err := r.c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func scanSession(rows *sql.Rows) (*entity.Session, error) {
	var (
		s            entity.Session
		state        string
		paper        []byte
		tablesFound  sql.NullInt64
		dataTypes    []byte
		csvs         sql.NullInt64
		quality      sql.NullFloat64
		failed       []byte
		datasetID    uuid.NullUUID
		fair         sql.NullInt64
		records      sql.NullInt64
		aiModel      sql.NullString
		errMsg       sql.NullString
		errStage     sql.NullString
		userID       sql.NullString
		completedAt  sql.NullTime
		usageTargets = []any{
			&s.Usage.Analysis.InputTokens, &s.Usage.Analysis.OutputTokens, &s.Usage.Analysis.Calls,
			&s.Usage.Extraction.InputTokens, &s.Usage.Extraction.OutputTokens, &s.Usage.Extraction.Calls,
			&s.Usage.FairAnalysis.InputTokens, &s.Usage.FairAnalysis.OutputTokens, &s.Usage.FairAnalysis.Calls,
		}
	)
	targets := []any{
		&s.ID, &s.SessionID, &s.PDFFilename, &s.PDFPath, &s.PDFSizeBytes,
		&state, &s.CurrentStep, &s.Version,
		&paper, &tablesFound, &dataTypes,
		&csvs, &quality, &failed,
		&datasetID, &fair, &records,
		&aiModel,
	}
	targets = append(targets, usageTargets...)
	targets = append(targets, &errMsg, &errStage, &userID, &s.CreatedAt, &s.UpdatedAt, &completedAt)

	if err := rows.Scan(targets...); err != nil {
		return nil, fmt.Errorf("%w: scan session: %v", common.ErrDatabase, err)
	}
	s.State = constants.SessionState(state)
	if len(paper) > 0 {
		s.PaperMetadata = json.RawMessage(paper)
	}
	s.TablesFound = nullInt(tablesFound)
	if len(dataTypes) > 0 {
		if err := json.Unmarshal(dataTypes, &s.DataTypes); err != nil {
			return nil, fmt.Errorf("decode data_types: %w", err)
		}
	}
	s.CSVsExtracted = nullInt(csvs)
	s.ExtractionQualityScore = nullFloat(quality)
	if len(failed) > 0 {
		if err := json.Unmarshal(failed, &s.FailedTables); err != nil {
			return nil, fmt.Errorf("decode failed_tables: %w", err)
		}
	}
	s.DatasetID = nullUUID(datasetID)
	s.FairScore = nullInt(fair)
	s.RecordsImported = nullInt(records)
	s.AIModel = nullString(aiModel)
	s.ErrorMessage = nullString(errMsg)
	if errStage.Valid {
		st := constants.ErrorStage(errStage.String)
		s.ErrorStage = &st
	}
	s.UserID = nullString(userID)
	s.CompletedAt = nullTime(completedAt)
	return &s, nil
}
