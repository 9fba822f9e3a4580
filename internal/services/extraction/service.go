// Package extraction manages extraction sessions outside of the stage runs:
// uploads, direct uploads, screenshots, listing, costs and deletion.
package extraction

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/costs"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
	"github.com/joseph-ayodele/thermo-extraction/internal/ocr"
	"github.com/joseph-ayodele/thermo-extraction/internal/pipeline"
	"github.com/joseph-ayodele/thermo-extraction/internal/repository"
	"github.com/joseph-ayodele/thermo-extraction/internal/storage"
)

const (
	sessionIDPrefix = "extract-"
	sessionIDLen    = 10
	idAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

	DefaultListLimit = 50
	MaxListLimit     = 200

	signedURLTTL = 15 * time.Minute
)

// Limits caps upload sizes in bytes.
type Limits struct {
	MaxUploadBytes int64
	DirectMaxBytes int64
}

// Service handles session bookkeeping.
type Service struct {
	sessions repository.SessionRepository
	store    storage.Store
	limits   Limits
	logger   *slog.Logger
}

// NewService creates a new extraction session service.
func NewService(sessions repository.SessionRepository, store storage.Store, limits Limits, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sessions: sessions, store: store, limits: limits, logger: logger}
}

// NewSessionID returns "extract-" followed by ten URL-safe random characters.
func NewSessionID() (string, error) {
	b := make([]byte, sessionIDLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	for i := range b {
		b[i] = idAlphabet[b[i]&63]
	}
	return sessionIDPrefix + string(b), nil
}

// ValidateUpload checks the declared type and size of an upload.
func ValidateUpload(mimeType string, size, maxBytes int64) error {
	if !constants.IsPDFMime(mimeType) {
		return common.InvalidArgumentErrorf("Invalid file type. Must be a PDF. Got: %s", mimeType)
	}
	if maxBytes > 0 && size > maxBytes {
		return common.InvalidArgumentErrorf("File too large. Maximum size: %dMB. Your file: %.2fMB",
			maxBytes/(1<<20), float64(size)/(1<<20))
	}
	if size <= 0 {
		return common.InvalidArgumentError("File is empty")
	}
	return nil
}

// maxFilenameLength bounds the stored pdf_filename.
const maxFilenameLength = 255

// OriginalKey is where a session's uploaded PDF lives.
func OriginalKey(sessionID string) string {
	return pipeline.SessionKey(sessionID, pipeline.KeyOriginalPDF)
}

// UploadRequest is one multipart upload.
type UploadRequest struct {
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

// UploadResult is returned after a session has been created.
type UploadResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
}

// Upload validates the PDF, stores it and creates a session in "uploaded".
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	log := common.LoggerFromContext(ctx, s.logger)
	if err := ValidateUpload(req.MimeType, req.Size, s.limits.MaxUploadBytes); err != nil {
		return nil, err
	}
	v := common.NewValidator()
	v.Field("filename", baseName(req.Filename), common.MaxLength(maxFilenameLength))
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	limit := req.Size + 1
	if s.limits.MaxUploadBytes > 0 {
		limit = s.limits.MaxUploadBytes + 1
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, limit))
	if err != nil {
		return nil, common.InternalErrorf("read upload: %v", err)
	}
	if err := ValidateUpload(req.MimeType, int64(len(data)), s.limits.MaxUploadBytes); err != nil {
		return nil, err
	}
	pages, err := checkPDF(data)
	if err != nil {
		return nil, err
	}

	sid, err := NewSessionID()
	if err != nil {
		return nil, common.InternalError(err.Error())
	}
	key := OriginalKey(sid)
	if _, err := s.store.Put(ctx, storage.BucketExtractions, key, bytes.NewReader(data),
		storage.PutOptions{ContentType: "application/pdf", IfAbsent: true}); err != nil {
		log.Error("session.upload.store_failed", "session_id", sid, "error", err)
		return nil, common.InternalErrorf("Failed to upload file: %v", err)
	}
	filename := baseName(req.Filename)
	if err := s.create(ctx, sid, filename, key, int64(len(data))); err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), storage.BucketExtractions, key); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
			log.Warn("session.upload.cleanup_failed", "session_id", sid, "error", derr)
		}
		return nil, err
	}
	log.Info("session.created", "session_id", sid, "filename", filename, "size", len(data), "pages", pages)
	return &UploadResult{Success: true, SessionID: sid, Filename: filename, Size: int64(len(data))}, nil
}

// create inserts the session row. It never touches storage.
func (s *Service) create(ctx context.Context, sid, filename, key string, size int64) error {
	sess := &entity.Session{
		SessionID:    sid,
		PDFFilename:  filename,
		PDFPath:      key,
		PDFSizeBytes: size,
		State:        constants.StateUploaded,
		CurrentStep:  1,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return common.InternalErrorf("Failed to create extraction session: %v", err)
	}
	return nil
}

// PrepareRequest announces a direct upload.
type PrepareRequest struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// PrepareResult tells the client where to put the file.
type PrepareResult struct {
	Success    bool   `json:"success"`
	SessionID  string `json:"sessionId"`
	UploadPath string `json:"uploadPath"`
	Bucket     string `json:"bucket"`
	UploadURL  string `json:"uploadUrl,omitempty"`
}

// PrepareUpload reserves a session id for a direct upload. A signed URL is
// included when the store can presign.
func (s *Service) PrepareUpload(ctx context.Context, req PrepareRequest) (*PrepareResult, error) {
	v := common.NewValidator()
	v.Field("filename", req.Filename, common.Required)
	v.Field("filename", baseName(req.Filename), common.MaxLength(maxFilenameLength))
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	if err := ValidateUpload(req.MimeType, req.FileSize, s.limits.DirectMaxBytes); err != nil {
		return nil, err
	}
	sid, err := NewSessionID()
	if err != nil {
		return nil, common.InternalError(err.Error())
	}
	out := &PrepareResult{
		Success:    true,
		SessionID:  sid,
		UploadPath: OriginalKey(sid),
		Bucket:     storage.BucketExtractions,
	}
	if p, ok := s.store.(storage.Presigner); ok {
		url, err := p.SignedPutURL(ctx, storage.BucketExtractions, out.UploadPath, "application/pdf", signedURLTTL)
		if err != nil {
			return nil, common.InternalErrorf("Failed to prepare upload: %v", err)
		}
		out.UploadURL = url
	}
	common.LoggerFromContext(ctx, s.logger).Info("session.upload.prepared", "session_id", sid, "size", req.FileSize)
	return out, nil
}

// ConfirmRequest reports a finished direct upload.
type ConfirmRequest struct {
	SessionID  string `json:"sessionId"`
	Filename   string `json:"filename"`
	UploadPath string `json:"uploadPath"`
}

// ConfirmUpload validates a directly uploaded object and creates its session.
func (s *Service) ConfirmUpload(ctx context.Context, req ConfirmRequest) (*UploadResult, error) {
	v := common.NewValidator()
	v.Field("sessionId", req.SessionID, common.SessionID)
	v.Field("filename", req.Filename, common.Required)
	v.Field("filename", baseName(req.Filename), common.MaxLength(maxFilenameLength))
	v.Field("uploadPath", req.UploadPath, common.Required)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	if req.UploadPath != OriginalKey(req.SessionID) {
		return nil, common.InvalidArgumentErrorf("uploadPath must be %s", OriginalKey(req.SessionID))
	}
	// The object under an existing session's key is that session's paper.
	if _, err := s.sessions.GetBySessionID(ctx, req.SessionID); err == nil {
		return nil, common.AbortedError("Session already exists")
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, common.InternalErrorf("get session: %v", err)
	}
	info, err := s.store.Stat(ctx, storage.BucketExtractions, req.UploadPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, common.NotFoundError("Uploaded file not found")
	}
	if err != nil {
		return nil, common.InternalErrorf("stat upload: %v", err)
	}
	if s.limits.DirectMaxBytes > 0 && info.Size > s.limits.DirectMaxBytes {
		return nil, common.InvalidArgumentErrorf("File too large. Maximum size: %dMB. Your file: %.2fMB",
			s.limits.DirectMaxBytes/(1<<20), float64(info.Size)/(1<<20))
	}
	data, err := storage.GetBytes(ctx, s.store, storage.BucketExtractions, req.UploadPath)
	if err != nil {
		return nil, common.InternalErrorf("read upload: %v", err)
	}
	if _, err := checkPDF(data); err != nil {
		return nil, err
	}
	filename := baseName(req.Filename)
	if err := s.create(ctx, req.SessionID, filename, req.UploadPath, int64(len(data))); err != nil {
		return nil, err
	}
	common.LoggerFromContext(ctx, s.logger).Info("session.created", "session_id", req.SessionID, "filename", filename, "size", len(data), "direct", true)
	return &UploadResult{Success: true, SessionID: req.SessionID, Filename: filename, Size: int64(len(data))}, nil
}

// checkPDF sniffs the content and parses it, returning the page count.
func checkPDF(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, common.InvalidArgumentError("File is empty")
	}
	if mt := mimetype.Detect(data); !mt.Is("application/pdf") {
		return 0, common.InvalidArgumentErrorf("Invalid file type. Must be a PDF. Got: %s", mt.String())
	}
	pages, err := ocr.PageCount(data)
	if err != nil {
		return 0, common.InvalidArgumentErrorf("Invalid PDF: %v", err)
	}
	return pages, nil
}

func baseName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload.pdf"
	}
	return name
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, sessionID string) (*entity.Session, error) {
	sess, err := s.sessions.GetBySessionID(ctx, sessionID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NotFoundError("Session not found")
	}
	if err != nil {
		return nil, common.InternalErrorf("get session: %v", err)
	}
	return sess, nil
}

// List returns sessions newest first, optionally filtered by state.
func (s *Service) List(ctx context.Context, state string, limit int) ([]*entity.Session, error) {
	var filter *constants.SessionState
	if state != "" {
		st, ok := constants.ParseSessionState(state)
		if !ok {
			return nil, common.InvalidArgumentErrorf("Invalid state: %s", state)
		}
		filter = &st
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	out, err := s.sessions.List(ctx, filter, limit)
	if err != nil {
		return nil, common.InternalErrorf("list sessions: %v", err)
	}
	return out, nil
}

// Counts returns the number of sessions in every state.
func (s *Service) Counts(ctx context.Context) (entity.StateCounts, error) {
	out, err := s.sessions.CountByState(ctx)
	if err != nil {
		return nil, common.InternalErrorf("count sessions: %v", err)
	}
	return out, nil
}

// Costs prices the session's recorded token usage.
func (s *Service) Costs(ctx context.Context, sessionID string) (*costs.Breakdown, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	b := costs.ForSession(sess)
	return &b, nil
}

// Delete removes the session's files (best effort) and then its row.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	log := common.LoggerFromContext(ctx, s.logger)
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	n, errs := storage.DeletePrefix(ctx, s.store, storage.BucketExtractions, sessionID+"/")
	for _, err := range errs {
		log.Warn("session.delete.file_failed", "session_id", sessionID, "error", err)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.NotFoundError("Session not found")
		}
		return common.InternalErrorf("delete session: %v", err)
	}
	log.Info("session.deleted", "session_id", sessionID, "files", n)
	return nil
}

// OpenPDF streams the session's original PDF. The caller closes the reader.
func (s *Service) OpenPDF(ctx context.Context, sessionID string) (io.ReadCloser, storage.ObjectInfo, *entity.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, storage.ObjectInfo{}, nil, err
	}
	key := sess.PDFPath
	if key == "" {
		key = OriginalKey(sessionID)
	}
	rc, info, err := s.store.Get(ctx, storage.BucketExtractions, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.ObjectInfo{}, nil, common.NotFoundError("PDF not found")
	}
	if err != nil {
		return nil, storage.ObjectInfo{}, nil, common.InternalErrorf("open pdf: %v", err)
	}
	return rc, info, sess, nil
}

// ScreenshotRequest uploads an image of one table or figure.
type ScreenshotRequest struct {
	Kind   string
	Number int
	Data   []byte
}

// ScreenshotResult describes the stored image.
type ScreenshotResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Number  int    `json:"number"`
	Size    int    `json:"size"`
}

// UploadScreenshot stores a PNG or JPEG for a table or figure, replacing any
// earlier image of the same item.
func (s *Service) UploadScreenshot(ctx context.Context, sessionID string, req ScreenshotRequest) (*ScreenshotResult, error) {
	v := common.NewValidator()
	v.Field("kind", req.Kind, common.OneOf("table", "figure"))
	v.Field("number", req.Number, common.Positive)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	if len(req.Data) == 0 {
		return nil, common.InvalidArgumentError("No image provided")
	}
	mt := mimetype.Detect(req.Data)
	ext, ok := constants.ScreenshotMimeTypes[mt.String()]
	if !ok {
		return nil, common.InvalidArgumentErrorf("Invalid image type. Must be PNG or JPEG. Got: %s", mt.String())
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	key := pipeline.ScreenshotKey(sessionID, req.Kind, req.Number, ext)
	if err := storage.PutBytes(ctx, s.store, storage.BucketExtractions, key, req.Data, mt.String()); err != nil {
		return nil, common.InternalErrorf("store screenshot: %v", err)
	}
	for _, other := range constants.ScreenshotMimeTypes {
		if other == ext {
			continue
		}
		stale := pipeline.ScreenshotKey(sessionID, req.Kind, req.Number, other)
		if err := s.store.Delete(ctx, storage.BucketExtractions, stale); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("session.screenshot.cleanup_failed", "key", stale, "error", err)
		}
	}
	common.LoggerFromContext(ctx, s.logger).Info("session.screenshot.stored", "session_id", sessionID, "key", key, "size", len(req.Data))
	return &ScreenshotResult{Success: true, Path: key, Kind: req.Kind, Number: req.Number, Size: len(req.Data)}, nil
}
