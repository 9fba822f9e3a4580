// Package server exposes the extraction workflow, dataset downloads and QC
// analytics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/export"
	"github.com/joseph-ayodele/thermo-extraction/internal/pipeline"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/analytics"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/dataset"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/extraction"
)

// Pinger reports database health.
type Pinger func(ctx context.Context) error

// Services are the handlers' dependencies.
type Services struct {
	Sessions  *extraction.Service
	Runner    *pipeline.Runner
	Datasets  *dataset.Service
	Export    *export.Service
	Analytics *analytics.Service
	Ping      Pinger
}

// Options tunes request handling.
type Options struct {
	MaxUploadBytes int64
	// multipart parsing keeps up to this much in memory
	MaxMemory int64
}

// Server routes HTTP requests to the services.
type Server struct {
	svc    Services
	opts   Options
	logger *slog.Logger
}

func New(svc Services, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = 32 << 20
	}
	return &Server{svc: svc, opts: opts, logger: logger}
}

// Handler returns the routed handler wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/extraction/upload", s.handleUpload)
	mux.HandleFunc("POST /api/extraction/prepare-upload", s.handlePrepareUpload)
	mux.HandleFunc("POST /api/extraction/confirm-upload", s.handleConfirmUpload)
	mux.HandleFunc("GET /api/extraction", s.handleListSessions)
	mux.HandleFunc("GET /api/extraction/states", s.handleStateCounts)
	mux.HandleFunc("GET /api/extraction/{sessionId}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/extraction/{sessionId}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/extraction/{sessionId}/costs", s.handleCosts)
	mux.HandleFunc("GET /api/extraction/{sessionId}/pdf", s.handlePDF)
	mux.HandleFunc("POST /api/extraction/{sessionId}/screenshots", s.handleScreenshot)
	mux.HandleFunc("POST /api/extraction/{sessionId}/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/extraction/{sessionId}/extract", s.handleExtract)
	mux.HandleFunc("POST /api/extraction/{sessionId}/load", s.handleLoad)

	// "files/{fileId}" and "{id}/files" overlap as mux patterns, so one
	// handler dispatches both shapes.
	mux.HandleFunc("GET /api/datasets/{first}/{second}", s.handleDatasetRoute)

	mux.HandleFunc("GET /api/analytics/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.middleware(mux)
}

// middleware attaches a request id and logger, recovers panics and logs
// each request.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		log := s.logger.With("request_id", rid)
		ctx := common.WithLogger(common.WithRequestID(r.Context(), rid), log)
		w.Header().Set("X-Request-ID", rid)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				log.Error("http.panic", "panic", p, "stack", string(debug.Stack()))
				writeJSON(rec, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
			}
			log.Info("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		}()
		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ping != nil {
		if err := s.svc.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// httpStatus maps a gRPC code onto an HTTP status.
func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Aborted, codes.AlreadyExists:
		return http.StatusConflict
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError turns err into a JSON error response. Failed stages report the
// stage title with the cause as details; other server errors use fallback.
// Server errors echo the request id so a report can be matched to the logs.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	log := common.LoggerFromContext(r.Context(), s.logger)
	rid := common.RequestIDFromContext(r.Context())
	var se *pipeline.StageError
	if errors.As(err, &se) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: se.Title(), Details: se.Error(), RequestID: rid})
		return
	}
	code := common.CodeOf(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		log.Error("http.error", "path", r.URL.Path, "error", err)
		writeJSON(w, status, errorBody{Error: fallback, Details: common.MessageOf(err), RequestID: rid})
		return
	}
	writeJSON(w, status, errorBody{Error: common.MessageOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return common.InvalidArgumentErrorf("Invalid JSON body: %v", err)
	}
	return nil
}
