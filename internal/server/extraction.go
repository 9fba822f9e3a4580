package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/extraction"
)

// multipart framing allowance on top of the file limit
const multipartOverhead = 1 << 20

// sessionID reads the {sessionId} path value. A malformed id is answered
// with 400 before any lookup.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid := r.PathValue("sessionId")
	if !common.IsSessionID(sid) {
		s.writeError(w, r, common.InvalidArgumentError("Invalid session id"), "")
		return "", false
	}
	return sid, true
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxUploadBytes > 0 {
		limit := s.opts.MaxUploadBytes + multipartOverhead
		if r.ContentLength > limit {
			s.writeError(w, r, common.InvalidArgumentErrorf("File too large. Maximum size: %dMB. Your file: %.2fMB",
				s.opts.MaxUploadBytes/(1<<20), float64(r.ContentLength)/(1<<20)), "Upload failed")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(s.opts.MaxMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writeError(w, r, common.InvalidArgumentErrorf("File too large. Maximum size: %dMB", s.opts.MaxUploadBytes/(1<<20)), "Upload failed")
			return
		}
		s.writeError(w, r, common.InvalidArgumentError("No PDF file provided"), "Upload failed")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("pdf")
	if err != nil {
		s.writeError(w, r, common.InvalidArgumentError("No PDF file provided"), "Upload failed")
		return
	}
	defer file.Close()

	res, err := s.svc.Sessions.Upload(r.Context(), extraction.UploadRequest{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		s.writeError(w, r, err, "Upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handlePrepareUpload(w http.ResponseWriter, r *http.Request) {
	var req extraction.PrepareRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "Failed to prepare upload")
		return
	}
	res, err := s.svc.Sessions.PrepareUpload(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, "Failed to prepare upload")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConfirmUpload(w http.ResponseWriter, r *http.Request) {
	var req extraction.ConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "Failed to create session")
		return
	}
	res, err := s.svc.Sessions.ConfirmUpload(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, "Failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, common.InvalidArgumentError("limit must be a positive integer"), "Failed to list sessions")
			return
		}
		limit = n
	}
	sessions, err := s.svc.Sessions.List(r.Context(), q.Get("state"), limit)
	if err != nil {
		s.writeError(w, r, err, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleStateCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.Sessions.Counts(r.Context())
	if err != nil {
		s.writeError(w, r, err, "Failed to count sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": counts})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.svc.Sessions.Get(r.Context(), sid)
	if err != nil {
		s.writeError(w, r, err, "Failed to retrieve session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Sessions.Delete(r.Context(), sid); err != nil {
		s.writeError(w, r, err, "Failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	b, err := s.svc.Sessions.Costs(r.Context(), sid)
	if err != nil {
		s.writeError(w, r, err, "Failed to retrieve cost data")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	rc, info, sess, err := s.svc.Sessions.OpenPDF(r.Context(), sid)
	if err != nil {
		s.writeError(w, r, err, "Failed to download PDF")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", sess.PDFFilename))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		common.LoggerFromContext(r.Context(), s.logger).Warn("http.pdf.copy_failed", "error", err)
	}
}

// screenshots are small; anything past this is rejected while parsing
const maxScreenshotBytes = 20 << 20

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxScreenshotBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.opts.MaxMemory); err != nil {
		s.writeError(w, r, common.InvalidArgumentErrorf("Invalid screenshot upload: %v", err), "Failed to upload screenshot")
		return
	}
	defer r.MultipartForm.RemoveAll()

	number, err := strconv.Atoi(r.FormValue("number"))
	if err != nil {
		s.writeError(w, r, common.InvalidArgumentError("Missing table or figure number parameter"), "Failed to upload screenshot")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, r, common.InvalidArgumentError("No image provided"), "Failed to upload screenshot")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, err, "Failed to upload screenshot")
		return
	}
	res, err := s.svc.Sessions.UploadScreenshot(r.Context(), sid, extraction.ScreenshotRequest{
		Kind:   r.FormValue("kind"),
		Number: number,
		Data:   data,
	})
	if err != nil {
		s.writeError(w, r, err, "Failed to upload screenshot")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
