package server

import (
	"net/http"

	"github.com/joseph-ayodele/thermo-extraction/internal/pipeline"
)

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Runner.Analyze(r.Context(), sid)
	if err != nil {
		s.writeError(w, r, err, "Analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*pipeline.AnalyzeResult
	}{true, res})
}

type extractRequest struct {
	Tables []int `json:"tables"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, "Extraction failed")
		return
	}
	res, err := s.svc.Runner.Extract(r.Context(), sid, req.Tables)
	if err != nil {
		s.writeError(w, r, err, "Extraction failed")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*pipeline.ExtractResult
	}{true, res})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Runner.Load(r.Context(), sid)
	if err != nil {
		s.writeError(w, r, err, "Load failed")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*pipeline.LoadResult
	}{true, res})
}
