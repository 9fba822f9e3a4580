package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"google.golang.org/grpc/codes"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/export"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/analytics"
	"github.com/joseph-ayodele/thermo-extraction/internal/stats"
)

// handleDatasetRoute serves GET /api/datasets/files/{fileId} and
// GET /api/datasets/{id}/files|download-all|workbook.
func (s *Server) handleDatasetRoute(w http.ResponseWriter, r *http.Request) {
	first, second := r.PathValue("first"), r.PathValue("second")
	if first == "files" {
		s.handleDownloadFile(w, r, second)
		return
	}
	switch second {
	case "files":
		s.handleListFiles(w, r, first)
	case "download-all":
		s.handleDownloadAll(w, r, first)
	case "workbook":
		s.handleWorkbook(w, r, first)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, datasetID string) {
	list, err := s.svc.Datasets.ListFiles(r.Context(), datasetID, r.URL.Query().Get("category"))
	if err != nil {
		s.writeError(w, r, err, "Failed to list files")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request, fileID string) {
	rc, f, info, err := s.svc.Datasets.OpenFile(r.Context(), fileID)
	if err != nil {
		s.writeError(w, r, err, "Failed to download file")
		return
	}
	defer rc.Close()
	size := info.Size
	if size <= 0 && f.FileSizeBytes != nil {
		size = *f.FileSizeBytes
	}
	setAttachment(w, f.FileName, constants.ContentTypeFor(f.FileName), size)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		common.LoggerFromContext(r.Context(), s.logger).Warn("http.download.copy_failed", "file_id", fileID, "error", err)
	}
}

func (s *Server) handleDownloadAll(w http.ResponseWriter, r *http.Request, datasetID string) {
	dl, err := s.svc.Export.Bundle(r.Context(), datasetID)
	if err != nil {
		s.writeError(w, r, err, "Failed to create ZIP file")
		return
	}
	writeDownload(w, dl)
}

func (s *Server) handleWorkbook(w http.ResponseWriter, r *http.Request, datasetID string) {
	dl, err := s.svc.Export.Workbook(r.Context(), datasetID)
	if err != nil {
		s.writeError(w, r, err, "Failed to create workbook")
		return
	}
	writeDownload(w, dl)
}

func writeDownload(w http.ResponseWriter, dl *export.Download) {
	setAttachment(w, dl.Filename, dl.ContentType, int64(len(dl.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, bytes.NewReader(dl.Data))
}

func setAttachment(w http.ResponseWriter, name, contentType string, size int64) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
}

// statsErrorBody is the analytics error response.
type statsErrorBody struct {
	Error           string `json:"error"`
	ErrorType       string `json:"errorType"`
	Message         string `json:"message"`
	DataPoints      *int   `json:"dataPoints,omitempty"`
	MinimumRequired *int   `json:"minimumRequired,omitempty"`
	Suggestion      string `json:"suggestion,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, err := s.svc.Analytics.Stats(r.Context(), analytics.StatsRequest{
		Dataset:        q.Get("dataset"),
		ManufacturerID: q.Get("manufacturerId"),
		AssayID:        q.Get("assayId"),
	})
	if err == nil {
		writeJSON(w, http.StatusOK, rep)
		return
	}

	var se *stats.Error
	if !errors.As(err, &se) {
		if common.CodeOf(err) == codes.InvalidArgument {
			s.writeError(w, r, err, "")
			return
		}
		common.LoggerFromContext(r.Context(), s.logger).Error("analytics.stats.failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, statsErrorBody{
			Error:     "Failed to calculate statistics",
			ErrorType: "SERVER_ERROR",
			Message:   common.MessageOf(err),
		})
		return
	}
	switch se.Type {
	case stats.NoData:
		writeJSON(w, http.StatusNotFound, statsErrorBody{
			Error:     "No CV data available for analysis",
			ErrorType: string(se.Type),
			Message:   "No test configurations found matching the selected filters.",
		})
	case stats.InsufficientData:
		points, minimum := se.DataPoints, stats.MinDataPoints
		writeJSON(w, http.StatusUnprocessableEntity, statsErrorBody{
			Error:           "Insufficient data for statistical analysis",
			ErrorType:       string(se.Type),
			Message:         se.Error(),
			DataPoints:      &points,
			MinimumRequired: &minimum,
			Suggestion:      "Try selecting broader filters (e.g., manufacturer only, or pathogen only) to include more test configurations.",
		})
	default:
		writeJSON(w, http.StatusUnprocessableEntity, statsErrorBody{
			Error:     "Statistical calculation failed",
			ErrorType: string(se.Type),
			Message:   se.Error(),
		})
	}
}
