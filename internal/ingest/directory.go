// Package ingest creates extraction sessions from PDFs on the local disk.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/extraction"
)

// Uploader is the session-creating half of the extraction service.
type Uploader interface {
	Upload(ctx context.Context, req extraction.UploadRequest) (*extraction.UploadResult, error)
}

type FileResult struct {
	Path      string
	SessionID string
	Err       string
}

type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

type Usecase struct {
	sessions Uploader
	logger   *slog.Logger
}

func NewUsecase(sessions Uploader, logger *slog.Logger) *Usecase {
	if logger == nil {
		logger = slog.Default()
	}
	return &Usecase{sessions: sessions, logger: logger}
}

// IngestPath uploads a single PDF and returns the new session id.
func (u *Usecase) IngestPath(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	res, err := u.sessions.Upload(ctx, extraction.UploadRequest{
		Filename: filepath.Base(path),
		MimeType: "application/pdf",
		Size:     info.Size(),
		Body:     f,
	})
	if err != nil {
		return "", err
	}
	return res.SessionID, nil
}

// IngestDirectory walks root, skips hidden entries if requested, and creates
// a session for each PDF. A failing file is recorded and the walk continues.
func (u *Usecase) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsPDF(path) {
			return nil
		}
		stats.Matched++

		sid, err := u.IngestPath(ctx, path)
		if err != nil {
			u.logger.Warn("ingest.file.failed", "path", path, "error", common.MessageOf(err))
			results = append(results, FileResult{Path: path, Err: common.MessageOf(err)})
			stats.Failed++
			return nil
		}
		results = append(results, FileResult{Path: path, SessionID: sid})
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	u.logger.Info("ingest.directory.ok", "root", root, "matched", stats.Matched, "succeeded", stats.Succeeded, "failed", stats.Failed)
	return results, stats, nil
}
