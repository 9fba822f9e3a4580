package dataset

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/constants"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
	"github.com/joseph-ayodele/thermo-extraction/internal/repository"
	"github.com/joseph-ayodele/thermo-extraction/internal/storage"
)

// Service handles dataset file listing and downloads.
type Service struct {
	datasets repository.DatasetRepository
	files    repository.DataFileRepository
	store    storage.Store
	logger   *slog.Logger
}

// NewService creates a new dataset service.
func NewService(datasets repository.DatasetRepository, files repository.DataFileRepository, store storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{datasets: datasets, files: files, store: store, logger: logger}
}

// FileList is the response of ListFiles.
type FileList struct {
	Dataset *entity.Dataset    `json:"dataset"`
	Files   []*entity.DataFile `json:"files"`
	Count   int                `json:"count"`
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, common.InvalidArgumentErrorf("Invalid %s id", what)
	}
	return id, nil
}

// ListFiles returns the files of a dataset, optionally restricted to one
// category (synonyms like "csv" or "figures" are accepted).
func (s *Service) ListFiles(ctx context.Context, datasetID, category string) (*FileList, error) {
	id, err := parseID(datasetID, "dataset")
	if err != nil {
		return nil, err
	}
	var cat constants.FileCategory
	if category != "" {
		c, ok := constants.Canonicalize(category)
		if !ok {
			return nil, common.InvalidArgumentErrorf("Invalid category: %s (one of %s)", category,
				strings.Join(constants.AsStringSlice(), ", "))
		}
		cat = c
	}
	ds, err := s.datasets.GetByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NotFoundError("Dataset not found")
	}
	if err != nil {
		return nil, common.InternalErrorf("get dataset: %v", err)
	}
	files, err := s.files.ListByDataset(ctx, id, cat)
	if err != nil {
		return nil, common.InternalErrorf("list files: %v", err)
	}
	if files == nil {
		files = []*entity.DataFile{}
	}
	return &FileList{Dataset: ds, Files: files, Count: len(files)}, nil
}

// OpenFile streams one stored file. The caller closes the reader.
func (s *Service) OpenFile(ctx context.Context, fileID string) (io.ReadCloser, *entity.DataFile, storage.ObjectInfo, error) {
	id, err := parseID(fileID, "file")
	if err != nil {
		return nil, nil, storage.ObjectInfo{}, err
	}
	f, err := s.files.GetByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil, storage.ObjectInfo{}, common.NotFoundError("File not found")
	}
	if err != nil {
		return nil, nil, storage.ObjectInfo{}, common.InternalErrorf("get file: %v", err)
	}
	if f.UploadStatus == constants.UploadStatusMissing {
		return nil, nil, storage.ObjectInfo{}, common.NotFoundError("File was not uploaded")
	}
	rc, info, err := s.store.Get(ctx, storage.BucketDatasets, f.FilePath)
	if errors.Is(err, storage.ErrNotFound) {
		common.LoggerFromContext(ctx, s.logger).Warn("dataset.file.missing", "file_id", id, "path", f.FilePath)
		return nil, nil, storage.ObjectInfo{}, common.NotFoundError("File not found in storage")
	}
	if err != nil {
		return nil, nil, storage.ObjectInfo{}, common.InternalErrorf("open file: %v", err)
	}
	return rc, f, info, nil
}
