package repository

import (
	"context"
	"database/sql"
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

const dataFileTable = "data_file"

var dataFileColumns = []string{
	"id", "dataset_id", "file_name", "display_name", "file_path", "file_type",
	"category", "mime_type", "file_size_bytes", "row_count", "description",
	"upload_status", "created_at",
}

type DataFileRepository interface {
	Create(ctx context.Context, f *entity.DataFile) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.DataFile, error)
	// ListByDataset returns files ordered by category then name; category may be empty.
	ListByDataset(ctx context.Context, datasetID uuid.UUID, category constants.FileCategory) ([]*entity.DataFile, error)
}

type dataFileRepo struct {
	c   conn
	log *slog.Logger
}

func NewDataFileRepository(drv *entsql.Driver, log *slog.Logger) DataFileRepository {
	return &dataFileRepo{c: newConn(drv), log: log}
}

func (r *dataFileRepo) Create(ctx context.Context, f *entity.DataFile) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.UploadStatus == "" {
		f.UploadStatus = constants.UploadStatusUploaded
	}
	f.CreatedAt = time.Now().UTC()
	values := map[string]any{
		"id":              f.ID,
		"dataset_id":      f.DatasetID,
		"file_name":       f.FileName,
		"display_name":    f.DisplayName,
		"file_path":       f.FilePath,
		"file_type":       f.FileType,
		"category":        f.Category,
		"mime_type":       f.MimeType,
		"file_size_bytes": f.FileSizeBytes,
		"row_count":       f.RowCount,
		"description":     f.Description,
		"upload_status":   f.UploadStatus,
		"created_at":      f.CreatedAt,
	}
	if err := checkFields(schema.DataFile{}, values); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	ins := r.c.b.Insert(dataFileTable)
	insertValues(ins, values)
	if _, err := r.c.exec(ctx, ins); err != nil {
		r.log.Error("data_file create failed", "dataset_id", f.DatasetID, "path", f.FilePath, "err", err)
		return err
	}
	r.log.Debug("data_file created", "id", f.ID, "dataset_id", f.DatasetID, "path", f.FilePath)
	return nil
}

func (r *dataFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.DataFile, error) {
	q := r.c.b.Select(dataFileColumns...).From(r.c.b.Table(dataFileTable)).Where(entsql.EQ("id", id))
	out, err := r.list(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound("data file", id.String())
	}
	return out[0], nil
}

func (r *dataFileRepo) ListByDataset(ctx context.Context, datasetID uuid.UUID, category constants.FileCategory) ([]*entity.DataFile, error) {
	p := entsql.EQ("dataset_id", datasetID)
	if category != "" {
		p = entsql.And(p, entsql.EQ("category", string(category)))
	}
	q := r.c.b.Select(dataFileColumns...).
		From(r.c.b.Table(dataFileTable)).
		Where(p).
		OrderBy("category", "file_path")
	return r.list(ctx, q)
}

func (r *dataFileRepo) list(ctx context.Context, q *entsql.Selector) ([]*entity.DataFile, error) {
	rows, err := r.c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.DataFile
	for rows.Next() {
		var (
			f        entity.DataFile
			category string
			status   string
			display  sql.NullString
			mimeType sql.NullString
			size     sql.NullInt64
			rowCount sql.NullInt64
			desc     sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.DatasetID, &f.FileName, &display, &f.FilePath, &f.FileType,
			&category, &mimeType, &size, &rowCount, &desc, &status, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan data_file: %v", common.ErrDatabase, err)
		}
		f.Category = constants.FileCategory(category)
		f.UploadStatus = constants.UploadStatus(status)
		f.DisplayName = nullString(display)
		f.MimeType = nullString(mimeType)
		f.FileSizeBytes = nullInt64(size)
		f.RowCount = nullInt(rowCount)
		f.Description = nullString(desc)
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}
