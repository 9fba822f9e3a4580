package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/db/ent/schema"
	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
)

const datasetTable = "dataset"

var datasetColumns = []string{
	"id", "dataset_name", "description", "doi", "full_citation",
	"publication_year", "publication_journal", "publication_volume_pages",
	"authors", "affiliations", "supplementary_url",
	"study_location", "mineral_analyzed", "sample_count",
	"age_range_min_ma", "age_range_max_ma",
	"source_session_id", "created_at",
}

type DatasetRepository interface {
	Create(ctx context.Context, d *entity.Dataset) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Dataset, error)
	// FindByDOI matches case-insensitively; it returns common.ErrNotFound when absent.
	FindByDOI(ctx context.Context, doi string) (*entity.Dataset, error)
}

type datasetRepo struct {
	c   conn
	log *slog.Logger
}

func NewDatasetRepository(drv *entsql.Driver, log *slog.Logger) DatasetRepository {
	return &datasetRepo{c: newConn(drv), log: log}
}

func (r *datasetRepo) Create(ctx context.Context, d *entity.Dataset) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now().UTC()
	if d.DOI != nil {
		norm := strings.ToLower(strings.TrimSpace(*d.DOI))
		d.DOI = &norm
	}
	authors, err := jsonValue(d.Authors)
	if err != nil {
		return err
	}
	affiliations, err := jsonValue(d.Affiliations)
	if err != nil {
		return err
	}
	values := map[string]any{
		"id":                  d.ID,
		"dataset_name":        d.DatasetName,
		"description":         d.Description,
		"doi":                 d.DOI,
		"full_citation":       d.FullCitation,
		"publication_year":    d.PublicationYear,
		"publication_journal": d.PublicationJournal,
		"authors":             authors,
		"affiliations":        affiliations,
		"supplementary_url":   d.SupplementaryURL,
		"source_session_id":   d.SourceSessionID,
		"created_at":          d.CreatedAt,

		"publication_volume_pages": d.VolumePages,
		"study_location":           d.StudyLocation,
		"mineral_analyzed":         d.MineralAnalyzed,
		"sample_count":             d.SampleCount,
		"age_range_min_ma":         d.AgeRangeMinMa,
		"age_range_max_ma":         d.AgeRangeMaxMa,
	}
	if err := checkFields(schema.Dataset{}, values); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	ins := r.c.b.Insert(datasetTable)
	insertValues(ins, values)
	if _, err := r.c.exec(ctx, ins); err != nil {
		r.log.Error("dataset create failed", "name", d.DatasetName, "err", err)
		return err
	}
	r.log.Info("dataset created", "dataset_id", d.ID, "name", d.DatasetName)
	return nil
}

func (r *datasetRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Dataset, error) {
	return r.one(ctx, entsql.EQ("id", id), id.String())
}

func (r *datasetRepo) FindByDOI(ctx context.Context, doi string) (*entity.Dataset, error) {
	doi = strings.ToLower(strings.TrimSpace(doi))
	if doi == "" {
		return nil, notFound("dataset doi", doi)
	}
	return r.one(ctx, entsql.EQ("doi", doi), doi)
}

func (r *datasetRepo) one(ctx context.Context, p *entsql.Predicate, key string) (*entity.Dataset, error) {
	q := r.c.b.Select(datasetColumns...).From(r.c.b.Table(datasetTable)).Where(p).Limit(1)
	rows, err := r.c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
		}
		return nil, notFound("dataset", key)
	}
	var (
		d            entity.Dataset
		desc         sql.NullString
		doi          sql.NullString
		citation     sql.NullString
		year         sql.NullInt64
		journal      sql.NullString
		volume       sql.NullString
		authors      []byte
		affiliations []byte
		suppl        sql.NullString
		location     sql.NullString
		mineral      sql.NullString
		samples      sql.NullInt64
		ageMin       sql.NullFloat64
		ageMax       sql.NullFloat64
		source       sql.NullString
	)
	if err := rows.Scan(&d.ID, &d.DatasetName, &desc, &doi, &citation, &year, &journal, &volume,
		&authors, &affiliations, &suppl, &location, &mineral, &samples, &ageMin, &ageMax,
		&source, &d.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: scan dataset: %v", common.ErrDatabase, err)
	}
	d.Description = nullString(desc)
	d.DOI = nullString(doi)
	d.FullCitation = nullString(citation)
	d.PublicationYear = nullInt(year)
	d.PublicationJournal = nullString(journal)
	d.VolumePages = nullString(volume)
	d.SupplementaryURL = nullString(suppl)
	d.StudyLocation = nullString(location)
	d.MineralAnalyzed = nullString(mineral)
	d.SampleCount = nullInt(samples)
	d.AgeRangeMinMa = nullFloat(ageMin)
	d.AgeRangeMaxMa = nullFloat(ageMax)
	d.SourceSessionID = nullString(source)
	if len(authors) > 0 {
		_ = json.Unmarshal(authors, &d.Authors)
	}
	if len(affiliations) > 0 {
		_ = json.Unmarshal(affiliations, &d.Affiliations)
	}
	return &d, nil
}
