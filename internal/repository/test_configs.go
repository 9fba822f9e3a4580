package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
)

const testConfigTable = "test_config"

// CVFilter narrows the configurations fed to the statistics endpoint.
type CVFilter struct {
	CuratedOnly    bool
	ManufacturerID *int
	AssayID        *int
}

// CVSample is the result of a filtered CV query.
type CVSample struct {
	TotalConfigs int
	Values       []float64 // only configurations with a CV value
}

type TestConfigRepository interface {
	Create(ctx context.Context, tc *entity.TestConfig) error
	CVValues(ctx context.Context, f CVFilter) (CVSample, error)
}

type testConfigRepo struct {
	c   conn
	log *slog.Logger
}

func NewTestConfigRepository(drv *entsql.Driver, log *slog.Logger) TestConfigRepository {
	return &testConfigRepo{c: newConn(drv), log: log}
}

func (r *testConfigRepo) Create(ctx context.Context, tc *entity.TestConfig) error {
	if tc.ID == uuid.Nil {
		tc.ID = uuid.New()
	}
	tc.CreatedAt = time.Now().UTC()
	ins := r.c.b.Insert(testConfigTable)
	insertValues(ins, map[string]any{
		"id":                  tc.ID,
		"manufacturer_id":     tc.ManufacturerID,
		"assay_id":            tc.AssayID,
		"curated":             tc.Curated,
		"cv_lt_10_percentage": tc.CVLt10Percentage,
		"created_at":          tc.CreatedAt,
	})
	if _, err := r.c.exec(ctx, ins); err != nil {
		r.log.Error("test_config create failed", "err", err)
		return err
	}
	return nil
}

func (r *testConfigRepo) CVValues(ctx context.Context, f CVFilter) (CVSample, error) {
	var preds []*entsql.Predicate
	if f.CuratedOnly {
		preds = append(preds, entsql.EQ("curated", true))
	}
	if f.ManufacturerID != nil {
		preds = append(preds, entsql.EQ("manufacturer_id", *f.ManufacturerID))
	}
	if f.AssayID != nil {
		preds = append(preds, entsql.EQ("assay_id", *f.AssayID))
	}
	q := r.c.b.Select("cv_lt_10_percentage").
		From(r.c.b.Table(testConfigTable)).
		OrderBy("created_at", "id")
	if len(preds) > 0 {
		q.Where(entsql.And(preds...))
	}
	rows, err := r.c.query(ctx, q)
	if err != nil {
		return CVSample{}, err
	}
	defer rows.Close()

	var out CVSample
	for rows.Next() {
		var cv sql.NullFloat64
		if err := rows.Scan(&cv); err != nil {
			return CVSample{}, fmt.Errorf("%w: scan cv: %v", common.ErrDatabase, err)
		}
		out.TotalConfigs++
		if cv.Valid {
			out.Values = append(out.Values, cv.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return CVSample{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	r.log.Debug("cv values loaded", "total", out.TotalConfigs, "with_cv", len(out.Values))
	return out, nil
}
