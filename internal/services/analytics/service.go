// Package analytics serves QC statistics over the CV values of test
// configurations.
package analytics

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/repository"
	"github.com/joseph-ayodele/thermo-extraction/internal/stats"
)

const (
	DatasetCurated = "curated"
	DatasetAll     = "all"
)

// Service handles analytics requests.
type Service struct {
	configs repository.TestConfigRepository
	now     func() time.Time
	logger  *slog.Logger
}

// NewService creates a new analytics service.
func NewService(configs repository.TestConfigRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{configs: configs, now: time.Now, logger: logger}
}

// StatsRequest holds the raw query parameters; empty means unfiltered.
type StatsRequest struct {
	Dataset        string
	ManufacturerID string
	AssayID        string
}

// Filter validates the request and turns it into a repository filter.
func (r StatsRequest) Filter() (repository.CVFilter, error) {
	dataset := strings.ToLower(strings.TrimSpace(r.Dataset))
	if dataset == "" {
		dataset = DatasetCurated
	}
	v := common.NewValidator()
	v.Field("dataset", dataset, common.OneOf(DatasetCurated, DatasetAll))
	if err := common.ValidateAndReturnError(v); err != nil {
		return repository.CVFilter{}, err
	}
	f := repository.CVFilter{CuratedOnly: dataset == DatasetCurated}
	var err error
	if f.ManufacturerID, err = optionalID("manufacturerId", r.ManufacturerID); err != nil {
		return repository.CVFilter{}, err
	}
	if f.AssayID, err = optionalID("assayId", r.AssayID); err != nil {
		return repository.CVFilter{}, err
	}
	return f, nil
}

func optionalID(name, raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return nil, common.InvalidArgumentErrorf("%s must be a positive integer", name)
	}
	return &n, nil
}

// Stats computes the report for the filtered configurations. Data problems
// come back as *stats.Error.
func (s *Service) Stats(ctx context.Context, req StatsRequest) (*stats.Report, error) {
	log := common.LoggerFromContext(ctx, s.logger)
	f, err := req.Filter()
	if err != nil {
		return nil, err
	}
	sample, err := s.configs.CVValues(ctx, f)
	if err != nil {
		return nil, common.InternalErrorf("load cv values: %v", err)
	}
	rep, err := stats.Compute(sample.Values, sample.TotalConfigs, s.now())
	if err != nil {
		log.Warn("analytics.stats.rejected", "error", err, "total", sample.TotalConfigs, "with_cv", len(sample.Values))
		return nil, err
	}
	log.Info("analytics.stats.ok", "total", sample.TotalConfigs, "with_cv", rep.DataInfo.ConfigsWithCV)
	return &rep, nil
}
