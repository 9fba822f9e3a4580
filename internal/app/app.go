// Package app assembles the repositories, blob store, AI backend, stage runner
// and services from a loaded configuration. Every binary builds on it.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gcs "cloud.google.com/go/storage"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/export"
	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
	"github.com/joseph-ayodele/thermo-extraction/internal/llm/anthropic"
	"github.com/joseph-ayodele/thermo-extraction/internal/llm/openai"
	"github.com/joseph-ayodele/thermo-extraction/internal/llm/vertex"
	"github.com/joseph-ayodele/thermo-extraction/internal/ocr"
	"github.com/joseph-ayodele/thermo-extraction/internal/pipeline"
	repo "github.com/joseph-ayodele/thermo-extraction/internal/repository"
	"github.com/joseph-ayodele/thermo-extraction/internal/server"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/analytics"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/dataset"
	"github.com/joseph-ayodele/thermo-extraction/internal/services/extraction"
	"github.com/joseph-ayodele/thermo-extraction/internal/storage"
)

// staleRunning is how long a session may sit in a running state before a
// new stage call is allowed to take it over.
const staleRunning = 30 * time.Minute

type App struct {
	Config *common.Config
	Driver *entsql.Driver
	Pool   *pgxpool.Pool
	Store  storage.Store
	AI     llm.Client
	OCR    *ocr.Extractor

	SessionsRepo repo.SessionRepository
	DatasetsRepo repo.DatasetRepository
	FilesRepo    repo.DataFileRepository
	ConfigsRepo  repo.TestConfigRepository

	Runner    *pipeline.Runner
	Sessions  *extraction.Service
	Datasets  *dataset.Service
	Export    *export.Service
	Analytics *analytics.Service

	logger  *slog.Logger
	closers []func()
}

// New connects everything cfg describes. On error, anything already opened
// is closed again.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	drv, pool, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.Driver, a.Pool = drv, pool
	a.closers = append(a.closers, func() { server.CloseDB(drv, pool, logger) })

	if a.Store, err = a.openStore(ctx, cfg.Storage); err != nil {
		a.Close()
		return nil, err
	}
	ai, closeAI, err := NewAIClient(ctx, cfg.AI, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.AI = ai
	a.closers = append(a.closers, closeAI)

	a.OCR = ocr.NewExtractor(ocr.Config{
		Pdftotext:   cfg.OCR.Pdftotext,
		Pdftoppm:    cfg.OCR.Pdftoppm,
		Tesseract:   cfg.OCR.Tesseract,
		TessdataDir: cfg.OCR.TessdataDir,
	}, logger)

	a.SessionsRepo = repo.NewSessionRepository(drv, logger)
	a.DatasetsRepo = repo.NewDatasetRepository(drv, logger)
	a.FilesRepo = repo.NewDataFileRepository(drv, logger)
	a.ConfigsRepo = repo.NewTestConfigRepository(drv, logger)

	a.Runner = pipeline.NewRunner(pipeline.Deps{
		Sessions: a.SessionsRepo,
		Datasets: a.DatasetsRepo,
		Files:    a.FilesRepo,
		Store:    a.Store,
		AI:       a.AI,
		Text:     a.OCR,
		Renderer: a.OCR,
	}, pipeline.Options{
		ExtractConcurrency: cfg.Pipeline.ExtractConcurrency,
		QualityReview:      cfg.Pipeline.QualityReview,
		AITimeout:          cfg.AI.Timeout,
		StaleAfter:         staleRunning,
	}, logger)

	a.Sessions = extraction.NewService(a.SessionsRepo, a.Store, extraction.Limits{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		DirectMaxBytes: cfg.Upload.DirectMaxSizeMB * 1024 * 1024,
	}, logger)
	a.Datasets = dataset.NewService(a.DatasetsRepo, a.FilesRepo, a.Store, logger)
	a.Export = export.NewService(a.DatasetsRepo, a.FilesRepo, a.Store, logger)
	a.Analytics = analytics.NewService(a.ConfigsRepo, logger)
	return a, nil
}

// Ping checks the database within timeout.
func (a *App) Ping(ctx context.Context, timeout time.Duration) error {
	return server.PingDB(ctx, a.Driver, a.logger, timeout)
}

// Server builds the HTTP API over the assembled services.
func (a *App) Server() *server.Server {
	return server.New(server.Services{
		Sessions:  a.Sessions,
		Runner:    a.Runner,
		Datasets:  a.Datasets,
		Export:    a.Export,
		Analytics: a.Analytics,
		Ping: func(ctx context.Context) error {
			return a.Ping(ctx, 2*time.Second)
		},
	}, server.Options{MaxUploadBytes: a.Config.MaxUploadBytes()}, a.logger)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context, cfg common.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("gcs client close failed", "error", err)
			}
		})
		return storage.NewGCS(client, cfg.BucketPrefix, cfg.SignerEmail, a.logger), nil
	case "local":
		return storage.NewLocal(cfg.Dir, a.logger)
	default:
		return nil, common.NewAppError("CONFIG_ERROR", "unknown storage backend "+cfg.Backend, common.ErrInvalidInput)
	}
}

// NewAIClient builds the completion backend cfg.Provider names. The returned
// func releases it.
func NewAIClient(ctx context.Context, cfg common.AIConfig, logger *slog.Logger) (llm.Client, func(), error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}, logger), func() {}, nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), func() {}, nil
	case "vertex":
		c, err := vertex.NewClient(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.Model, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {
			if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("vertex client close failed", "error", err)
			}
		}, nil
	default:
		return nil, nil, common.NewAppError("CONFIG_ERROR", "unknown AI provider "+cfg.Provider, common.ErrInvalidInput)
	}
}
