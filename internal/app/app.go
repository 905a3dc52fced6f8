// Package app assembles the pipeline from configuration. Both the worker
// daemon and the invoicectl CLI build their orchestrator through it.
package app

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/vipul43/invoice-worker/internal/config"
	"github.com/vipul43/invoice-worker/internal/database"
	"github.com/vipul43/invoice-worker/internal/document"
	"github.com/vipul43/invoice-worker/internal/openrouter"
	"github.com/vipul43/invoice-worker/internal/repository"
	"github.com/vipul43/invoice-worker/internal/service"
	"github.com/vipul43/invoice-worker/internal/storage"
)

type App struct {
	Store        *repository.Store
	Progress     *repository.Store
	Orchestrator *service.Orchestrator
	Dispatcher   *service.Dispatcher

	db         *gorm.DB
	progressDB *gorm.DB
	log        *logrus.Logger
}

// New connects both database pools and builds the orchestrator with its
// document reader, extractor and worker pool.
func New(cfg *config.Config, log *logrus.Logger) (*App, error) {
	db, err := database.Connect(cfg.DatabaseURL, database.DefaultPool)
	if err != nil {
		return nil, err
	}

	progressDB, err := database.Connect(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns: cfg.ProgressDBMaxConns,
		MaxIdleConns: cfg.ProgressDBMaxConns,
	})
	if err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to open progress pool: %w", err)
	}

	a := &App{
		Store:      repository.NewStore(db),
		Progress:   repository.NewStore(progressDB),
		db:         db,
		progressDB: progressDB,
		log:        log,
	}

	var remote storage.Store
	if cfg.MinioEndpoint != "" {
		ms, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			a.closeDBs()
			return nil, err
		}
		remote = ms
	}
	source := storage.NewRouter(storage.LocalStore{Root: cfg.UploadDir}, remote)

	reader := document.NewReader(source, cfg.PdftotextPath, log)
	extractor := openrouter.NewClient(openrouter.Config{
		APIKey:  cfg.OpenRouterAPIKey,
		BaseURL: cfg.OpenRouterBaseURL,
		Model:   cfg.ExtractionModel,
		Timeout: time.Duration(cfg.ExtractionTimeout) * time.Second,
	}, log)

	dispatcher, err := service.NewDispatcher(cfg.MaxConcurrentBatches, log)
	if err != nil {
		a.closeDBs()
		return nil, err
	}
	a.Dispatcher = dispatcher

	processor := service.NewFileProcessor(a.Store, reader, extractor, log)
	a.Orchestrator = service.NewOrchestrator(a.Store, a.Progress, processor, log).
		WithDispatcher(dispatcher).
		WithPathValidator(source)

	return a, nil
}

// Migrate applies the embedded schema migrations.
func (a *App) Migrate() error {
	return database.RunMigrations(a.db)
}

// Close stops the worker pool, waiting up to timeout for running batches to
// reach a file boundary, then closes both pools.
func (a *App) Close(timeout time.Duration) {
	if a.Dispatcher != nil {
		a.Dispatcher.Stop(timeout)
	}
	a.closeDBs()
}

func (a *App) closeDBs() {
	if err := database.Close(a.db); err != nil {
		a.log.WithError(err).Warn("failed to close database")
	}
	if err := database.Close(a.progressDB); err != nil {
		a.log.WithError(err).Warn("failed to close progress database")
	}
}
