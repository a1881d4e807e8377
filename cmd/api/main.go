package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/api/handlers"
	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	"github.com/dvloznov/statement-analyzer/internal/app"
	"github.com/dvloznov/statement-analyzer/internal/config"
	"github.com/dvloznov/statement-analyzer/internal/gcsuploader"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-analyzer/internal/jobs/sqlstore"
	"github.com/dvloznov/statement-analyzer/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML config file (default ./config.yaml if present)")
		port       = flag.Int("port", 0, "HTTP server port (overrides server.port)")
		uploadDir  = flag.String("upload-dir", filepath.Join(os.TempDir(), "statement-uploads"), "Directory for uploaded PDFs")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	log, err := logger.Configure(cfg.Logger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log settings: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		log.Fatal().Err(err).Msg("Cannot start without model credentials")
	}

	ctx := logger.WithContext(context.Background(), log)

	var storage *gcsuploader.Client
	if cfg.GCS.Bucket != "" {
		storage, err = gcsuploader.NewClient(ctx, cfg.GCS.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer storage.Close()
	} else {
		log.Warn().Msg("No GCS bucket configured - uploads stay local and reports are not archived")
	}

	var analyzerStorage gcsuploader.StorageService
	if storage != nil {
		analyzerStorage = storage
	}
	analyzer, err := app.NewAnalyzer(ctx, cfg, analyzerStorage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create analyzer")
	}

	var after []handlers.AfterBatch
	if storage != nil {
		after = append(after, app.ReportUploader(storage, cfg.GCS.Bucket, cfg.GCS.ReportPrefix))
	}
	if cfg.BigQuery.Enabled {
		repo, err := app.NewBigQueryRepository(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open BigQuery")
		}
		defer repo.Close()
		after = append(after, app.BigQueryExporter(repo, cfg.Gemini.Model))
	}

	jobStore, closeStore, err := openJobStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open job store")
	}
	defer closeStore()

	jobQueue := inmemory.NewQueue(100, cfg.Jobs.Workers, jobStore)
	jobQueue.MaxRetries = cfg.Jobs.MaxRetries

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, handlers.AnalyzeJobHandler(analyzer, *uploadDir, after...)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	batches := handlers.NewBatchesHandler(jobQueue, jobStore, handlers.Options{
		UploadDir:      *uploadDir,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		Storage:        analyzerStorage,
		Bucket:         cfg.GCS.Bucket,
	})

	mux := http.NewServeMux()
	batches.Register(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, log, cfg.Server.CORSOrigin),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancelWorker()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

// openJobStore returns the configured job store and its close function.
func openJobStore(cfg *config.Config) (jobs.JobStore, func(), error) {
	switch cfg.Jobs.Store {
	case "sqlite":
		s, err := sqlstore.Open(cfg.Jobs.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return inmemory.NewStore(), func() {}, nil
	}
}
