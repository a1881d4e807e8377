// Package app wires configuration into the pipeline and its exports. It is
// shared by the CLI and the API server.
package app

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dvloznov/statement-analyzer/internal/config"
	"github.com/dvloznov/statement-analyzer/internal/csvout"
	"github.com/dvloznov/statement-analyzer/internal/extractor"
	"github.com/dvloznov/statement-analyzer/internal/gcsuploader"
	infraBQ "github.com/dvloznov/statement-analyzer/internal/infra/bigquery"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/prompts"
	"github.com/dvloznov/statement-analyzer/internal/report"
)

// NewExtractor builds a Gemini-backed extractor. A missing API key is an
// AuthError.
func NewExtractor(ctx context.Context, cfg *config.Config) (*extractor.Extractor, error) {
	client, err := extractor.NewGeminiClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.CallTimeout)
	if err != nil {
		return nil, fmt.Errorf("NewExtractor: %w", err)
	}
	return extractor.New(client, cfg.Extractor()), nil
}

// NewAnalyzer builds a batch analyzer from cfg. storage may be nil when no
// source is a gs:// URI.
func NewAnalyzer(ctx context.Context, cfg *config.Config, storage gcsuploader.StorageService) (*pipeline.Analyzer, error) {
	ext, err := NewExtractor(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewAnalyzer: %w", err)
	}
	a := &pipeline.Analyzer{
		Rasterizer:  pipeline.PopplerRasterizer{Options: cfg.Rasterizer()},
		Extractor:   ext,
		Concurrency: cfg.Batch.Concurrency,
		WorkDir:     cfg.Batch.WorkDir,
	}
	if storage != nil {
		a.Fetcher = storage
	}
	return a, nil
}

// NeedsStorage reports whether GCS is needed for these sources or settings.
func NeedsStorage(cfg *config.Config, sources []string) bool {
	if cfg.GCS.Bucket != "" {
		return true
	}
	for _, s := range sources {
		if gcsuploader.IsGCSURI(s) {
			return true
		}
	}
	return false
}

// ReportObjects returns the object names a batch's reports are stored under.
func ReportObjects(prefix, batchID string) (csvObject, xlsxObject string) {
	dir := path.Join(strings.Trim(prefix, "/"), batchID)
	csvObject = path.Join(dir, csvout.DownloadName)
	xlsxObject = path.Join(dir, strings.TrimSuffix(csvout.DownloadName, ".csv")+".xlsx")
	return csvObject, xlsxObject
}

// UploadReports stores the batch CSV and XLSX in bucket under
// <prefix>/<batch id>/.
func UploadReports(ctx context.Context, storage gcsuploader.StorageService, bucket, prefix string, res *pipeline.BatchResult) error {
	csvObject, xlsxObject := ReportObjects(prefix, res.ID)
	data := res.CSV()

	if err := storage.UploadBytes(ctx, bucket, csvObject, "text/csv", []byte(data)); err != nil {
		return fmt.Errorf("UploadReports: %w", err)
	}

	table, err := report.ParseString(data)
	if err != nil {
		return fmt.Errorf("UploadReports: reading dataset: %w", err)
	}
	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, table); err != nil {
		return fmt.Errorf("UploadReports: %w", err)
	}
	if err := storage.UploadBytes(ctx, bucket, xlsxObject, report.XLSXContentType, buf.Bytes()); err != nil {
		return fmt.Errorf("UploadReports: %w", err)
	}

	log := logger.FromContext(ctx)

	log.Info().
		Str("batch_id", res.ID).
		Str("csv", fmt.Sprintf("gs://%s/%s", bucket, csvObject)).
		Msg("Uploaded batch reports")
	return nil
}

// ReportUploader adapts UploadReports into a post-batch hook.
func ReportUploader(storage gcsuploader.StorageService, bucket, prefix string) func(context.Context, *pipeline.BatchResult) error {
	return func(ctx context.Context, res *pipeline.BatchResult) error {
		return UploadReports(ctx, storage, bucket, prefix, res)
	}
}

// NewBigQueryRepository opens the warehouse and makes sure its tables exist.
func NewBigQueryRepository(ctx context.Context, cfg *config.Config) (*infraBQ.Repository, error) {
	repo, err := infraBQ.NewRepository(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRepository: %w", err)
	}
	if err := repo.EnsureTables(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("NewBigQueryRepository: %w", err)
	}
	return repo, nil
}

// BigQueryExporter adapts infra/bigquery.ExportBatch into a post-batch hook.
func BigQueryExporter(repo infraBQ.TransactionRepository, model string) func(context.Context, *pipeline.BatchResult) error {
	return func(ctx context.Context, res *pipeline.BatchResult) error {
		return infraBQ.ExportBatch(ctx, repo, res, model, prompts.Version)
	}
}
