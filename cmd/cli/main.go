package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/app"
	"github.com/dvloznov/statement-analyzer/internal/config"
	"github.com/dvloznov/statement-analyzer/internal/csvout"
	"github.com/dvloznov/statement-analyzer/internal/gcsuploader"
	infraBQ "github.com/dvloznov/statement-analyzer/internal/infra/bigquery"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/rasterizer"
	"github.com/dvloznov/statement-analyzer/internal/report"
	"github.com/dvloznov/statement-analyzer/internal/statement"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "analyze":
		runAnalyze(os.Args[2:])
	case "raw":
		runRaw(os.Args[2:])
	case "rasterize":
		runRasterize(os.Args[2:])
	case "upload":
		runUpload(os.Args[2:])
	case "summary":
		runSummary(os.Args[2:])
	case "bq-init":
		runBQInit(os.Args[2:])
	case "transactions":
		runTransactions(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Credit Card Statement Analyzer")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  analyze       Extract transactions from statement PDFs into one CSV")
	fmt.Println("  raw           Print the model's unstructured reading of one PDF (debug)")
	fmt.Println("  rasterize     Render a PDF into page images")
	fmt.Println("  upload        Upload a file to GCS")
	fmt.Println("  summary       Summarize a saved CSV by category, card and account")
	fmt.Println("  bq-init       Create the BigQuery dataset and tables")
	fmt.Println("  transactions  Query exported transactions from BigQuery by date range")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// setup loads config and builds the logger every command uses.
func setup(configPath string) (*config.Config, zerolog.Logger, context.Context, context.CancelFunc) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.Configure(cfg.Logger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log settings: %v\n", err)
		os.Exit(1)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return cfg, log, logger.WithContext(ctx, log), cancel
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	dir := fs.String("dir", "", "Directory searched recursively for *.pdf statements")
	files := fs.String("files", "", "Comma-separated statement paths or gs:// URIs")
	out := fs.String("out", csvout.DownloadName, "Output CSV path, or - for stdout")
	xlsxOut := fs.String("xlsx", "", "Also write an XLSX workbook to this path")
	concurrency := fs.Int("concurrency", 0, "Files processed at once (overrides batch.concurrency)")
	bucket := fs.String("upload-bucket", "", "Upload the reports to this GCS bucket (overrides gcs.bucket)")
	toBigQuery := fs.Bool("bigquery", false, "Export rows to BigQuery (also enabled by bigquery.enabled)")
	fs.Parse(args)

	cfg, log, ctx, cancel := setup(*configPath)
	defer cancel()

	if *concurrency > 0 {
		cfg.Batch.Concurrency = *concurrency
	}
	if *bucket != "" {
		cfg.GCS.Bucket = *bucket
	}
	if *toBigQuery {
		cfg.BigQuery.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.RequireAPIKey(); err != nil {
		log.Fatal().Err(err).Msg("Cannot analyze statements")
	}

	paths := splitList(*files)
	if *dir != "" {
		found, err := rasterizer.FindPDFs(*dir)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list statements")
		}
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		log.Fatal().Msg("Usage: cli analyze -dir DIR | -files a.pdf,b.pdf")
	}
	sources := make([]pipeline.Source, len(paths))
	for i, p := range paths {
		sources[i] = pipeline.NewSource(p)
	}

	var storage *gcsuploader.Client
	var storageSvc gcsuploader.StorageService
	if app.NeedsStorage(cfg, paths) {
		var err error
		storage, err = gcsuploader.NewClient(ctx, cfg.GCS.Timeout)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer storage.Close()
		storageSvc = storage
	}

	analyzer, err := app.NewAnalyzer(ctx, cfg, storageSvc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create analyzer")
	}
	// with -out - the CSV owns stdout, so progress goes to stderr
	var console io.Writer = color.Output
	if *out == "-" {
		console = color.Error
	}
	total := len(sources)
	var printMu sync.Mutex
	analyzer.OnFileDone = func(o pipeline.FileOutcome) {
		printMu.Lock()
		defer printMu.Unlock()
		printProgress(console, o, total)
	}

	res := analyzer.Run(ctx, sources)
	data := res.CSV()

	if *out == "-" {
		fmt.Print(data)
	} else {
		if err := os.WriteFile(*out, []byte(data), 0o644); err != nil {
			log.Fatal().Err(err).Msg("Failed to write CSV")
		}
		fmt.Fprintf(console, "\nWrote %s\n", *out)
	}

	table, err := report.ParseString(data)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read back the dataset")
	}
	if *xlsxOut != "" {
		if err := writeXLSX(*xlsxOut, table); err != nil {
			log.Fatal().Err(err).Msg("Failed to write XLSX")
		}
		fmt.Fprintf(console, "Wrote %s\n", *xlsxOut)
	}

	if storage != nil && cfg.GCS.Bucket != "" {
		if err := app.UploadReports(ctx, storage, cfg.GCS.Bucket, cfg.GCS.ReportPrefix, res); err != nil {
			log.Error().Err(err).Msg("Failed to upload reports")
		}
	}
	if cfg.BigQuery.Enabled {
		if err := exportToBigQuery(ctx, cfg, res); err != nil {
			log.Error().Err(err).Msg("BigQuery export failed")
		}
	}

	printOutcomes(console, res)
	printSummary(console, table.Summarize())

	if succeeded, _ := res.Counts(); succeeded == 0 {
		os.Exit(1)
	}
}

func exportToBigQuery(ctx context.Context, cfg *config.Config, res *pipeline.BatchResult) error {
	repo, err := app.NewBigQueryRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()
	return app.BigQueryExporter(repo, cfg.Gemini.Model)(ctx, res)
}

func writeXLSX(path string, t *report.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteXLSX(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runRaw(args []string) {
	fs := flag.NewFlagSet("raw", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	file := fs.String("file", "", "Statement PDF")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: cli raw -file statement.pdf")
		os.Exit(1)
	}

	cfg, log, ctx, cancel := setup(*configPath)
	defer cancel()
	if err := cfg.RequireAPIKey(); err != nil {
		log.Fatal().Err(err).Msg("Cannot read statement")
	}

	ext, err := app.NewExtractor(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extractor")
	}

	workDir, err := os.MkdirTemp(cfg.Batch.WorkDir, "raw-*")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create work dir")
	}
	defer os.RemoveAll(workDir)

	images, err := rasterizer.Rasterize(ctx, *file, workDir, cfg.Rasterizer())
	if err != nil {
		log.Fatal().Err(err).Msg("Rasterization failed")
	}

	text, err := ext.ExtractRawText(ctx, images)
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}
	fmt.Println(text)
}

func runRasterize(args []string) {
	fs := flag.NewFlagSet("rasterize", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	file := fs.String("file", "", "Statement PDF")
	outDir := fs.String("out", "", "Output directory (default: next to the PDF)")
	page := fs.Int("page", 0, "Render only this page (1-based)")
	dpi := fs.Int("dpi", 0, "Resolution (overrides render.dpi)")
	format := fs.String("format", "", "png or jpeg (overrides render.format)")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: cli rasterize -file statement.pdf [-out DIR] [-page N]")
		os.Exit(1)
	}

	cfg, log, ctx, cancel := setup(*configPath)
	defer cancel()

	opts := cfg.Rasterizer()
	if *dpi > 0 {
		opts.DPI = *dpi
	}
	if *format != "" {
		opts.Format = *format
	}

	if *page > 0 {
		outPath := ""
		if *outDir != "" {
			stem := strings.TrimSuffix(filepath.Base(*file), filepath.Ext(*file))
			outPath = filepath.Join(*outDir, fmt.Sprintf("%s_page_%d.%s", stem, *page, strings.ToLower(opts.Format)))
			if err := os.MkdirAll(*outDir, 0o755); err != nil {
				log.Fatal().Err(err).Msg("Failed to create output directory")
			}
		}
		written, err := rasterizer.RasterizePage(ctx, *file, *page, outPath, opts)
		if err != nil {
			log.Fatal().Err(err).Msg("Rasterization failed")
		}
		fmt.Println(written)
		return
	}

	if *outDir == "" {
		*outDir = strings.TrimSuffix(*file, filepath.Ext(*file)) + "_pages"
	}
	images, err := rasterizer.Rasterize(ctx, *file, *outDir, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Rasterization failed")
	}
	for _, img := range images {
		fmt.Println(img)
	}
}

func runUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	bucketName := fs.String("bucket", "", "GCS bucket name (default gcs.bucket)")
	objectName := fs.String("object", "", "GCS object name (defaults to filename)")
	filePath := fs.String("file", "", "Path to local file")
	fs.Parse(args)

	cfg, log, ctx, cancel := setup(*configPath)
	defer cancel()

	if *bucketName == "" {
		*bucketName = cfg.GCS.Bucket
	}
	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}
	if *objectName == "" {
		*objectName = filepath.Base(*filePath)
	}

	client, err := gcsuploader.NewClient(ctx, cfg.GCS.Timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer client.Close()

	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	if err := client.UploadFile(ctx, *bucketName, *objectName, *filePath); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to gs://%s/%s\n", *filePath, *bucketName, *objectName)
}

func runSummary(args []string) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	csvPath := fs.String("csv", csvout.DownloadName, "Aggregate CSV produced by analyze")
	categories := fs.String("category", "", "Comma-separated categories to keep")
	accounts := fs.String("account", "", "Comma-separated accounts to keep")
	fs.Parse(args)

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", *csvPath, err)
		os.Exit(1)
	}
	defer f.Close()

	table, err := report.Parse(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", *csvPath, err)
		os.Exit(1)
	}

	filter, err := parseFilter(*categories, *accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	printSummary(color.Output, table.Filter(filter).Summarize())
}

func parseFilter(categories, accounts string) (report.Filter, error) {
	var f report.Filter
	var errs []error
	for _, c := range splitList(categories) {
		cat := statement.Category(c)
		if !cat.Valid() {
			errs = append(errs, fmt.Errorf("unknown category %q", c))
		}
		f.Categories = append(f.Categories, cat)
	}
	for _, a := range splitList(accounts) {
		acct := statement.Account(a)
		if !acct.Valid() {
			errs = append(errs, fmt.Errorf("unknown account %q", a))
		}
		f.Accounts = append(f.Accounts, acct)
	}
	return f, errors.Join(errs...)
}

func runBQInit(args []string) {
	fs := flag.NewFlagSet("bq-init", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	project := fs.String("project", "", "GCP project (overrides bigquery.project)")
	fs.Parse(args)

	cfg, log, ctx, cancel := setup(*configPath)
	defer cancel()
	if *project != "" {
		cfg.BigQuery.Project = *project
	}
	if cfg.BigQuery.Project == "" {
		log.Fatal().Msg("Usage: cli bq-init -project PROJECT")
	}

	repo, err := app.NewBigQueryRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare BigQuery")
	}
	defer repo.Close()

	fmt.Printf("BigQuery dataset %s.%s is ready.\n", cfg.BigQuery.Project, cfg.BigQuery.Dataset)
}

func runTransactions(args []string) {
	fs := flag.NewFlagSet("transactions", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	project := fs.String("project", "", "GCP project (overrides bigquery.project)")
	from := fs.String("from", "", "Start date YYYY-MM-DD (default one year ago)")
	to := fs.String("to", "", "End date YYYY-MM-DD (default today)")
	out := fs.String("out", "-", "Output CSV path, or - for stdout")
	fs.Parse(args)

	cfg, log, ctx, cancel := setup(*configPath)
	defer cancel()
	if *project != "" {
		cfg.BigQuery.Project = *project
	}

	start, end, err := dateRange(*from, *to, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid date range")
	}

	repo, err := infraBQ.NewRepository(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open BigQuery")
	}
	defer repo.Close()

	rows, err := repo.QueryTransactionsByDateRange(ctx, start, end)
	if err != nil {
		log.Fatal().Err(err).Msg("Query failed")
	}

	data, err := csvout.Aggregate(infraBQ.StatementFromRows(rows))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to serialize rows")
	}
	if *out == "-" {
		fmt.Print(data)
		return
	}
	if err := os.WriteFile(*out, []byte(data), 0o644); err != nil {
		log.Fatal().Err(err).Msg("Failed to write CSV")
	}
	fmt.Fprintf(color.Error, "Wrote %d transactions to %s\n", len(rows), *out)
}

// dateRange parses the -from/-to flags. Empty values default to the year up
// to now.
func dateRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	start := now.AddDate(-1, 0, 0)
	end := now
	var err error
	if from != "" {
		if start, err = time.Parse(statement.DateLayout, from); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("dateRange: invalid -from %q: %w", from, err)
		}
	}
	if to != "" {
		if end, err = time.Parse(statement.DateLayout, to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("dateRange: invalid -to %q: %w", to, err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("dateRange: -to %s is before -from %s", end.Format(statement.DateLayout), start.Format(statement.DateLayout))
	}
	return start, end, nil
}
