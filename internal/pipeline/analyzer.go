// Package pipeline runs statement PDFs through rasterization, extraction and
// serialization, and folds the results into one dataset.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/statement-analyzer/internal/gcsuploader"
	"github.com/dvloznov/statement-analyzer/internal/logger"
)

// Source is one statement to analyze. Path is a local file or a gs:// URI.
type Source struct {
	Name string
	Path string
}

// NewSource derives the display name from the path.
func NewSource(path string) Source {
	if gcsuploader.IsGCSURI(path) {
		return Source{Name: gcsuploader.ExtractFilenameFromGCSURI(path), Path: path}
	}
	return Source{Name: filepath.Base(path), Path: path}
}

// Analyzer processes batches of statements.
type Analyzer struct {
	Fetcher     Fetcher // optional; required only for gs:// sources
	Rasterizer  PageRasterizer
	Extractor   StatementExtractor
	Concurrency int    // files processed at once, default 1
	WorkDir     string // parent of per-file temp dirs, default os.TempDir()

	// OnFileDone, when set, is called after each file finishes. It may be
	// called from several goroutines.
	OnFileDone func(FileOutcome)
}

// Run processes every source and returns their outcomes in input order. A
// failing file never stops the others. When ctx is cancelled no new file is
// started and the remaining files are reported as failed.
func (a *Analyzer) Run(ctx context.Context, sources []Source) *BatchResult {
	res := &BatchResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Files:     make([]FileOutcome, len(sources)),
	}
	ctx = logger.WithFields(ctx, "batch_id", res.ID)
	log := logger.FromContext(ctx)

	limit := a.Concurrency
	if limit < 1 {
		limit = 1
	}
	log.Info().Int("files", len(sources)).Int("concurrency", limit).Msg("batch started")

	p := NewStatementPipeline(a.Fetcher, a.Rasterizer, a.Extractor)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, src := range sources {
		res.Files[i] = FileOutcome{Index: i, Name: src.Name, Source: src.Path}
		if err := ctx.Err(); err != nil {
			res.Files[i].fail(fmt.Errorf("not started: %w", err))
			a.done(res.Files[i])
			continue
		}
		g.Go(func() error {
			a.processFile(ctx, p, &res.Files[i], src)
			a.done(res.Files[i])
			return nil
		})
	}
	_ = g.Wait()

	res.FinishedAt = time.Now().UTC()
	ok, failed := res.Counts()
	log.Info().Int("succeeded", ok).Int("failed", failed).Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).Msg("batch finished")
	return res
}

func (a *Analyzer) done(o FileOutcome) {
	if a.OnFileDone != nil {
		a.OnFileDone(o)
	}
}

// processFile runs the pipeline for one file inside its own temp dir, which
// is removed on every exit path.
func (a *Analyzer) processFile(ctx context.Context, p *Pipeline, out *FileOutcome, src Source) {
	ctx = logger.WithFields(ctx, "file", src.Name)
	log := logger.FromContext(ctx)
	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		out.fail(fmt.Errorf("not started: %w", err))
		return
	}

	workDir, err := os.MkdirTemp(a.WorkDir, "statement-*")
	if err != nil {
		out.fail(fmt.Errorf("processFile: create work dir: %w", err))
		return
	}
	defer os.RemoveAll(workDir)

	state := &PipelineState{Source: src, WorkDir: workDir}
	if err := p.Execute(ctx, state); err != nil {
		out.fail(err)
		log.Error().Err(err).Str("kind", out.ErrorKind).Msg("statement failed")
		return
	}

	out.succeed(state.Statement, state.Rows)
	log.Info().Int("transactions", out.Transactions).Str("card_name", out.CardName).Msg("statement processed")
}
