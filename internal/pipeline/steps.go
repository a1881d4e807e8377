package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
	"github.com/dvloznov/statement-analyzer/internal/csvout"
	"github.com/dvloznov/statement-analyzer/internal/gcsuploader"
	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// PipelineStep represents a single step in the per-file pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all steps for one file.
type PipelineState struct {
	Source    Source
	WorkDir   string // private to this file, removed when the file is done
	PDFPath   string
	Images    []string
	Statement *statement.Statement
	Rows      string // serialized CSV rows, no header
}

// Step 1: FetchSourceStep makes the PDF available on local disk.
type FetchSourceStep struct {
	Fetcher Fetcher
}

func (s *FetchSourceStep) Execute(ctx context.Context, state *PipelineState) error {
	if !gcsuploader.IsGCSURI(state.Source.Path) {
		if _, err := os.Stat(state.Source.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return apperr.E(apperr.NotFound, "FetchSource", err)
			}
			return fmt.Errorf("FetchSource: stat %s: %w", state.Source.Path, err)
		}
		state.PDFPath = state.Source.Path
		return nil
	}

	if s.Fetcher == nil {
		return apperr.Errorf(apperr.InvalidArgument, "FetchSource", "no storage client configured for %s", state.Source.Path)
	}
	dest := filepath.Join(state.WorkDir, "statement.pdf")
	if err := s.Fetcher.Download(ctx, state.Source.Path, dest); err != nil {
		return fmt.Errorf("FetchSource: %w", err)
	}
	state.PDFPath = dest
	return nil
}

// Step 2: RasterizeStep renders the PDF pages into the work dir.
type RasterizeStep struct {
	Rasterizer PageRasterizer
}

func (s *RasterizeStep) Execute(ctx context.Context, state *PipelineState) error {
	images, err := s.Rasterizer.Rasterize(ctx, state.PDFPath, filepath.Join(state.WorkDir, "images"))
	if err != nil {
		return err
	}
	state.Images = images
	return nil
}

// Step 3: ExtractStep reads the statement from the page images.
type ExtractStep struct {
	Extractor StatementExtractor
}

func (s *ExtractStep) Execute(ctx context.Context, state *PipelineState) error {
	stmt, err := s.Extractor.Extract(ctx, state.Images)
	if err != nil {
		return err
	}
	state.Statement = stmt
	return nil
}

// Step 4: SerializeStep renders the statement into this file's row buffer.
type SerializeStep struct{}

func (s *SerializeStep) Execute(ctx context.Context, state *PipelineState) error {
	rows, err := csvout.SerializeRows(state.Statement)
	if err != nil {
		return err
	}
	state.Rows = rows
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially, stopping at the first
// failure.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline cancelled before step %d: %w", i+1, err)
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewStatementPipeline creates the standard four-step chain:
// fetch, rasterize, extract, serialize.
func NewStatementPipeline(f Fetcher, r PageRasterizer, e StatementExtractor) *Pipeline {
	return NewPipeline(
		&FetchSourceStep{Fetcher: f},
		&RasterizeStep{Rasterizer: r},
		&ExtractStep{Extractor: e},
		&SerializeStep{},
	)
}
