package pipeline

import (
	"context"

	"github.com/dvloznov/statement-analyzer/internal/rasterizer"
	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// Fetcher copies a remote statement (gs:// URI) into a local file.
type Fetcher interface {
	Download(ctx context.Context, uri, destPath string) error
}

// PageRasterizer renders a PDF into ordered page images inside outDir.
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// StatementExtractor reads a validated statement from page images.
type StatementExtractor interface {
	Extract(ctx context.Context, imagePaths []string) (*statement.Statement, error)
}

// PopplerRasterizer is the PageRasterizer backed by pdftoppm.
type PopplerRasterizer struct {
	Options rasterizer.Options
}

// Rasterize delegates to rasterizer.Rasterize.
func (p PopplerRasterizer) Rasterize(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	return rasterizer.Rasterize(ctx, pdfPath, outDir, p.Options)
}
