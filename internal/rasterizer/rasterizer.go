// Package rasterizer renders PDF statements into one image per page.
//
// Rendering is delegated to poppler's pdftoppm. Page counting reads the PDF
// cross-reference table directly, so it does not need the renderer.
package rasterizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dslipak/pdf"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
	"github.com/dvloznov/statement-analyzer/internal/logger"
)

const (
	DefaultDPI    = 300
	DefaultFormat = "png"
	DefaultBinary = "pdftoppm"
)

// Options controls how pages are rendered. Zero values mean the defaults.
type Options struct {
	DPI    int
	Format string // png or jpeg
	Binary string // path to pdftoppm
}

func (o Options) withDefaults() Options {
	if o.DPI <= 0 {
		o.DPI = DefaultDPI
	}
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Format == "" {
		o.Format = DefaultFormat
	}
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	return o
}

// formatFlag maps a format to the pdftoppm switch and the extension the tool
// writes.
func formatFlag(format string) (flag, ext string, err error) {
	switch format {
	case "png":
		return "-png", ".png", nil
	case "jpeg", "jpg":
		return "-jpeg", ".jpg", nil
	default:
		return "", "", fmt.Errorf("unsupported image format %q", format)
	}
}

// Rasterize renders every page of pdfPath into outDir as page_<n>.<format>,
// numbered from 1. The returned paths are in page order. outDir is created
// if missing.
func Rasterize(ctx context.Context, pdfPath, outDir string, opts Options) ([]string, error) {
	opts = opts.withDefaults()
	log := logger.FromContext(ctx).With().Str("file", pdfPath).Logger()

	if err := checkExists("Rasterize", pdfPath); err != nil {
		return nil, err
	}
	flag, ext, err := formatFlag(opts.Format)
	if err != nil {
		return nil, apperr.E(apperr.InvalidArgument, "Rasterize", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("Rasterize: create output dir: %w", err)
	}

	staging, err := os.MkdirTemp(outDir, ".render-")
	if err != nil {
		return nil, fmt.Errorf("Rasterize: create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	log.Debug().Int("dpi", opts.DPI).Str("format", opts.Format).Msg("rendering pages")

	prefix := filepath.Join(staging, "p")
	args := []string{"-r", strconv.Itoa(opts.DPI), flag, pdfPath, prefix}
	if err := run(ctx, opts.Binary, args...); err != nil {
		return nil, apperr.E(apperr.ConversionError, "Rasterize", err)
	}

	rendered, err := collectPages(staging, "p", ext)
	if err != nil {
		return nil, apperr.E(apperr.ConversionError, "Rasterize", err)
	}
	if len(rendered) == 0 {
		return nil, apperr.Errorf(apperr.ConversionError, "Rasterize", "renderer produced no pages for %s", pdfPath)
	}

	paths := make([]string, 0, len(rendered))
	for i, src := range rendered {
		dst := filepath.Join(outDir, fmt.Sprintf("page_%d.%s", i+1, opts.Format))
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("Rasterize: move page %d: %w", i+1, err)
		}
		paths = append(paths, dst)
	}

	log.Info().Int("pages", len(paths)).Str("out_dir", outDir).Msg("pdf rasterized")
	return paths, nil
}

// RasterizePage renders a single 1-based page. When outPath is empty the
// image is written next to the PDF as <name>_page_<n>.<format>.
func RasterizePage(ctx context.Context, pdfPath string, page int, outPath string, opts Options) (string, error) {
	opts = opts.withDefaults()

	if err := checkExists("RasterizePage", pdfPath); err != nil {
		return "", err
	}
	if page < 1 {
		return "", apperr.Errorf(apperr.InvalidArgument, "RasterizePage", "page number must be >= 1, got %d", page)
	}
	flag, ext, err := formatFlag(opts.Format)
	if err != nil {
		return "", apperr.E(apperr.InvalidArgument, "RasterizePage", err)
	}

	n, err := PageCount(pdfPath)
	if err != nil {
		return "", err
	}
	if page > n {
		return "", apperr.Errorf(apperr.InvalidArgument, "RasterizePage", "page %d not found, document has %d pages", page, n)
	}

	if outPath == "" {
		stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
		outPath = filepath.Join(filepath.Dir(pdfPath), fmt.Sprintf("%s_page_%d.%s", stem, page, opts.Format))
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("RasterizePage: create output dir: %w", err)
	}

	// -singlefile writes exactly <prefix><ext>.
	prefix := strings.TrimSuffix(outPath, filepath.Ext(outPath))
	p := strconv.Itoa(page)
	args := []string{"-r", strconv.Itoa(opts.DPI), "-f", p, "-l", p, "-singlefile", flag, pdfPath, prefix}
	if err := run(ctx, opts.Binary, args...); err != nil {
		return "", apperr.E(apperr.ConversionError, "RasterizePage", err)
	}

	written := prefix + ext
	if written != outPath {
		if err := os.Rename(written, outPath); err != nil {
			return "", apperr.E(apperr.ConversionError, "RasterizePage", err)
		}
	}
	return outPath, nil
}

// PageCount returns the number of pages in the PDF without rendering it.
func PageCount(pdfPath string) (int, error) {
	if err := checkExists("PageCount", pdfPath); err != nil {
		return 0, err
	}

	f, err := os.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("PageCount: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("PageCount: stat: %w", err)
	}

	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return 0, apperr.E(apperr.ConversionError, "PageCount", err)
	}
	return r.NumPage(), nil
}

// FindPDFs walks dir and returns every file with a .pdf extension, compared
// case-insensitively, in lexical order.
func FindPDFs(dir string) ([]string, error) {
	if err := checkExists("FindPDFs", dir); err != nil {
		return nil, err
	}

	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(d.Name()), ".pdf") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("FindPDFs: walk %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

func checkExists(op, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.E(apperr.NotFound, op, fmt.Errorf("%s: %w", path, err))
		}
		return fmt.Errorf("%s: stat %s: %w", op, path, err)
	}
	return nil
}

func run(ctx context.Context, binary string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", filepath.Base(binary), err, msg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(binary), err)
	}
	return nil
}

// collectPages returns the files pdftoppm wrote for prefix, ordered by page
// number. pdftoppm zero-pads the number to the width of the page count, so
// the numeric suffix is parsed rather than sorted as text.
func collectPages(dir, prefix, ext string) ([]string, error) {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `-(\d+)` + regexp.QuoteMeta(ext) + "$")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		pages = append(pages, page{n: n, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}
