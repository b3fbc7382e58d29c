package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for tool output
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/shlex"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sirupsen/logrus"
)

var disableConfigDir sync.Once

// PDFConfiguration returns a pdfcpu configuration that never touches the user config dir
func PDFConfiguration() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in a PDF held in memory
func PageCount(pdf []byte) (int, error) {
	return api.PageCount(bytes.NewReader(pdf), PDFConfiguration())
}

// CLIRasterizer renders pages by shelling out to pdftoppm or mutool
type CLIRasterizer struct {
	cmd        Command
	dpi        int
	extraArgs  []string
	maxPages   int
	countPages func([]byte) (int, error)
	logger     *logrus.Logger
}

// NewCLIRasterizer validates options and prepares the tool driver.
// executor may be nil to run real processes.
func NewCLIRasterizer(opts Options, executor Executor, logger *logrus.Logger) (*CLIRasterizer, error) {
	if opts.Tool == "" {
		opts.Tool = ToolPdftoppm
	}
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}

	cmd, err := NewCommand(opts.Tool, opts.ToolPath, executor)
	if err != nil {
		return nil, err
	}

	extra, err := shlex.Split(opts.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid extra args %q: %w", opts.ExtraArgs, err)
	}

	return &CLIRasterizer{
		cmd:        cmd,
		dpi:        int(math.Round(pointsPerInch * opts.Scale)),
		extraArgs:  extra,
		maxPages:   opts.MaxPages,
		countPages: PageCount,
		logger:     logger,
	}, nil
}

// Available reports whether the configured tool can be executed
func (r *CLIRasterizer) Available() bool {
	return r.cmd.IsAvailable()
}

// DPI returns the effective render resolution
func (r *CLIRasterizer) DPI() int {
	return r.dpi
}

// Rasterize renders all pages in order. Any page failure aborts with a RenderError.
func (r *CLIRasterizer) Rasterize(ctx context.Context, pdf []byte) ([]PageImage, error) {
	pageCount, err := r.countPages(pdf)
	if err != nil {
		return nil, &extract.RenderError{Err: fmt.Errorf("failed to read page count: %w", err)}
	}
	if pageCount == 0 {
		return nil, &extract.RenderError{Err: fmt.Errorf("document has no pages")}
	}
	if pageCount > r.maxPages {
		return nil, &extract.RenderError{Err: fmt.Errorf("document has %d pages, limit is %d", pageCount, r.maxPages)}
	}

	if !r.cmd.IsAvailable() {
		return nil, &extract.RenderError{Err: fmt.Errorf("conversion tool %s is not available", r.cmd.ToolPath())}
	}

	workDir, err := os.MkdirTemp("", "pdf-ocr-compare-raster-*")
	if err != nil {
		return nil, &extract.RenderError{Err: fmt.Errorf("failed to create work directory: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			r.logger.WithError(err).WithField("dir", workDir).Warn("Failed to remove raster work directory")
		}
	}()

	inputPath := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(inputPath, pdf, 0600); err != nil {
		return nil, &extract.RenderError{Err: fmt.Errorf("failed to write input: %w", err)}
	}

	r.logger.WithFields(logrus.Fields{
		"pages": pageCount,
		"dpi":   r.dpi,
		"tool":  r.cmd.ToolPath(),
	}).Debug("Rasterising document")

	pages := make([]PageImage, 0, pageCount)
	for page := 1; page <= pageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, &extract.RenderError{Page: page, Err: err}
		}

		img, err := r.renderPage(ctx, inputPath, workDir, page)
		if err != nil {
			return nil, &extract.RenderError{Page: page, Err: err}
		}
		pages = append(pages, NewPageImage(page-1, img))
	}

	return pages, nil
}

func (r *CLIRasterizer) renderPage(ctx context.Context, inputPath, workDir string, page int) (image.Image, error) {
	outputPath, err := r.cmd.RenderPage(ctx, inputPath, workDir, page, r.dpi, r.extraArgs)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(outputPath)
	if err != nil {
		return nil, fmt.Errorf("rendered image not found: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered image: %w", err)
	}

	// Page images are only needed in memory from here on
	_ = os.Remove(outputPath)
	return img, nil
}
