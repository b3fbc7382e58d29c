// Package stitch composites rendered pages onto fixed grid canvases so a long
// document can be sent to a vision model as a handful of pages.
//
// Cell placement is row-major (left to right, top to bottom). The extraction
// prompt tells the model to read the grid in that order, so the ordering must
// not change.
package stitch

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"

	"github.com/sammcj/pdf-ocr-compare/internal/raster"
	"golang.org/x/image/draw"
)

// Fit controls how a page is drawn into its grid cell
type Fit string

const (
	// FitStretch scales every page to fill its cell exactly
	FitStretch Fit = "stretch"
	// FitContain scales every page to fit its cell, preserving aspect ratio, and centres it
	FitContain Fit = "contain"
)

// Default grid geometry
const (
	DefaultRows      = 3
	DefaultCols      = 2
	DefaultBatchSize = 6
)

// ErrInvalidLayout is returned for grid geometries that cannot hold a batch
var ErrInvalidLayout = errors.New("invalid stitch layout")

// Layout is the fixed grid geometry used for every batch
type Layout struct {
	Rows      int `yaml:"rows"`
	Cols      int `yaml:"cols"`
	BatchSize int `yaml:"batch_size"`
	Fit       Fit `yaml:"fit"`
}

// DefaultLayout returns the 3x2 grid with six pages per canvas
func DefaultLayout() Layout {
	return Layout{
		Rows:      DefaultRows,
		Cols:      DefaultCols,
		BatchSize: DefaultBatchSize,
		Fit:       FitStretch,
	}
}

// Validate checks the grid can hold a full batch
func (l Layout) Validate() error {
	if l.Rows <= 0 || l.Cols <= 0 || l.BatchSize <= 0 {
		return fmt.Errorf("%w: rows, cols and batch size must be positive", ErrInvalidLayout)
	}
	if l.BatchSize > l.Rows*l.Cols {
		return fmt.Errorf("%w: batch size %d exceeds %dx%d grid", ErrInvalidLayout, l.BatchSize, l.Rows, l.Cols)
	}
	switch l.Fit {
	case FitStretch, FitContain:
	default:
		return fmt.Errorf("%w: unknown fit %q", ErrInvalidLayout, l.Fit)
	}
	return nil
}

// PageCount returns how many stitched pages a document of n pages produces
func (l Layout) PageCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + l.BatchSize - 1) / l.BatchSize
}

// CellRect returns the canvas rectangle of the j-th image in a batch
func (l Layout) CellRect(j, cellWidth, cellHeight int) image.Rectangle {
	row, col := j/l.Cols, j%l.Cols
	minPt := image.Pt(col*cellWidth, row*cellHeight)
	return image.Rectangle{Min: minPt, Max: minPt.Add(image.Pt(cellWidth, cellHeight))}
}

// StitchedImage is one grid canvas holding up to BatchSize pages
type StitchedImage struct {
	// Index is the 0-based batch position
	Index int
	Image *image.RGBA
	// Pages holds the source page indices in cell order
	Pages      []int
	CellWidth  int
	CellHeight int
}

// Stitcher batches pages onto grid canvases
type Stitcher struct {
	layout Layout
}

// New returns a stitcher for a validated layout
func New(layout Layout) (*Stitcher, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Stitcher{layout: layout}, nil
}

// Layout returns the grid geometry in use
func (s *Stitcher) Layout() Layout {
	return s.layout
}

// Stitch partitions pages into consecutive batches and composites each batch.
// The last batch may be short; it still gets a full grid canvas.
func (s *Stitcher) Stitch(pages []raster.PageImage) ([]StitchedImage, error) {
	out := make([]StitchedImage, 0, s.layout.PageCount(len(pages)))

	for start := 0; start < len(pages); start += s.layout.BatchSize {
		end := min(start+s.layout.BatchSize, len(pages))

		stitched, err := s.stitchBatch(len(out), pages[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, stitched)
	}

	return out, nil
}

func (s *Stitcher) stitchBatch(index int, batch []raster.PageImage) (StitchedImage, error) {
	cellWidth, cellHeight := 0, 0
	for _, page := range batch {
		if page.Image == nil || page.Width <= 0 || page.Height <= 0 {
			return StitchedImage{}, fmt.Errorf("page %d has no image data", page.Index+1)
		}
		cellWidth = max(cellWidth, page.Width)
		cellHeight = max(cellHeight, page.Height)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, cellWidth*s.layout.Cols, cellHeight*s.layout.Rows))
	stddraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, stddraw.Src)

	indices := make([]int, len(batch))
	for j, page := range batch {
		indices[j] = page.Index
		cell := s.layout.CellRect(j, cellWidth, cellHeight)
		s.drawPage(canvas, cell, page)
	}

	return StitchedImage{
		Index:      index,
		Image:      canvas,
		Pages:      indices,
		CellWidth:  cellWidth,
		CellHeight: cellHeight,
	}, nil
}

func (s *Stitcher) drawPage(canvas *image.RGBA, cell image.Rectangle, page raster.PageImage) {
	src := page.Image
	srcBounds := src.Bounds()

	target := cell
	if s.layout.Fit == FitContain {
		target = containRect(cell, page.Width, page.Height)
	}

	if target.Dx() == page.Width && target.Dy() == page.Height {
		stddraw.Draw(canvas, target, src, srcBounds.Min, stddraw.Over)
		return
	}
	draw.CatmullRom.Scale(canvas, target, src, srcBounds, draw.Over, nil)
}

// containRect scales (w, h) to fit inside cell preserving aspect ratio and centres it
func containRect(cell image.Rectangle, w, h int) image.Rectangle {
	cw, ch := cell.Dx(), cell.Dy()

	// Compare w/cw against h/ch without floating point
	var sw, sh int
	if w*ch >= h*cw {
		sw = cw
		sh = max(1, h*cw/w)
	} else {
		sh = ch
		sw = max(1, w*ch/h)
	}

	offset := image.Pt((cw-sw)/2, (ch-sh)/2)
	minPt := cell.Min.Add(offset)
	return image.Rectangle{Min: minPt, Max: minPt.Add(image.Pt(sw, sh))}
}
