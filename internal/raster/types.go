package raster

import (
	"context"
	"image"
)

// ConvertTool identifies the external renderer used to rasterise PDF pages
type ConvertTool string

const (
	// ToolPdftoppm is the poppler-utils renderer
	ToolPdftoppm ConvertTool = "pdftoppm"
	// ToolMutool is the mupdf-tools renderer
	ToolMutool ConvertTool = "mutool"
)

const (
	// DefaultScale renders pages at twice the PDF point size
	DefaultScale = 2.0
	// DefaultMaxPages bounds how many pages a single document may have
	DefaultMaxPages = 200

	pointsPerInch = 72
)

// PageImage is one rendered page held in memory
type PageImage struct {
	// Index is the 0-based page position in the source document
	Index  int
	Image  image.Image
	Width  int
	Height int
}

// NewPageImage wraps a decoded image, recording its dimensions
func NewPageImage(index int, img image.Image) PageImage {
	b := img.Bounds()
	return PageImage{
		Index:  index,
		Image:  img,
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}

// Rasterizer renders every page of a PDF into memory
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]PageImage, error)
}

// Options configures the CLI-backed rasterizer
type Options struct {
	Tool      ConvertTool `yaml:"tool"`
	ToolPath  string      `yaml:"tool_path"`  // Custom path to the tool executable
	Scale     float64     `yaml:"scale"`      // Multiplier over 72 DPI
	ExtraArgs string      `yaml:"extra_args"` // Appended to every invocation, shell quoted
	MaxPages  int         `yaml:"max_pages"`
}

// Executor runs external commands
type Executor interface {
	// Run executes the command and returns its combined output
	Run(ctx context.Context, name string, args []string) ([]byte, error)

	// LookPath resolves an executable name
	LookPath(name string) (string, error)
}
