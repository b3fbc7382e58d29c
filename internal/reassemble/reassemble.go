package reassemble

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/sammcj/pdf-ocr-compare/internal/raster"
	"github.com/sammcj/pdf-ocr-compare/internal/stitch"
	"github.com/sirupsen/logrus"
)

// DefaultJPEGQuality is used when encoding canvases as PDF pages
const DefaultJPEGQuality = 90

// Document is a PDF whose pages are the stitched canvases in batch order
type Document struct {
	Data      []byte
	Base64    string
	PageCount int
}

// Reassembler wraps stitched canvases as pages of a new PDF
type Reassembler struct {
	quality int
	logger  *logrus.Logger
}

// New creates a reassembler; quality outside 1..100 falls back to the default
func New(quality int, logger *logrus.Logger) *Reassembler {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Reassembler{quality: quality, logger: logger}
}

// Reassemble builds one PDF page per canvas, each page sized to its canvas
func (r *Reassembler) Reassemble(ctx context.Context, images []stitch.StitchedImage) (*Document, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no stitched images to reassemble")
	}

	readers := make([]io.Reader, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img.Image, &jpeg.Options{Quality: r.quality}); err != nil {
			return nil, fmt.Errorf("failed to encode stitched page %d: %w", img.Index+1, err)
		}
		readers = append(readers, &buf)
	}

	// The default import uses full positioning: each page takes the size of its image
	imp := pdfcpu.DefaultImportConfig()

	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, imp, raster.PDFConfiguration()); err != nil {
		return nil, fmt.Errorf("failed to build PDF: %w", err)
	}

	data := out.Bytes()
	pageCount, err := raster.PageCount(data)
	if err != nil {
		return nil, fmt.Errorf("failed to verify reassembled PDF: %w", err)
	}
	if pageCount != len(images) {
		return nil, fmt.Errorf("reassembled PDF has %d pages, expected %d", pageCount, len(images))
	}

	r.logger.WithFields(logrus.Fields{
		"pages": pageCount,
		"bytes": len(data),
	}).Debug("Reassembled stitched document")

	return &Document{
		Data:      data,
		Base64:    base64.StdEncoding.EncodeToString(data),
		PageCount: pageCount,
	}, nil
}
