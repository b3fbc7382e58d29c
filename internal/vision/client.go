// Package vision extracts text with a generative vision model. PDFs are
// rasterised, stitched six pages to a canvas and reassembled before the
// single model call, so the model sees fewer, denser pages.
package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/raster"
	"github.com/sammcj/pdf-ocr-compare/internal/reassemble"
	"github.com/sammcj/pdf-ocr-compare/internal/stitch"
	"github.com/sammcj/pdf-ocr-compare/internal/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Options configures a Client
type Options struct {
	// Prompt replaces DefaultPrompt when set
	Prompt string

	// StitchPDFs enables the rasterise, stitch and reassemble pipeline for PDFs.
	// When false PDFs are sent unchanged.
	StitchPDFs bool
}

// Client is the vision extraction provider
type Client struct {
	rasterizer  raster.Rasterizer
	stitcher    *stitch.Stitcher
	reassembler *reassemble.Reassembler
	generator   Generator
	prompt      string
	stitchPDFs  bool
	logger      *logrus.Logger
}

// NewClient wires the pipeline stages to a generator
func NewClient(rasterizer raster.Rasterizer, stitcher *stitch.Stitcher, reassembler *reassemble.Reassembler, generator Generator, opts Options, logger *logrus.Logger) *Client {
	prompt := opts.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Client{
		rasterizer:  rasterizer,
		stitcher:    stitcher,
		reassembler: reassembler,
		generator:   generator,
		prompt:      prompt,
		stitchPDFs:  opts.StitchPDFs && rasterizer != nil,
		logger:      logger,
	}
}

// Name returns the result key for this provider
func (c *Client) Name() string {
	return extract.ServiceVision
}

// Stitching reports whether PDFs go through the stitching pipeline
func (c *Client) Stitching() bool {
	return c.stitchPDFs
}

// Extract returns the model's raw text for doc. Any failure is an ExtractionError;
// render failures remain reachable as RenderError.
func (c *Client) Extract(ctx context.Context, doc []byte, mimeType string) (string, error) {
	if !extract.IsSupportedMimeType(mimeType) {
		return "", c.fail("validate", fmt.Errorf("%w: %s", extract.ErrUnsupportedMimeType, mimeType))
	}

	req := Request{
		Prompt:   c.prompt,
		MimeType: mimeType,
		Data:     doc,
	}

	if mimeType == extract.MimeTypePDF && c.stitchPDFs {
		stitched, err := c.Preview(ctx, doc)
		if err != nil {
			return "", err
		}
		req.Prompt = BuildPrompt(c.prompt, c.stitcher.Layout(), true)
		req.Data = stitched.Data
		req.Base64 = stitched.Base64
		req.Filename = "stitched.pdf"
	}

	start := time.Now()
	text, err := c.generator.Generate(ctx, req)
	if err != nil {
		return "", c.fail("generate", err)
	}

	c.logger.WithFields(logrus.Fields{
		"mime_type":  mimeType,
		"characters": len(text),
		"duration":   time.Since(start).Round(time.Millisecond),
	}).Info("Vision extraction completed")

	return text, nil
}

// Preview runs rasterise, stitch and reassemble and returns the document the model would receive
func (c *Client) Preview(ctx context.Context, pdf []byte) (*reassemble.Document, error) {
	if c.rasterizer == nil || c.stitcher == nil || c.reassembler == nil {
		return nil, c.fail("render", fmt.Errorf("%w: stitching pipeline is not available", extract.ErrProviderNotConfigured))
	}

	start := time.Now()

	stageCtx, span := telemetry.StartStageSpan(ctx, "render")
	pages, err := c.rasterizer.Rasterize(stageCtx, pdf)
	telemetry.EndStageSpan(span, err)
	if err != nil {
		return nil, c.fail("render", err)
	}
	rendered := time.Now()

	_, span = telemetry.StartStageSpan(ctx, "stitch", attribute.Int(telemetry.AttrDocumentPages, len(pages)))
	images, err := c.stitcher.Stitch(pages)
	span.SetAttributes(attribute.Int(telemetry.AttrStitchBatches, len(images)))
	telemetry.EndStageSpan(span, err)
	if err != nil {
		return nil, c.fail("stitch", err)
	}
	stitched := time.Now()

	stageCtx, span = telemetry.StartStageSpan(ctx, "reassemble")
	doc, err := c.reassembler.Reassemble(stageCtx, images)
	telemetry.EndStageSpan(span, err)
	if err != nil {
		return nil, c.fail("reassemble", err)
	}

	telemetry.RecordStitchedPages(ctx, doc.PageCount)

	c.logger.WithFields(logrus.Fields{
		"source_pages":   len(pages),
		"stitched_pages": doc.PageCount,
		"bytes":          len(doc.Data),
		"render":         rendered.Sub(start).Round(time.Millisecond),
		"stitch":         stitched.Sub(rendered).Round(time.Millisecond),
		"reassemble":     time.Since(stitched).Round(time.Millisecond),
	}).Debug("Document stitched for vision model")

	return doc, nil
}

func (c *Client) fail(op string, err error) error {
	return &extract.ExtractionError{Service: extract.ServiceVision, Op: op, Err: err}
}
