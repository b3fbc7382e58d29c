package ocrjob

import (
	"context"
	"fmt"
	"time"

	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/storage"
	"github.com/sirupsen/logrus"
)

// Options configures a Client
type Options struct {
	PollInterval  time.Duration
	StagingPrefix string
	Sleeper       Sleeper
}

// Client stages documents where the OCR service can read them and returns the job text
type Client struct {
	store  storage.Store
	poller *Poller
	prefix string
	logger *logrus.Logger
}

// NewClient creates an OCR client that stages through store and extracts with service
func NewClient(store storage.Store, service JobService, opts Options, logger *logrus.Logger) *Client {
	prefix := opts.StagingPrefix
	if prefix == "" {
		prefix = storage.DefaultStagingPrefix
	}
	return &Client{
		store:  store,
		poller: NewPoller(service, opts.PollInterval, opts.Sleeper, logger),
		prefix: prefix,
		logger: logger,
	}
}

// Name returns the result key for this provider
func (c *Client) Name() string {
	return extract.ServiceOCR
}

// Extract stages doc under a unique key, runs an OCR job against it and returns the
// LINE text. The staged copy is deleted exactly once on every path after staging.
func (c *Client) Extract(ctx context.Context, doc []byte, mimeType string) (string, error) {
	if !extract.IsSupportedMimeType(mimeType) {
		return "", fmt.Errorf("%w: %s", extract.ErrUnsupportedMimeType, mimeType)
	}

	staged, err := storage.Stage(ctx, c.store, c.prefix, extensionFor(mimeType), doc, mimeType, c.logger)
	if err != nil {
		return "", err
	}
	defer staged.Release(ctx)

	start := time.Now()
	job, err := c.poller.Run(ctx, staged.Ref)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"job_id": job.ID,
			"state":  job.State,
			"polls":  job.Polls,
		}).Warn("OCR job did not complete")
		return "", err
	}

	text := job.Text()
	c.logger.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"polls":      job.Polls,
		"pages":      job.Pages,
		"characters": len(text),
		"duration":   time.Since(start).Round(time.Millisecond),
	}).Info("OCR job completed")

	return text, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case extract.MimeTypePNG:
		return ".png"
	case extract.MimeTypeJPEG:
		return ".jpg"
	default:
		return ".pdf"
	}
}
