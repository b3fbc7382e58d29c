package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedMimeType is returned for documents neither provider accepts
	ErrUnsupportedMimeType = errors.New("unsupported document type")

	// ErrProviderNotConfigured is returned when a provider is missing credentials or settings
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// RenderError reports a page that could not be rasterised. It aborts the whole pipeline.
type RenderError struct {
	Page int // 1-based page number, 0 when the document itself could not be opened
	Err  error
}

func (e *RenderError) Error() string {
	if e.Page <= 0 {
		return fmt.Sprintf("render failed: %v", e.Err)
	}
	return fmt.Sprintf("render failed on page %d: %v", e.Page, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// JobFailedError reports an OCR job that reached the FAILED state
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("OCR job %s failed", e.JobID)
	}
	return fmt.Sprintf("OCR job %s failed: %s", e.JobID, e.Message)
}

// ExtractionError wraps any upstream failure of a provider with context
type ExtractionError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed during %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StagingError reports a content store failure
type StagingError struct {
	Op  string // put, get, delete, presign
	Key string
	Err error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }
