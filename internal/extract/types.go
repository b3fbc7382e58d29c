package extract

import (
	"context"
	"time"
)

// Provider names used as result keys and in log fields
const (
	ServiceVision = "vision"
	ServiceOCR    = "ocr"
)

// Supported document MIME types
const (
	MimeTypePDF  = "application/pdf"
	MimeTypePNG  = "image/png"
	MimeTypeJPEG = "image/jpeg"
)

// Provider extracts raw text from a document
type Provider interface {
	// Name returns the service name used to key results
	Name() string

	// Extract returns the extracted text for the given document bytes
	Extract(ctx context.Context, doc []byte, mimeType string) (string, error)
}

// Result is the per-provider outcome returned to callers
type Result struct {
	// Success reports whether text was extracted
	Success bool `json:"success"`

	// Service is the provider name
	Service string `json:"service"`

	// Text is the raw extracted text, empty on failure
	Text string `json:"text"`

	// Time is the elapsed wall-clock time in milliseconds
	Time int64 `json:"time"`

	// Error is a human readable message, nil on success
	Error *string `json:"error"`
}

// NewResult builds a Result from the outcome of a provider call
func NewResult(service, text string, elapsed time.Duration, err error) Result {
	result := Result{
		Service: service,
		Time:    elapsed.Milliseconds(),
	}
	if err != nil {
		msg := err.Error()
		result.Error = &msg
		return result
	}
	result.Success = true
	result.Text = text
	return result
}

// ErrorMessage returns the error string or an empty string on success
func (r Result) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// IsSupportedMimeType reports whether a provider can accept the given MIME type
func IsSupportedMimeType(mimeType string) bool {
	switch mimeType {
	case MimeTypePDF, MimeTypePNG, MimeTypeJPEG:
		return true
	}
	return false
}
