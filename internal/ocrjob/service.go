package ocrjob

import (
	"context"

	"github.com/sammcj/pdf-ocr-compare/internal/storage"
)

// Page is one page of job results
type Page struct {
	Lines     []string
	NextToken string
}

// JobService is a job-based OCR endpoint
type JobService interface {
	// StartJob submits the document at ref and returns the job ID
	StartJob(ctx context.Context, ref storage.DocumentRef) (string, error)

	// JobStatus reports the current status and any status message
	JobStatus(ctx context.Context, jobID string) (Status, string, error)

	// FetchPage returns one page of LINE text. An empty token fetches the first page.
	FetchPage(ctx context.Context, jobID, token string) (Page, error)
}
