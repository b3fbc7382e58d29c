package ocrjob

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/sammcj/pdf-ocr-compare/internal/storage"
	"github.com/sirupsen/logrus"
)

const textractMaxResults = 1000

// ErrLocalDocument is returned when a document lives in the in-memory store,
// which Textract cannot read
var ErrLocalDocument = errors.New("textract requires documents staged in S3")

type textractAPI interface {
	StartDocumentTextDetection(ctx context.Context, params *textract.StartDocumentTextDetectionInput, optFns ...func(*textract.Options)) (*textract.StartDocumentTextDetectionOutput, error)
	GetDocumentTextDetection(ctx context.Context, params *textract.GetDocumentTextDetectionInput, optFns ...func(*textract.Options)) (*textract.GetDocumentTextDetectionOutput, error)
}

// Textract is the AWS Textract asynchronous text detection JobService
type Textract struct {
	client textractAPI
	logger *logrus.Logger
}

// NewTextract creates a JobService from an already loaded AWS config
func NewTextract(cfg aws.Config, logger *logrus.Logger) *Textract {
	logger.WithField("region", cfg.Region).Debug("Textract client initialised")
	return &Textract{
		client: textract.NewFromConfig(cfg),
		logger: logger,
	}
}

// StartJob starts text detection on the S3 object at ref
func (t *Textract) StartJob(ctx context.Context, ref storage.DocumentRef) (string, error) {
	if ref.Bucket == storage.MemoryBucket {
		return "", ErrLocalDocument
	}

	out, err := t.client.StartDocumentTextDetection(ctx, &textract.StartDocumentTextDetectionInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(ref.Bucket),
				Name:   aws.String(ref.Key),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to start text detection: %w", err)
	}
	return aws.ToString(out.JobId), nil
}

// JobStatus asks for a single block so the status check stays small
func (t *Textract) JobStatus(ctx context.Context, jobID string) (Status, string, error) {
	out, err := t.client.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{
		JobId:      aws.String(jobID),
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to get job status: %w", err)
	}
	return Status(out.JobStatus), aws.ToString(out.StatusMessage), nil
}

// FetchPage returns the LINE blocks of one result page
func (t *Textract) FetchPage(ctx context.Context, jobID, token string) (Page, error) {
	params := &textract.GetDocumentTextDetectionInput{
		JobId:      aws.String(jobID),
		MaxResults: aws.Int32(textractMaxResults),
	}
	if token != "" {
		params.NextToken = aws.String(token)
	}

	out, err := t.client.GetDocumentTextDetection(ctx, params)
	if err != nil {
		return Page{}, fmt.Errorf("failed to get job results: %w", err)
	}

	lines := make([]string, 0, len(out.Blocks))
	for _, block := range out.Blocks {
		if block.BlockType == types.BlockTypeLine && block.Text != nil {
			lines = append(lines, *block.Text)
		}
	}

	for _, warning := range out.Warnings {
		t.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"code":   aws.ToString(warning.ErrorCode),
			"pages":  warning.Pages,
		}).Warn("Textract reported a warning")
	}

	return Page{Lines: lines, NextToken: aws.ToString(out.NextToken)}, nil
}
