package ocrjob

import (
	"context"
	"time"

	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/storage"
	"github.com/sammcj/pdf-ocr-compare/internal/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Poller submits documents to a JobService and waits for their results
type Poller struct {
	service  JobService
	interval time.Duration
	sleeper  Sleeper
	logger   *logrus.Logger
}

// NewPoller creates a poller. A zero interval uses DefaultPollInterval and a nil
// sleeper uses TimerSleeper.
func NewPoller(service JobService, interval time.Duration, sleeper Sleeper, logger *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if sleeper == nil {
		sleeper = TimerSleeper
	}
	return &Poller{
		service:  service,
		interval: interval,
		sleeper:  sleeper,
		logger:   logger,
	}
}

// Run submits ref, polls until the job is terminal and collects every result page.
// The returned Job reflects how far it got, even on error.
func (p *Poller) Run(ctx context.Context, ref storage.DocumentRef) (*Job, error) {
	job := NewJob()

	id, err := p.service.StartJob(ctx, ref)
	if err != nil {
		return job, &extract.ExtractionError{Service: extract.ServiceOCR, Op: "submit", Err: err}
	}
	if err := job.Accept(id); err != nil {
		return job, &extract.ExtractionError{Service: extract.ServiceOCR, Op: "submit", Err: err}
	}

	p.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"key":    ref.Key,
	}).Debug("OCR job submitted")

	ctx, span := telemetry.StartStageSpan(ctx, "poll", attribute.String(telemetry.AttrJobID, job.ID))
	err = p.wait(ctx, job)
	span.SetAttributes(
		attribute.Int(telemetry.AttrJobPolls, job.Polls),
		attribute.String(telemetry.AttrJobStatus, string(job.State)),
	)
	telemetry.EndStageSpan(span, err)
	if err != nil {
		return job, err
	}

	if job.State == StateFailed {
		return job, &extract.JobFailedError{JobID: job.ID, Message: job.Message}
	}

	if err := p.collect(ctx, job); err != nil {
		return job, err
	}

	return job, nil
}

func (p *Poller) wait(ctx context.Context, job *Job) error {
	for !job.State.Terminal() {
		if err := p.sleeper.Sleep(ctx, p.interval); err != nil {
			return &extract.ExtractionError{Service: extract.ServiceOCR, Op: "poll", Err: err}
		}

		status, message, err := p.service.JobStatus(ctx, job.ID)
		if err != nil {
			return &extract.ExtractionError{Service: extract.ServiceOCR, Op: "poll", Err: err}
		}
		telemetry.RecordOCRPoll(ctx, string(status))

		if err := job.Observe(status, message); err != nil {
			return &extract.ExtractionError{Service: extract.ServiceOCR, Op: "poll", Err: err}
		}

		p.logger.WithFields(logrus.Fields{
			"job_id": job.ID,
			"status": status,
			"polls":  job.Polls,
		}).Debug("OCR job polled")
	}
	return nil
}

// collect pages through results. Only a missing continuation token ends the loop;
// pages without lines are normal.
func (p *Poller) collect(ctx context.Context, job *Job) error {
	token := ""
	for {
		page, err := p.service.FetchPage(ctx, job.ID, token)
		if err != nil {
			return &extract.ExtractionError{Service: extract.ServiceOCR, Op: "fetch results", Err: err}
		}
		if err := job.AppendLines(page.Lines); err != nil {
			return &extract.ExtractionError{Service: extract.ServiceOCR, Op: "fetch results", Err: err}
		}
		telemetry.RecordOCRResultPage(ctx, len(page.Lines))

		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}
