// Package ocrjob drives an asynchronous OCR job from submission to collected text.
//
// A Job moves SUBMITTED -> IN_PROGRESS -> SUCCEEDED|FAILED. The Poller checks the
// job status at a fixed interval with no backoff and no retry limit; only a
// terminal state or cancellation of the context stops it.
package ocrjob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPollInterval is the fixed wait between status checks
const DefaultPollInterval = 5 * time.Second

// State is the lifecycle position of a Job
type State string

const (
	StateSubmitted  State = "SUBMITTED"
	StateInProgress State = "IN_PROGRESS"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Status is what the job service reports for a running job
type Status string

const (
	StatusInProgress     Status = "IN_PROGRESS"
	StatusSucceeded      Status = "SUCCEEDED"
	StatusPartialSuccess Status = "PARTIAL_SUCCESS"
	StatusFailed         Status = "FAILED"
)

// ErrInvalidTransition is returned when an event does not apply to the current state
var ErrInvalidTransition = errors.New("invalid job state transition")

// Job is one extraction request against the OCR service
type Job struct {
	ID      string
	State   State
	Message string
	Polls   int
	Pages   int

	text strings.Builder
}

// NewJob returns a job in the SUBMITTED state
func NewJob() *Job {
	return &Job{State: StateSubmitted}
}

// Accept records the job ID the service assigned and moves to IN_PROGRESS
func (j *Job) Accept(id string) error {
	if j.State != StateSubmitted {
		return fmt.Errorf("%w: accept from %s", ErrInvalidTransition, j.State)
	}
	if id == "" {
		return errors.New("job service returned an empty job ID")
	}
	j.ID = id
	j.State = StateInProgress
	return nil
}

// Observe applies one poll result. PARTIAL_SUCCESS counts as success.
func (j *Job) Observe(status Status, message string) error {
	if j.State != StateInProgress {
		return fmt.Errorf("%w: poll result %s in state %s", ErrInvalidTransition, status, j.State)
	}

	j.Polls++
	j.Message = message

	switch status {
	case StatusInProgress:
	case StatusSucceeded, StatusPartialSuccess:
		j.State = StateSucceeded
	case StatusFailed:
		j.State = StateFailed
	default:
		return fmt.Errorf("unexpected job status %q", status)
	}
	return nil
}

// AppendLines adds one result page. Each line is terminated by a newline.
func (j *Job) AppendLines(lines []string) error {
	if j.State != StateSucceeded {
		return fmt.Errorf("%w: results fetched in state %s", ErrInvalidTransition, j.State)
	}
	j.Pages++
	for _, line := range lines {
		j.text.WriteString(line)
		j.text.WriteByte('\n')
	}
	return nil
}

// Text returns the accumulated text
func (j *Job) Text() string {
	return j.text.String()
}

// Sleeper waits between polls
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper waits on a real timer, returning early when ctx is done
var TimerSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
})
