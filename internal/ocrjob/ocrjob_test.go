package ocrjob

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type statusReply struct {
	status  Status
	message string
	err     error
}

// fakeService replays scripted poll replies and serves pages by token
type fakeService struct {
	startErr  error
	jobID     string
	statuses  []statusReply
	pages     map[string]Page
	fetchErr  error
	submitted []storage.DocumentRef
	fetched   []string
	polls     int
}

func (f *fakeService) StartJob(_ context.Context, ref storage.DocumentRef) (string, error) {
	f.submitted = append(f.submitted, ref)
	if f.startErr != nil {
		return "", f.startErr
	}
	if f.jobID == "" {
		return "job-1", nil
	}
	return f.jobID, nil
}

func (f *fakeService) JobStatus(_ context.Context, _ string) (Status, string, error) {
	reply := f.statuses[min(f.polls, len(f.statuses)-1)]
	f.polls++
	return reply.status, reply.message, reply.err
}

func (f *fakeService) FetchPage(_ context.Context, _ string, token string) (Page, error) {
	f.fetched = append(f.fetched, token)
	if f.fetchErr != nil {
		return Page{}, f.fetchErr
	}
	page, ok := f.pages[token]
	if !ok {
		return Page{}, errors.New("unknown token " + token)
	}
	return page, nil
}

// recordingSleeper never waits
type recordingSleeper struct {
	calls []time.Duration
	err   error
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

// countingStore wraps the memory store and counts deletes
type countingStore struct {
	*storage.MemoryStore
	mu      sync.Mutex
	deletes []string
	putErr  error
}

func (c *countingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if c.putErr != nil {
		return c.putErr
	}
	return c.MemoryStore.Put(ctx, key, data, contentType)
}

func (c *countingStore) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.deletes = append(c.deletes, key)
	c.mu.Unlock()
	return c.MemoryStore.Delete(ctx, key)
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	mem, err := storage.NewMemoryStore("http://localhost", time.Hour, time.Minute, testLogger())
	require.NoError(t, err)
	return &countingStore{MemoryStore: mem}
}

func threePageService() *fakeService {
	return &fakeService{
		statuses: []statusReply{
			{status: StatusInProgress},
			{status: StatusInProgress},
			{status: StatusSucceeded},
		},
		pages: map[string]Page{
			"":   {Lines: []string{"Invoice 42", "Total: 10.00"}, NextToken: "t1"},
			"t1": {Lines: nil, NextToken: "t2"},
			"t2": {Lines: []string{"Thank you"}},
		},
	}
}

func TestJob_Transitions(t *testing.T) {
	job := NewJob()
	assert.Equal(t, StateSubmitted, job.State)

	err := job.Observe(StatusSucceeded, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, job.AppendLines([]string{"x"}), ErrInvalidTransition)

	assert.Error(t, job.Accept(""))
	require.NoError(t, job.Accept("job-1"))
	assert.Equal(t, StateInProgress, job.State)
	assert.ErrorIs(t, job.Accept("job-2"), ErrInvalidTransition)

	require.NoError(t, job.Observe(StatusInProgress, ""))
	assert.Equal(t, StateInProgress, job.State)
	require.NoError(t, job.Observe(StatusPartialSuccess, "some pages skipped"))
	assert.Equal(t, StateSucceeded, job.State)
	assert.True(t, job.State.Terminal())
	assert.Equal(t, 2, job.Polls)
	assert.Equal(t, "some pages skipped", job.Message)

	assert.ErrorIs(t, job.Observe(StatusFailed, ""), ErrInvalidTransition)

	require.NoError(t, job.AppendLines([]string{"a", "b"}))
	require.NoError(t, job.AppendLines(nil))
	assert.Equal(t, "a\nb\n", job.Text())
	assert.Equal(t, 2, job.Pages)
}

func TestJob_UnknownStatus(t *testing.T) {
	job := NewJob()
	require.NoError(t, job.Accept("job-1"))
	assert.ErrorContains(t, job.Observe(Status("EXPLODED"), ""), "unexpected job status")
}

func TestPoller_PaginatesUntilNoToken(t *testing.T) {
	service := threePageService()
	sleeper := &recordingSleeper{}
	poller := NewPoller(service, 0, sleeper, testLogger())

	job, err := poller.Run(context.Background(), storage.DocumentRef{Bucket: "b", Key: "k"})
	require.NoError(t, err)

	assert.Equal(t, "Invoice 42\nTotal: 10.00\nThank you\n", job.Text())
	assert.Equal(t, []string{"", "t1", "t2"}, service.fetched)
	assert.Equal(t, 3, job.Polls)
	assert.Equal(t, 3, job.Pages)
	assert.Equal(t, StateSucceeded, job.State)
	assert.Equal(t, []time.Duration{DefaultPollInterval, DefaultPollInterval, DefaultPollInterval}, sleeper.calls)
}

func TestPoller_NoTerminalStateUntilCancelled(t *testing.T) {
	service := &fakeService{statuses: []statusReply{{status: StatusInProgress}}}
	ctx, cancel := context.WithCancel(context.Background())

	polls := 0
	sleeper := SleeperFunc(func(ctx context.Context, _ time.Duration) error {
		polls++
		if polls == 50 {
			cancel()
		}
		return ctx.Err()
	})

	job, err := NewPoller(service, time.Second, sleeper, testLogger()).Run(ctx, storage.DocumentRef{})

	var extractionErr *extract.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, "poll", extractionErr.Op)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 49, job.Polls)
	assert.Equal(t, StateInProgress, job.State)
}

func TestPoller_StatusError(t *testing.T) {
	service := &fakeService{statuses: []statusReply{{err: errors.New("throttled")}}}

	_, err := NewPoller(service, 0, &recordingSleeper{}, testLogger()).Run(context.Background(), storage.DocumentRef{})
	assert.ErrorContains(t, err, "throttled")

	var extractionErr *extract.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, extract.ServiceOCR, extractionErr.Service)
}

func TestClient_ExtractSucceeds(t *testing.T) {
	store := newCountingStore(t)
	service := threePageService()
	client := NewClient(store, service, Options{StagingPrefix: "ocr", Sleeper: &recordingSleeper{}}, testLogger())

	assert.Equal(t, extract.ServiceOCR, client.Name())

	text, err := client.Extract(context.Background(), []byte("%PDF-1.7"), extract.MimeTypePDF)
	require.NoError(t, err)
	assert.Equal(t, "Invoice 42\nTotal: 10.00\nThank you\n", text)

	require.Len(t, service.submitted, 1)
	ref := service.submitted[0]
	assert.Equal(t, storage.MemoryBucket, ref.Bucket)
	assert.True(t, strings.HasPrefix(ref.Key, "ocr/"))
	assert.True(t, strings.HasSuffix(ref.Key, ".pdf"))

	assert.Equal(t, []string{ref.Key}, store.deletes)
	_, err = store.Get(context.Background(), ref.Key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClient_FailedJobDeletesOnce(t *testing.T) {
	store := newCountingStore(t)
	service := &fakeService{
		jobID: "job-9",
		statuses: []statusReply{
			{status: StatusInProgress},
			{status: StatusFailed, message: "unsupported document format"},
		},
	}
	client := NewClient(store, service, Options{Sleeper: &recordingSleeper{}}, testLogger())

	text, err := client.Extract(context.Background(), []byte("%PDF-1.7"), extract.MimeTypePDF)
	assert.Empty(t, text)

	var jobErr *extract.JobFailedError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "job-9", jobErr.JobID)
	assert.Equal(t, "unsupported document format", jobErr.Message)

	assert.Len(t, store.deletes, 1)
	assert.Empty(t, service.fetched)
}

func TestClient_CleanupOnEveryPath(t *testing.T) {
	tests := []struct {
		name    string
		service *fakeService
		sleeper *recordingSleeper
		op      string
	}{
		{
			name:    "submit fails",
			service: &fakeService{startErr: errors.New("access denied")},
			sleeper: &recordingSleeper{},
			op:      "submit",
		},
		{
			name:    "wait cancelled",
			service: threePageService(),
			sleeper: &recordingSleeper{err: context.DeadlineExceeded},
			op:      "poll",
		},
		{
			name: "fetch fails",
			service: &fakeService{
				statuses: []statusReply{{status: StatusSucceeded}},
				fetchErr: errors.New("connection reset"),
			},
			sleeper: &recordingSleeper{},
			op:      "fetch results",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newCountingStore(t)
			client := NewClient(store, tt.service, Options{Sleeper: tt.sleeper}, testLogger())

			_, err := client.Extract(context.Background(), []byte("doc"), extract.MimeTypePDF)

			var extractionErr *extract.ExtractionError
			require.ErrorAs(t, err, &extractionErr)
			assert.Equal(t, tt.op, extractionErr.Op)
			assert.Len(t, store.deletes, 1)
		})
	}
}

func TestClient_StagingFailure(t *testing.T) {
	store := newCountingStore(t)
	store.putErr = errors.New("bucket missing")
	service := threePageService()
	client := NewClient(store, service, Options{Sleeper: &recordingSleeper{}}, testLogger())

	_, err := client.Extract(context.Background(), []byte("doc"), extract.MimeTypePDF)

	var stagingErr *extract.StagingError
	require.ErrorAs(t, err, &stagingErr)
	assert.Empty(t, service.submitted)
	assert.Empty(t, store.deletes)
}

func TestClient_UnsupportedMimeType(t *testing.T) {
	store := newCountingStore(t)
	client := NewClient(store, threePageService(), Options{}, testLogger())

	_, err := client.Extract(context.Background(), []byte("GIF89a"), "image/gif")
	assert.ErrorIs(t, err, extract.ErrUnsupportedMimeType)
	assert.Empty(t, store.deletes)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".pdf", extensionFor(extract.MimeTypePDF))
	assert.Equal(t, ".png", extensionFor(extract.MimeTypePNG))
	assert.Equal(t, ".jpg", extensionFor(extract.MimeTypeJPEG))
}

func TestTimerSleeper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := TimerSleeper.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, TimerSleeper.Sleep(context.Background(), time.Millisecond))
}
