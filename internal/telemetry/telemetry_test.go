package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestInitTracer_Disabled(t *testing.T) {
	t.Setenv("OTEL_SDK_DISABLED", "true")

	shutdown, err := telemetry.InitTracer(quietLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown()) }()

	assert.NotNil(t, telemetry.GetTracer())
	assert.False(t, telemetry.IsEnabled())
}

func TestInitTracer_NotConfigured(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_SDK_DISABLED", "")
	t.Setenv("OCR_TRACING_DISABLED_PROVIDERS", "vision, ocr")

	shutdown, err := telemetry.InitTracer(quietLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown()) }()

	assert.False(t, telemetry.IsEnabled())
	assert.True(t, telemetry.IsProviderTracingDisabled("vision"))
	assert.True(t, telemetry.IsProviderTracingDisabled("ocr"))
	assert.False(t, telemetry.IsProviderTracingDisabled("other"))
}

func TestExtractionSpan_Noop(t *testing.T) {
	t.Setenv("OTEL_SDK_DISABLED", "true")
	shutdown, err := telemetry.InitTracer(quietLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown()) }()

	ctx, span := telemetry.StartExtractionSpan(context.Background(), extract.ServiceVision, extract.MimeTypePDF, 1024)
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	assert.False(t, span.SpanContext().IsValid())

	stageCtx, stage := telemetry.StartStageSpan(ctx, "render")
	require.NotNil(t, stageCtx)
	telemetry.EndStageSpan(stage, errors.New("boom"))
	telemetry.EndExtractionSpan(span, 0, errors.New("boom"))
	telemetry.EndExtractionSpan(nil, 0, nil)
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, telemetry.RequestIDFromContext(ctx))

	id := telemetry.GenerateRequestID()
	assert.NotEqual(t, id, telemetry.GenerateRequestID())

	ctx = telemetry.ContextWithRequestID(ctx, id)
	assert.Equal(t, id, telemetry.RequestIDFromContext(ctx))
}

func TestInitMetrics_DefaultGroups(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OCR_METRICS_GROUPS", "")

	shutdown, err := telemetry.InitMetrics(quietLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown()) }()

	assert.False(t, telemetry.IsMetricsEnabled())
	assert.Equal(t, map[string]bool{
		telemetry.MetricGroupExtraction: true,
		telemetry.MetricGroupOCR:        true,
	}, telemetry.EnabledMetricGroups())

	// recording while disabled is a no-op
	telemetry.RecordExtraction(context.Background(), "vision", errors.New("x"), 12)
	telemetry.RecordOCRPoll(context.Background(), "IN_PROGRESS")
	telemetry.RecordUpload(context.Background(), extract.MimeTypePDF, 100)
}

func TestInitMetrics_CustomGroups(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OCR_METRICS_GROUPS", "storage, ocr")

	shutdown, err := telemetry.InitMetrics(quietLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown()) }()

	assert.Equal(t, map[string]bool{"storage": true, "ocr": true}, telemetry.EnabledMetricGroups())
}

func TestCategoriseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"render", &extract.ExtractionError{Service: "vision", Op: "render", Err: &extract.RenderError{Page: 2, Err: errors.New("bad")}}, "render"},
		{"job failed", &extract.JobFailedError{JobID: "j1"}, "job_failed"},
		{"staging", &extract.StagingError{Op: "put", Key: "k", Err: errors.New("denied")}, "staging"},
		{"not configured", fmt.Errorf("vision: %w", extract.ErrProviderNotConfigured), "configuration"},
		{"unsupported", extract.ErrUnsupportedMimeType, "validation"},
		{"deadline", fmt.Errorf("poll: %w", context.DeadlineExceeded), "timeout"},
		{"cancelled", context.Canceled, "cancelled"},
		{"network", errors.New("dial tcp 10.0.0.1:443: connection refused"), "network"},
		{"throttled", errors.New("ThrottlingException: slow down"), "throttled"},
		{"api", errors.New("https response error StatusCode: 500"), "external_api"},
		{"other", errors.New("something odd"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, telemetry.CategoriseError(tt.err))
		})
	}
}

func TestSanitiseURL(t *testing.T) {
	presigned := "https://user:pw@docs.s3.amazonaws.com/uploads/a.pdf?X-Amz-Algorithm=AWS4-HMAC-SHA256&X-Amz-Credential=AKIA%2F20250101&X-Amz-Signature=deadbeef&X-Amz-Security-Token=abc"
	got := telemetry.SanitiseURL(presigned)

	assert.NotContains(t, got, "deadbeef")
	assert.NotContains(t, got, "AKIA")
	assert.NotContains(t, got, "pw@")
	assert.Contains(t, got, "X-Amz-Algorithm=AWS4-HMAC-SHA256")
	assert.Contains(t, got, "/uploads/a.pdf")

	local := telemetry.SanitiseURL("http://localhost:8080/api/upload/uploads/a.pdf?expires=1700000000&token=abcdef")
	assert.Contains(t, local, "expires=1700000000")
	assert.NotContains(t, local, "abcdef")

	assert.Equal(t, "", telemetry.SanitiseURL(""))
	assert.Equal(t, "[INVALID_URL]", telemetry.SanitiseURL("not a url"))
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "", telemetry.RedactSecret(""))
	assert.Equal(t, "[REDACTED]", telemetry.RedactSecret("short"))
	assert.Equal(t, "sk-a...[REDACTED]", telemetry.RedactSecret("sk-abcdefghijklmnop"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", telemetry.TruncateString("hello", 10))
	assert.Equal(t, "hel...", telemetry.TruncateString("hello world", 6))
	assert.Equal(t, "...", telemetry.TruncateString("hello", 2))
}

func TestWrapHTTPClient_Disabled(t *testing.T) {
	t.Setenv("OTEL_SDK_DISABLED", "true")
	shutdown, err := telemetry.InitTracer(quietLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown()) }()

	transport := &http.Transport{}
	client := telemetry.WrapHTTPClient(&http.Client{Transport: transport})
	assert.Same(t, transport, client.Transport)
}
