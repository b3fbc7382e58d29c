package telemetry

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const defaultMetricExportInterval = 60 * time.Second

// Metric groups selectable through OCR_METRICS_GROUPS
const (
	MetricGroupExtraction = "extraction"
	MetricGroupOCR        = "ocr"
	MetricGroupStorage    = "storage"
)

var (
	metricsMutex        sync.RWMutex
	globalMeterProvider *sdkmetric.MeterProvider
	globalMeter         metric.Meter
	metricsEnabled      bool

	enabledMetricGroups map[string]bool

	// extraction group
	extractionCallsCounter      metric.Int64Counter
	extractionDurationHistogram metric.Float64Histogram
	extractionErrorsCounter     metric.Int64Counter
	stitchedPagesHistogram      metric.Int64Histogram

	// ocr group
	ocrPollsCounter metric.Int64Counter
	ocrPagesCounter metric.Int64Counter

	// storage group
	storageOpsCounter    metric.Int64Counter
	uploadBytesHistogram metric.Int64Histogram
)

// InitMetrics initialises the OpenTelemetry meter provider. Call after InitTracer.
func InitMetrics(logger *logrus.Logger) (func() error, error) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	enabledMetricGroups = parseCSVSet(os.Getenv("OCR_METRICS_GROUPS"))
	if len(enabledMetricGroups) > 0 {
		logger.WithField("enabled_groups", enabledMetricGroups).Debug("OTEL Metrics: Enabled groups configured")
	} else {
		enabledMetricGroups = map[string]bool{
			MetricGroupExtraction: true,
			MetricGroupOCR:        true,
		}
		logger.Debug("OTEL Metrics: Using default groups (extraction, ocr)")
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" || strings.ToLower(os.Getenv("OTEL_SDK_DISABLED")) == "true" {
		logger.Debug("OTEL Metrics: Not configured, using noop meter")
		metricsEnabled = false
		globalMeter = otel.GetMeterProvider().Meter(instrumentationName)
		return func() error { return nil }, nil
	}

	metricsEnabled = true
	logger.WithField("endpoint", endpoint).Info("OTEL Metrics: Initialising meter")

	protocol := getOTLPProtocol()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var exporter sdkmetric.Exporter
	var err error

	switch protocol {
	case "grpc":
		exporter, err = otlpmetricgrpc.New(ctx)
	case "http/protobuf", "http":
		exporter, err = otlpmetrichttp.New(ctx)
	default:
		logger.WithField("protocol", protocol).Warn("OTEL Metrics: Unknown protocol, defaulting to http")
		exporter, err = otlpmetrichttp.New(ctx)
	}

	if err != nil {
		logger.WithError(err).Warn("OTEL Metrics: Failed to create exporter, falling back to noop meter")
		metricsEnabled = false
		globalMeter = otel.GetMeterProvider().Meter(instrumentationName)
		return func() error { return nil }, err
	}

	res, err := newResource(ctx)
	if err != nil {
		logger.WithError(err).Warn("OTEL Metrics: Failed to create resource, using default")
		res = resource.Default()
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(getMetricExportInterval(logger)),
		)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(meterProvider)
	globalMeterProvider = meterProvider
	globalMeter = meterProvider.Meter(instrumentationName)

	if err := initMetricInstruments(globalMeter, enabledMetricGroups, logger); err != nil {
		logger.WithError(err).Error("OTEL Metrics: Failed to initialise instruments")
		return func() error { return nil }, err
	}

	logger.Info("OTEL Metrics: Meter initialised successfully")

	return func() error {
		metricsMutex.Lock()
		defer metricsMutex.Unlock()

		if globalMeterProvider != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := globalMeterProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("OTEL Metrics: Failed to shutdown meter provider")
				return err
			}
			globalMeterProvider = nil
			logger.Debug("OTEL Metrics: Meter provider shutdown successfully")
		}
		return nil
	}, nil
}

// initMetricInstruments creates the instruments for each enabled group.
// Caller holds metricsMutex.
func initMetricInstruments(meter metric.Meter, groups map[string]bool, logger *logrus.Logger) error {
	var err error

	if groups[MetricGroupExtraction] {
		extractionCallsCounter, err = meter.Int64Counter(
			"extraction.calls",
			metric.WithDescription("Provider extraction runs"),
			metric.WithUnit("{call}"),
		)
		if err != nil {
			return err
		}

		extractionDurationHistogram, err = meter.Float64Histogram(
			"extraction.duration",
			metric.WithDescription("Provider extraction wall-clock time"),
			metric.WithUnit("ms"),
			metric.WithExplicitBucketBoundaries(250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000),
		)
		if err != nil {
			return err
		}

		extractionErrorsCounter, err = meter.Int64Counter(
			"extraction.errors",
			metric.WithDescription("Provider extraction errors by category"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			return err
		}

		stitchedPagesHistogram, err = meter.Int64Histogram(
			"stitch.pages",
			metric.WithDescription("Pages sent to the vision model after stitching"),
			metric.WithUnit("{page}"),
			metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 20, 35),
		)
		if err != nil {
			return err
		}

		logger.Debug("OTEL Metrics: Extraction metrics initialised")
	}

	if groups[MetricGroupOCR] {
		ocrPollsCounter, err = meter.Int64Counter(
			"ocr.job.polls",
			metric.WithDescription("OCR job status polls by reported status"),
			metric.WithUnit("{poll}"),
		)
		if err != nil {
			return err
		}

		ocrPagesCounter, err = meter.Int64Counter(
			"ocr.job.result_pages",
			metric.WithDescription("OCR result pages fetched"),
			metric.WithUnit("{page}"),
		)
		if err != nil {
			return err
		}

		logger.Debug("OTEL Metrics: OCR metrics initialised")
	}

	if groups[MetricGroupStorage] {
		storageOpsCounter, err = meter.Int64Counter(
			"storage.operations",
			metric.WithDescription("Content store operations"),
			metric.WithUnit("{operation}"),
		)
		if err != nil {
			return err
		}

		uploadBytesHistogram, err = meter.Int64Histogram(
			"storage.upload.size",
			metric.WithDescription("Uploaded document size"),
			metric.WithUnit("By"),
			metric.WithExplicitBucketBoundaries(1<<16, 1<<18, 1<<20, 1<<22, 1<<24, 1<<26),
		)
		if err != nil {
			return err
		}

		logger.Debug("OTEL Metrics: Storage metrics initialised")
	}

	return nil
}

// IsMetricsEnabled returns true if metrics collection is enabled
func IsMetricsEnabled() bool {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()
	return metricsEnabled
}

// RecordExtraction records one provider run
func RecordExtraction(ctx context.Context, provider string, err error, durationMs float64) {
	if !IsMetricsEnabled() || !isMetricGroupEnabled(MetricGroupExtraction) {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	if extractionCallsCounter != nil {
		extractionCallsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttrProviderName, provider),
			attribute.String("result", result),
		))
	}

	if extractionDurationHistogram != nil {
		extractionDurationHistogram.Record(ctx, durationMs, metric.WithAttributes(
			attribute.String(AttrProviderName, provider),
		))
	}

	if err != nil && extractionErrorsCounter != nil {
		extractionErrorsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttrProviderName, provider),
			attribute.String(AttrErrorCategory, CategoriseError(err)),
		))
	}
}

// RecordStitchedPages records how many pages the vision model received
func RecordStitchedPages(ctx context.Context, pages int) {
	if !IsMetricsEnabled() || !isMetricGroupEnabled(MetricGroupExtraction) {
		return
	}
	if stitchedPagesHistogram != nil {
		stitchedPagesHistogram.Record(ctx, int64(pages))
	}
}

// RecordOCRPoll records one job status poll
func RecordOCRPoll(ctx context.Context, status string) {
	if !IsMetricsEnabled() || !isMetricGroupEnabled(MetricGroupOCR) {
		return
	}
	if ocrPollsCounter != nil {
		ocrPollsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrJobStatus, status)))
	}
}

// RecordOCRResultPage records one fetched result page
func RecordOCRResultPage(ctx context.Context, lines int) {
	if !IsMetricsEnabled() || !isMetricGroupEnabled(MetricGroupOCR) {
		return
	}
	if ocrPagesCounter != nil {
		ocrPagesCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("empty", lines == 0)))
	}
}

// RecordStorageOperation records a content store call
func RecordStorageOperation(ctx context.Context, operation string, err error) {
	if !IsMetricsEnabled() || !isMetricGroupEnabled(MetricGroupStorage) {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	if storageOpsCounter != nil {
		storageOpsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("result", result),
		))
	}
}

// RecordUpload records the size of an accepted upload
func RecordUpload(ctx context.Context, mimeType string, size int64) {
	if !IsMetricsEnabled() || !isMetricGroupEnabled(MetricGroupStorage) {
		return
	}
	if uploadBytesHistogram != nil {
		uploadBytesHistogram.Record(ctx, size, metric.WithAttributes(
			attribute.String(AttrDocumentMimeType, mimeType),
		))
	}
}

// CategoriseError maps errors to metric-friendly categories
func CategoriseError(err error) string {
	if err == nil {
		return ""
	}

	var renderErr *extract.RenderError
	var jobErr *extract.JobFailedError
	var stagingErr *extract.StagingError

	switch {
	case errors.As(err, &renderErr):
		return "render"
	case errors.As(err, &jobErr):
		return "job_failed"
	case errors.As(err, &stagingErr):
		return "staging"
	case errors.Is(err, extract.ErrProviderNotConfigured):
		return "configuration"
	case errors.Is(err, extract.ErrUnsupportedMimeType):
		return "validation"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}

	errStr := err.Error()

	if strings.Contains(errStr, "dial tcp") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") {
		return "network"
	}

	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}

	if strings.Contains(errStr, "429") ||
		strings.Contains(strings.ToLower(errStr), "rate limit") ||
		strings.Contains(errStr, "ThrottlingException") {
		return "throttled"
	}

	if strings.Contains(errStr, "status code: 4") ||
		strings.Contains(errStr, "status code: 5") ||
		strings.Contains(errStr, "StatusCode: 4") ||
		strings.Contains(errStr, "StatusCode: 5") {
		return "external_api"
	}

	return "internal"
}

func isMetricGroupEnabled(group string) bool {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()
	return enabledMetricGroups[group]
}

// EnabledMetricGroups returns a copy of the active metric groups
func EnabledMetricGroups() map[string]bool {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()

	groups := make(map[string]bool, len(enabledMetricGroups))
	for group, on := range enabledMetricGroups {
		groups[group] = on
	}
	return groups
}

func getMetricExportInterval(logger *logrus.Logger) time.Duration {
	intervalStr := os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")
	if intervalStr == "" {
		return defaultMetricExportInterval
	}

	// bare numbers are seconds
	duration, err := time.ParseDuration(intervalStr)
	if err != nil {
		duration, err = time.ParseDuration(intervalStr + "s")
		if err != nil {
			logger.WithField("interval", intervalStr).Warn("OTEL Metrics: Invalid export interval, using default")
			return defaultMetricExportInterval
		}
	}

	return duration
}
