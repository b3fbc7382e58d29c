package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/sammcj/pdf-ocr-compare/internal/awsconfig"
	"github.com/sammcj/pdf-ocr-compare/internal/compare"
	"github.com/sammcj/pdf-ocr-compare/internal/config"
	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/ocrjob"
	"github.com/sammcj/pdf-ocr-compare/internal/raster"
	"github.com/sammcj/pdf-ocr-compare/internal/reassemble"
	"github.com/sammcj/pdf-ocr-compare/internal/server"
	"github.com/sammcj/pdf-ocr-compare/internal/stitch"
	"github.com/sammcj/pdf-ocr-compare/internal/storage"
	"github.com/sammcj/pdf-ocr-compare/internal/telemetry"
	"github.com/sammcj/pdf-ocr-compare/internal/utils/httpclient"
	"github.com/sammcj/pdf-ocr-compare/internal/vision"
	"github.com/sirupsen/logrus"
)

const awsHTTPTimeout = 60 * time.Second

// app holds the wired providers and their shared collaborators
type app struct {
	store        storage.Store
	memory       *storage.MemoryStore
	vision       *vision.Client
	ocr          *ocrjob.Client
	orchestrator *compare.Orchestrator
	shutdown     []func() error
	logger       *logrus.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{logger: logger}

	shutdownTracer, err := telemetry.InitTracer(logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialise tracing, continuing without it")
	} else {
		a.shutdown = append(a.shutdown, shutdownTracer)
	}
	shutdownMetrics, err := telemetry.InitMetrics(logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialise metrics, continuing without them")
	} else {
		a.shutdown = append(a.shutdown, shutdownMetrics)
		if telemetry.IsMetricsEnabled() {
			logger.WithField("groups", metricGroupNames(telemetry.EnabledMetricGroups())).Info("Metrics export enabled")
		}
	}

	var awsCfg aws.Config
	switch cfg.Storage.Backend {
	case storage.BackendS3:
		awsCfg, err = awsconfig.Load(ctx, cfg.Storage.Region, httpclient.New(httpclient.Options{Timeout: awsHTTPTimeout}, logger), logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		s3Store, err := storage.NewS3Store(awsCfg, cfg.Storage.Bucket, cfg.Storage.PresignExpiry, cfg.Server.MaxUploadBytes, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = s3Store
	case storage.BackendMemory:
		memory, err := storage.NewMemoryStore(publicURL(cfg.Server), cfg.Storage.MemoryTTL, cfg.Storage.PresignExpiry, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Warn("Using the in-memory storage backend; uploads are lost on restart")
		a.store = memory
		a.memory = memory
	default:
		a.Close()
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}

	var providers []extract.Provider

	if visionClient, err := newVisionClient(cfg, logger); err != nil {
		if !errors.Is(err, extract.ErrProviderNotConfigured) {
			a.Close()
			return nil, err
		}
		logger.WithError(err).Warn("Vision provider disabled")
	} else {
		a.vision = visionClient
		providers = append(providers, visionClient)
	}

	if cfg.OCR.Enabled {
		ocrCfg := awsCfg
		if region := cfg.OCRRegion(); region != awsCfg.Region {
			ocrCfg, err = awsconfig.Load(ctx, region, httpclient.New(httpclient.Options{Timeout: awsHTTPTimeout}, logger), logger)
			if err != nil {
				a.Close()
				return nil, err
			}
		}
		a.ocr = ocrjob.NewClient(a.store, ocrjob.NewTextract(ocrCfg, logger), ocrjob.Options{
			PollInterval:  cfg.OCR.PollInterval,
			StagingPrefix: cfg.Storage.StagingPrefix,
		}, logger)
		providers = append(providers, a.ocr)
	} else {
		logger.Info("OCR provider disabled")
	}

	a.orchestrator = compare.New(logger, []string{extract.ServiceVision, extract.ServiceOCR}, providers...)

	logger.WithFields(logrus.Fields{
		"storage":   cfg.Storage.Backend,
		"providers": a.orchestrator.Providers(),
		"stitching": a.vision != nil && a.vision.Stitching(),
	}).Info("Providers configured")

	return a, nil
}

// newStitchPipeline builds the rasterise, stitch and reassemble stages
func newStitchPipeline(cfg *config.Config, logger *logrus.Logger) (*vision.Client, error) {
	rasterizer, stitcher, reassembler, err := newStages(cfg, logger)
	if err != nil {
		return nil, err
	}
	if rasterizer == nil {
		return nil, fmt.Errorf("%s is not installed or not executable", cfg.Raster.Tool)
	}
	return vision.NewClient(rasterizer, stitcher, reassembler, nil, vision.Options{StitchPDFs: true}, logger), nil
}

func newVisionClient(cfg *config.Config, logger *logrus.Logger) (*vision.Client, error) {
	if !cfg.Vision.Enabled {
		return nil, fmt.Errorf("%w: vision provider disabled by configuration", extract.ErrProviderNotConfigured)
	}

	httpClient := httpclient.New(httpclient.Options{RequestsPerSecond: cfg.Vision.RequestsPerSecond}, logger)
	generator, err := vision.NewOpenAIGenerator(cfg.Vision.OpenAIConfig, httpClient, logger)
	if err != nil {
		return nil, err
	}

	var (
		rasterizer  raster.Rasterizer
		stitcher    *stitch.Stitcher
		reassembler *reassemble.Reassembler
	)
	if cfg.Vision.StitchPDFs {
		rasterizer, stitcher, reassembler, err = newStages(cfg, logger)
		if err != nil {
			return nil, err
		}
		if rasterizer == nil {
			logger.WithField("tool", cfg.Raster.Tool).Warn("Rasterising tool not found, PDFs will be sent to the vision model unstitched")
		}
	}

	return vision.NewClient(rasterizer, stitcher, reassembler, generator, vision.Options{
		Prompt:     cfg.Vision.Prompt,
		StitchPDFs: cfg.Vision.StitchPDFs,
	}, logger), nil
}

// newStages returns a nil rasterizer, without error, when the tool is not installed
func newStages(cfg *config.Config, logger *logrus.Logger) (raster.Rasterizer, *stitch.Stitcher, *reassemble.Reassembler, error) {
	stitcher, err := stitch.New(cfg.Stitch)
	if err != nil {
		return nil, nil, nil, err
	}

	cliRasterizer, err := raster.NewCLIRasterizer(cfg.Raster, nil, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	reassembler := reassemble.New(cfg.Vision.JPEGQuality, logger)

	if !cliRasterizer.Available() {
		return nil, stitcher, reassembler, nil
	}
	logger.WithFields(logrus.Fields{
		"tool": cfg.Raster.Tool,
		"dpi":  cliRasterizer.DPI(),
		"fit":  cfg.Stitch.Fit,
	}).Debug("Stitching pipeline ready")
	return cliRasterizer, stitcher, reassembler, nil
}

// previewer returns nil when stitching is unavailable so the server reports 503
func (a *app) previewer() server.Previewer {
	if a.vision == nil || !a.vision.Stitching() {
		return nil
	}
	return a.vision
}

func (a *app) uploads() server.UploadTarget {
	if a.memory == nil {
		return nil
	}
	return a.memory
}

// Close flushes telemetry exporters
func (a *app) Close() {
	for _, fn := range a.shutdown {
		if err := fn(); err != nil {
			a.logger.WithError(err).Warn("Telemetry shutdown failed")
		}
	}
	a.shutdown = nil
}

// metricGroupNames lists the enabled groups in a stable order for logging
func metricGroupNames(groups map[string]bool) []string {
	names := make([]string, 0, len(groups))
	for name, on := range groups {
		if on {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func publicURL(cfg config.ServerConfig) string {
	if cfg.PublicURL != "" {
		return cfg.PublicURL
	}
	if strings.HasPrefix(cfg.ListenAddr, ":") {
		return "http://localhost" + cfg.ListenAddr
	}
	return "http://" + cfg.ListenAddr
}
