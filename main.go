package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sammcj/pdf-ocr-compare/internal/config"
	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/server"
	"github.com/sammcj/pdf-ocr-compare/internal/stitch"
	"github.com/sammcj/pdf-ocr-compare/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

// Version information (set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const (
	// DefaultMemoryLimit is the default soft memory limit (2GB). Rendered pages are held in memory.
	DefaultMemoryLimit = 2 * 1024 * 1024 * 1024
)

// parseLogLevel maps a level name to a logrus level, defaulting to info
func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// setMemoryLimit configures the Go runtime memory limit
func setMemoryLimit() {
	var memLimit int64 = DefaultMemoryLimit
	if v := os.Getenv("OCR_COMPARE_MEMORY_LIMIT"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			memLimit = parsed
		}
	}
	debug.SetMemoryLimit(memLimit)
}

func configureLogger(logger *logrus.Logger, cfg config.LogConfig) {
	logger.SetOutput(os.Stderr)
	logger.SetLevel(parseLogLevel(cfg.Level))
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func main() {
	setMemoryLimit()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	app := &cli.Command{
		Name:    "pdf-ocr-compare",
		Usage:   "Compare text extraction from a vision model and an OCR job service",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				Sources: cli.EnvVars(config.ConfigPathEnvVar),
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address to listen on (default :8080)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "storage",
				Usage: "Storage backend (s3 or memory)",
			},
			&cli.StringFlag{
				Name:  "fit",
				Usage: "How pages are drawn into grid cells (stretch or contain)",
			},
			&cli.BoolFlag{
				Name:  "no-stitch",
				Usage: "Send PDFs to the vision model without stitching",
			},
			&cli.BoolFlag{
				Name:  "no-ocr",
				Usage: "Disable the OCR job provider",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP server (default)",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runServe(ctx, cmd, logger)
				},
			},
			{
				Name:      "extract",
				Usage:     "Run both providers against a local file and print the results",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   outputText,
						Usage:   "Output format (text or json)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runExtract(ctx, cmd, logger)
				},
			},
			{
				Name:      "stitch",
				Usage:     "Write the stitched document the vision model would receive",
				ArgsUsage: "<file.pdf>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Value:   "stitched.pdf",
						Usage:   "Output path",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runStitch(ctx, cmd, logger)
				},
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Printf("pdf-ocr-compare version %s\n", Version)
					fmt.Printf("Commit: %s\n", Commit)
					fmt.Printf("Built: %s\n", BuildDate)
					return nil
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServe(ctx, cmd, logger)
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}

// loadConfig reads configuration and applies command line overrides
func loadConfig(cmd *cli.Command, logger *logrus.Logger) (*config.Config, error) {
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("listen") {
		cfg.Server.ListenAddr = cmd.String("listen")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("storage") {
		cfg.Storage.Backend = cmd.String("storage")
	}
	if cmd.IsSet("fit") {
		cfg.Stitch.Fit = stitch.Fit(strings.ToLower(cmd.String("fit")))
	}
	if cmd.Bool("no-stitch") {
		cfg.Vision.StitchPDFs = false
	}
	if cmd.Bool("no-ocr") {
		cfg.OCR.Enabled = false
	}

	configureLogger(logger, cfg.Log)
	return cfg, nil
}

func runServe(ctx context.Context, cmd *cli.Command, logger *logrus.Logger) error {
	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Infof("Starting pdf-ocr-compare version %s (commit: %s, built: %s)", Version, Commit, BuildDate)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.memory != nil {
		go sweepMemoryStore(ctx, a.memory, time.Minute)
	}

	srv := server.New(server.Dependencies{
		Store:        a.store,
		Orchestrator: a.orchestrator,
		Previewer:    a.previewer(),
		Uploads:      a.uploads(),
	}, server.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, logger)

	return srv.Run(ctx, cfg.Server.ListenAddr)
}

func runExtract(ctx context.Context, cmd *cli.Command, logger *logrus.Logger) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("a file to extract is required")
	}
	format := cmd.String("format")
	if format != outputText && format != outputJSON {
		return fmt.Errorf("unsupported output format %q (expected text or json)", format)
	}

	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	doc, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	mimeType := mimetype.Detect(doc).String()
	if !extract.IsSupportedMimeType(mimeType) {
		return fmt.Errorf("%w: %s", extract.ErrUnsupportedMimeType, mimeType)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Server.RequestTimeout)
	defer cancel()

	comparison := a.orchestrator.Compare(ctx, doc, mimeType)
	if format == outputJSON {
		return writeJSON(os.Stdout, comparison)
	}
	printComparison(os.Stdout, path, comparison)
	return nil
}

func runStitch(ctx context.Context, cmd *cli.Command, logger *logrus.Logger) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("a PDF to stitch is required")
	}

	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}
	if err := cfg.Stitch.Validate(); err != nil {
		return err
	}

	doc, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !mimetype.Detect(doc).Is(extract.MimeTypePDF) {
		return fmt.Errorf("%s is not a PDF", path)
	}

	pipeline, err := newStitchPipeline(cfg, logger)
	if err != nil {
		return err
	}

	stitched, err := pipeline.Preview(ctx, doc)
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if err := os.WriteFile(output, stitched.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	logger.WithFields(logrus.Fields{
		"output": output,
		"pages":  stitched.PageCount,
		"bytes":  len(stitched.Data),
	}).Info("Stitched document written")
	return nil
}

func sweepMemoryStore(ctx context.Context, store *storage.MemoryStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep()
		}
	}
}
