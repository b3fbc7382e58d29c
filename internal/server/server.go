// Package server exposes the comparison over HTTP with gin.
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sammcj/pdf-ocr-compare/internal/compare"
	"github.com/sammcj/pdf-ocr-compare/internal/reassemble"
	"github.com/sammcj/pdf-ocr-compare/internal/storage"
	"github.com/sammcj/pdf-ocr-compare/internal/telemetry"
	"github.com/sirupsen/logrus"
)

//go:embed static/index.html
var indexHTML []byte

const (
	DefaultRequestTimeout = 5 * time.Minute
	DefaultMaxUploadBytes = int64(50 * 1024 * 1024)

	shutdownTimeout = 30 * time.Second
)

// Previewer renders the stitched document the vision model would receive
type Previewer interface {
	Preview(ctx context.Context, pdf []byte) (*reassemble.Document, error)
}

// UploadTarget accepts uploads made against URLs this service signed itself
type UploadTarget interface {
	VerifyUpload(key, token string) error
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Dependencies are the collaborators the handlers call
type Dependencies struct {
	Store        storage.Store
	Orchestrator *compare.Orchestrator

	// Previewer is optional; /api/preview returns 503 without it
	Previewer Previewer

	// Uploads is set for the memory backend, enabling PUT /api/upload/*key
	Uploads UploadTarget
}

// Options configures request handling
type Options struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

// Server is the HTTP surface
type Server struct {
	deps   Dependencies
	opts   Options
	router *gin.Engine
	logger *logrus.Logger
}

// New builds the router. gin always runs in release mode; request logging goes through logrus.
func New(deps Dependencies, opts Options, logger *logrus.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		recovery(logger),
		requestID(),
		requestLogger(logger),
		timeout(opts.RequestTimeout),
	)

	s := &Server{
		deps:   deps,
		opts:   opts,
		router: router,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/", s.index)
	s.router.GET("/health", s.health)

	api := s.router.Group("/api")
	api.POST("/upload-url", s.uploadURL)
	if s.deps.Uploads != nil {
		api.PUT("/upload/*key", s.upload)
	}
	api.POST("/extract/:service", s.extractOne)
	api.POST("/compare", s.compareAll)
	api.POST("/preview", s.preview)
}

// Handler returns the router wrapped with server span instrumentation
func (s *Server) Handler() http.Handler {
	return telemetry.WrapHandler(s.router, "http.server")
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		// Extraction responses can take minutes; the request timeout middleware bounds them
		WriteTimeout:   s.opts.RequestTimeout + 30*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case serverErr <- err:
			case <-ctx.Done():
			}
		}
	}()

	s.logger.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, stopping HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("HTTP server shutdown failed")
		return err
	}

	s.logger.Info("HTTP server stopped gracefully")
	return nil
}
