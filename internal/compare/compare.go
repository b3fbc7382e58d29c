// Package compare runs extraction providers side by side and collects one result per provider.
package compare

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Comparison holds the result of every provider keyed by provider name
type Comparison struct {
	Results map[string]extract.Result `json:"results"`
}

// Orchestrator fans a document out to all registered providers
type Orchestrator struct {
	providers map[string]extract.Provider
	expected  []string
	logger    *logrus.Logger
}

// New creates an orchestrator. Names listed in expected but without a provider are
// still reported, as a configuration failure, so callers always see both panels.
func New(logger *logrus.Logger, expected []string, providers ...extract.Provider) *Orchestrator {
	o := &Orchestrator{
		providers: make(map[string]extract.Provider, len(providers)),
		expected:  expected,
		logger:    logger,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		o.providers[p.Name()] = p
	}
	return o
}

// Providers returns the configured provider names in sorted order
func (o *Orchestrator) Providers() []string {
	return slices.Sorted(maps.Keys(o.providers))
}

// Compare runs every provider concurrently. It never returns an error; a failing or
// panicking provider produces an unsuccessful result and does not affect the others.
func (o *Orchestrator) Compare(ctx context.Context, doc []byte, mimeType string) Comparison {
	names := o.names()
	results := make([]extract.Result, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Go(func() {
			results[i] = o.Run(ctx, name, doc, mimeType)
		})
	}
	wg.Wait()

	comparison := Comparison{Results: make(map[string]extract.Result, len(names))}
	for i, name := range names {
		comparison.Results[name] = results[i]
	}
	return comparison
}

// Run executes a single provider with timing, tracing and panic recovery
func (o *Orchestrator) Run(ctx context.Context, name string, doc []byte, mimeType string) (result extract.Result) {
	provider, ok := o.providers[name]
	if !ok {
		err := fmt.Errorf("%w: %s", extract.ErrProviderNotConfigured, name)
		o.logger.WithField("provider", name).Warn("Extraction requested for a provider that is not configured")
		return extract.NewResult(name, "", 0, err)
	}

	ctx, span := telemetry.StartExtractionSpan(ctx, name, mimeType, len(doc))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("provider %s panicked: %v", name, r)
			o.logger.WithFields(logrus.Fields{
				"provider": name,
				"panic":    r,
			}).Error("Recovered from panic during extraction")
			result = o.finish(ctx, span, name, "", start, err)
		}
	}()

	text, err := provider.Extract(ctx, doc, mimeType)
	return o.finish(ctx, span, name, text, start, err)
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, name, text string, start time.Time, err error) extract.Result {
	elapsed := time.Since(start)
	telemetry.EndExtractionSpan(span, len(text), err)
	telemetry.RecordExtraction(ctx, name, err, float64(elapsed.Milliseconds()))

	fields := logrus.Fields{
		"provider":   name,
		"duration":   elapsed.Round(time.Millisecond),
		"characters": len(text),
		"request_id": telemetry.RequestIDFromContext(ctx),
	}
	if err != nil {
		o.logger.WithFields(fields).WithError(err).Warn("Extraction failed")
	} else {
		o.logger.WithFields(fields).Info("Extraction succeeded")
	}

	return extract.NewResult(name, text, elapsed, err)
}

func (o *Orchestrator) names() []string {
	seen := make(map[string]bool, len(o.providers)+len(o.expected))
	var names []string
	for _, name := range o.expected {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, name := range o.Providers() {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
