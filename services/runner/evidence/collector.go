// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("aleutian.runner.evidence")

var (
	collectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evidence_collect_duration_seconds",
		Help:    "Time spent collecting an evidence bundle",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	})

	collectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_collect_total",
		Help: "Evidence collections by source",
	}, []string{"source"})

	verifyCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_verify_commands_total",
		Help: "Verification commands by name and result",
	}, []string{"name", "result"})
)

// ErrInvalidRoot is returned when the collection root is not a directory.
var ErrInvalidRoot = errors.New("invalid evidence root")

// Store persists bundles between runs. Implemented by the cache package.
type Store interface {
	// Get returns the stored bundle for root, if fresh.
	Get(ctx context.Context, root string) (Bundle, bool)

	// Set stores the bundle. Failures are absorbed and reported as false.
	Set(ctx context.Context, root string, bundle Bundle) bool
}

// =============================================================================
// Configuration
// =============================================================================

// Config bounds a collection.
type Config struct {
	// MaxDepth limits the structure scan. Default: 3
	MaxDepth int

	// MaxSourceFiles limits how many source files are read. Default: 20
	MaxSourceFiles int

	// MaxSymbolFiles limits how many files are parsed for symbols. Default: 50
	MaxSymbolFiles int

	// MaxFileBytes truncates each source excerpt. Default: 64 KiB
	MaxFileBytes int64

	// SkipCoverage replaces the coverage command with a placeholder.
	SkipCoverage bool

	// CountTimeout bounds the in-process test file count. Default: 5s
	CountTimeout time.Duration

	// Commands replaces the ecosystem defaults when non-empty.
	Commands []Command

	// IgnorePatterns filters the structure scan. Default: DefaultIgnorePatterns
	IgnorePatterns []string
}

// DefaultConfig returns collection bounds that match interactive use.
func DefaultConfig() Config {
	return Config{
		MaxDepth:       3,
		MaxSourceFiles: 20,
		MaxSymbolFiles: 50,
		MaxFileBytes:   64 * 1024,
		CountTimeout:   5 * time.Second,
		IgnorePatterns: DefaultIgnorePatterns,
	}
}

// =============================================================================
// Collector
// =============================================================================

// Collector gathers evidence bundles.
//
// Thread Safety: Collector is safe for concurrent use. Concurrent
// CollectCached calls for the same root share one collection.
type Collector struct {
	config Config
	store  Store
	logger *slog.Logger
	run    CommandRunner
	now    func() time.Time
	flight singleflight.Group
}

// Option configures a Collector.
type Option func(*Collector)

// WithStore enables read-through and write-through caching.
func WithStore(store Store) Option {
	return func(c *Collector) { c.store = store }
}

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCommandRunner replaces os/exec, mainly for tests.
func WithCommandRunner(run CommandRunner) Option {
	return func(c *Collector) {
		if run != nil {
			c.run = run
		}
	}
}

// WithClock sets the CollectedAt time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCollector creates a Collector. Zero config fields take defaults.
func NewCollector(config Config, opts ...Option) *Collector {
	def := DefaultConfig()
	if config.MaxDepth <= 0 {
		config.MaxDepth = def.MaxDepth
	}
	if config.MaxSourceFiles <= 0 {
		config.MaxSourceFiles = def.MaxSourceFiles
	}
	if config.MaxSymbolFiles <= 0 {
		config.MaxSymbolFiles = def.MaxSymbolFiles
	}
	if config.MaxFileBytes <= 0 {
		config.MaxFileBytes = def.MaxFileBytes
	}
	if config.CountTimeout <= 0 {
		config.CountTimeout = def.CountTimeout
	}
	if config.IgnorePatterns == nil {
		config.IgnorePatterns = def.IgnorePatterns
	}

	c := &Collector{
		config: config,
		logger: slog.Default(),
		run:    ExecRunner,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect builds a fresh bundle for root.
//
// Description:
//
//	Runs, in order: structure scan, source read, manifest parse, module
//	map, symbol extraction and verification commands. A failing step is
//	logged and leaves its field empty. Verification never fails the bundle.
//	Only an invalid root or context cancellation returns an error.
//
// Inputs:
//
//	ctx - Cancellation and deadline for the whole collection.
//	root - Directory to analyze.
//
// Outputs:
//
//	Bundle - The collected evidence.
//	error - ErrInvalidRoot, or the context error.
func (c *Collector) Collect(ctx context.Context, root string) (Bundle, error) {
	abs, err := validateRoot(root)
	if err != nil {
		return Bundle{}, err
	}

	ctx, span := tracer.Start(ctx, "evidence.Collect",
		trace.WithAttributes(attribute.String("root", abs)),
	)
	defer span.End()

	start := time.Now()
	bundle := Bundle{Root: abs, CollectedAt: c.now()}

	structure, err := scanStructure(ctx, abs, c.config.MaxDepth, c.config.IgnorePatterns)
	if err := c.stepFailed(ctx, span, "structure", err); err != nil {
		return Bundle{}, err
	}
	bundle.Structure = structure

	sources, err := readSourceFiles(ctx, abs, c.config.MaxSourceFiles, c.config.MaxFileBytes)
	if err := c.stepFailed(ctx, span, "sources", err); err != nil {
		return Bundle{}, err
	}
	bundle.SourceFiles = sources

	deps, goModule, err := parseManifests(abs)
	if err := c.stepFailed(ctx, span, "manifests", err); err != nil {
		return Bundle{}, err
	}
	bundle.Dependencies = deps

	modules, err := mapModules(ctx, abs, goModule)
	if err := c.stepFailed(ctx, span, "modules", err); err != nil {
		return Bundle{}, err
	}
	bundle.Modules = modules

	symbols, err := extractSymbols(ctx, abs, c.config.MaxSymbolFiles, c.logger)
	if err := c.stepFailed(ctx, span, "symbols", err); err != nil {
		return Bundle{}, err
	}
	bundle.Symbols = symbols

	bundle.Verification = c.runVerification(ctx, abs)
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "canceled")
		return Bundle{}, err
	}

	elapsed := time.Since(start)
	collectDuration.Observe(elapsed.Seconds())
	collectTotal.WithLabelValues("fresh").Inc()
	span.SetAttributes(
		attribute.Int("source_files", len(bundle.SourceFiles)),
		attribute.Int("dependencies", bundle.DependencyCount()),
		attribute.Int("modules", len(bundle.Modules)),
	)

	c.logger.Info("evidence collected",
		slog.String("root", abs),
		slog.Int("source_files", len(bundle.SourceFiles)),
		slog.Int("dependencies", bundle.DependencyCount()),
		slog.Int("modules", len(bundle.Modules)),
		slog.Int("classes", bundle.Symbols.Summary.TotalClasses),
		slog.Int("functions", bundle.Symbols.Summary.TotalFunctions),
		slog.Duration("duration", elapsed),
	)
	return bundle, nil
}

// CollectCached returns the stored bundle for root or collects and stores one.
//
// Description:
//
//	Concurrent calls for the same root share one collection. The write to
//	the store is best-effort; a failed Set still returns the fresh bundle.
//
// Outputs:
//
//	Bundle - The evidence.
//	bool - True if the bundle came from the store.
//	error - As Collect.
func (c *Collector) CollectCached(ctx context.Context, root string) (Bundle, bool, error) {
	abs, err := validateRoot(root)
	if err != nil {
		return Bundle{}, false, err
	}

	if c.store != nil {
		if bundle, ok := c.store.Get(ctx, abs); ok {
			collectTotal.WithLabelValues("cache").Inc()
			return bundle, true, nil
		}
	}

	v, err, shared := c.flight.Do(abs, func() (interface{}, error) {
		bundle, err := c.Collect(ctx, abs)
		if err != nil {
			return Bundle{}, err
		}
		if c.store != nil && !c.store.Set(ctx, abs, bundle) {
			c.logger.Warn("evidence cache write failed", slog.String("root", abs))
		}
		return bundle, nil
	})
	if err != nil {
		return Bundle{}, false, err
	}
	if shared {
		c.logger.Debug("evidence collection shared", slog.String("root", abs))
	}
	return v.(Bundle), false, nil
}

// stepFailed logs a failed step and returns an error only on cancellation.
func (c *Collector) stepFailed(ctx context.Context, span trace.Span, step string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.RecordError(ctxErr)
		span.SetStatus(codes.Error, step+" canceled")
		return ctxErr
	}
	span.AddEvent("step_failed", trace.WithAttributes(
		attribute.String("step", step),
		attribute.String("error", err.Error()),
	))
	c.logger.Warn("evidence step failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	return nil
}

func validateRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidRoot, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidRoot, root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, root)
	}
	return abs, nil
}
