// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists evidence bundles between runs.
//
// Entries are keyed by a hash of the absolute root path and the newest
// modification time among a bounded sample of its source files, so editing
// a sampled file changes the key and the old entry is simply never read
// again. Entries also expire after a TTL. Corrupt or expired entries are
// deleted when read.
//
// The sample is the first 100 source files of a sorted walk. A change to a
// file outside the sample does not invalidate the entry.
//
// Two backends exist: FileCache (one JSON file per key) and BadgerCache
// (BadgerDB with native TTL). Both satisfy Store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backend names.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// keyLength is the number of hex characters kept from the digest.
const keyLength = 16

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

var (
	cacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_cache_requests_total",
		Help: "Evidence cache lookups by result",
	}, []string{"backend", "result"})

	cacheWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_cache_writes_total",
		Help: "Evidence cache writes by result",
	}, []string{"backend", "result"})
)

// Lookup results.
const (
	resultHit     = "hit"
	resultMiss    = "miss"
	resultExpired = "expired"
	resultCorrupt = "corrupt"
)

// Entry is the persisted form of a bundle.
type Entry struct {
	Key      string          `json:"key"`
	Root     string          `json:"root"`
	StoredAt time.Time       `json:"stored_at"`
	Bundle   evidence.Bundle `json:"bundle"`
}

// Stats describes the cache contents.
type Stats struct {
	Backend  string        `json:"backend"`
	Location string        `json:"location"`
	Entries  int           `json:"entries"`
	Bytes    int64         `json:"bytes"`
	TTL      time.Duration `json:"ttl"`
}

// Store is an evidence.Store that can also be inspected and cleared.
type Store interface {
	evidence.Store

	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// Stats reports entry count and size.
	Stats(ctx context.Context) (Stats, error)

	// Close releases the backend.
	Close() error
}

// Config configures a Store.
type Config struct {
	// Backend is BackendFile or BackendBadger. Default: BackendFile
	Backend string

	// Dir holds cache files or the badger database.
	Dir string

	// TTL bounds entry age. Default: 24h
	TTL time.Duration

	// SampleLimit is the number of source files sampled for the key. Default: 100
	SampleLimit int
}

// DefaultConfig returns the defaults for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Backend:     BackendFile,
		Dir:         dir,
		TTL:         24 * time.Hour,
		SampleLimit: 100,
	}
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.SampleLimit <= 0 {
		c.SampleLimit = 100
	}
	return c
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
}

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the time source used for StoredAt and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open creates the Store selected by cfg.Backend.
func Open(cfg Config, opts ...Option) (Store, error) {
	cfg = cfg.withDefaults()
	switch cfg.Backend {
	case BackendFile:
		return NewFileCache(cfg, opts...)
	case BackendBadger:
		return NewBadgerCache(cfg, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Key derives the cache key for root.
//
// Description:
//
//	sha256 of "<absRoot>:<maxMtime>" in hex, truncated to 16 characters.
//	maxMtime is the newest Unix-nanosecond mtime among the first
//	sampleLimit source files of a sorted walk, or 0 when there are none.
//
// Inputs:
//
//	ctx - Cancels the walk.
//	root - Repository root. Made absolute.
//	sampleLimit - Number of files sampled.
//
// Outputs:
//
//	string - The key.
//	string - The absolute root.
//	error - Non-nil if root cannot be resolved or walked.
func Key(ctx context.Context, root string, sampleLimit int) (string, string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	mtime, err := evidence.LatestModTime(ctx, abs, sampleLimit)
	if err != nil {
		return "", "", fmt.Errorf("sample mtimes under %s: %w", abs, err)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", abs, mtime)))
	return hex.EncodeToString(sum[:])[:keyLength], abs, nil
}

// expired reports whether an entry stored at storedAt is past ttl at now.
func expired(storedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(storedAt) > ttl
}
