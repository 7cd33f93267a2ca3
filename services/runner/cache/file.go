// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/taskrunner/services/runner/evidence"
)

const (
	filePrefix = "repo_cache_"
	fileSuffix = ".json"
)

// FileCache stores one JSON file per key under a directory.
//
// Writes go to a temp file in the same directory and are renamed into
// place, so readers never observe a partial entry. Concurrent writers for
// the same key race and the last rename wins.
//
// Thread Safety: Safe for concurrent use, including across processes.
type FileCache struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(cfg Config, opts ...Option) (*FileCache, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", cfg.Dir, err)
	}
	o := buildOptions(opts)
	return &FileCache{cfg: cfg, logger: o.logger, now: o.now}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.cfg.Dir, filePrefix+key+fileSuffix)
}

// Get returns the bundle stored for root if it is present and fresh.
//
// Description:
//
//	Expired and unreadable entries are deleted and reported as a miss.
func (c *FileCache) Get(ctx context.Context, root string) (evidence.Bundle, bool) {
	key, abs, err := Key(ctx, root, c.cfg.SampleLimit)
	if err != nil {
		c.logger.Debug("cache key failed", slog.String("root", root), slog.String("error", err.Error()))
		cacheRequestsTotal.WithLabelValues(BackendFile, resultMiss).Inc()
		return evidence.Bundle{}, false
	}
	path := c.path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		cacheRequestsTotal.WithLabelValues(BackendFile, resultMiss).Inc()
		return evidence.Bundle{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Key != key {
		c.logger.Warn("removing corrupt cache entry", slog.String("path", path))
		_ = os.Remove(path)
		cacheRequestsTotal.WithLabelValues(BackendFile, resultCorrupt).Inc()
		return evidence.Bundle{}, false
	}

	if expired(entry.StoredAt, c.now(), c.cfg.TTL) {
		c.logger.Debug("removing expired cache entry",
			slog.String("path", path),
			slog.Time("stored_at", entry.StoredAt),
		)
		_ = os.Remove(path)
		cacheRequestsTotal.WithLabelValues(BackendFile, resultExpired).Inc()
		return evidence.Bundle{}, false
	}

	if entry.Root != abs {
		cacheRequestsTotal.WithLabelValues(BackendFile, resultMiss).Inc()
		return evidence.Bundle{}, false
	}

	cacheRequestsTotal.WithLabelValues(BackendFile, resultHit).Inc()
	return entry.Bundle, true
}

// Set stores bundle for root. Failures are logged and reported as false.
func (c *FileCache) Set(ctx context.Context, root string, bundle evidence.Bundle) bool {
	if err := c.set(ctx, root, bundle); err != nil {
		c.logger.Warn("cache write failed",
			slog.String("root", root),
			slog.String("error", err.Error()),
		)
		cacheWritesTotal.WithLabelValues(BackendFile, "error").Inc()
		return false
	}
	cacheWritesTotal.WithLabelValues(BackendFile, "ok").Inc()
	return true
}

func (c *FileCache) set(ctx context.Context, root string, bundle evidence.Bundle) error {
	key, abs, err := Key(ctx, root, c.cfg.SampleLimit)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Entry{Key: key, Root: abs, StoredAt: c.now(), Bundle: bundle})
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.cfg.Dir, filePrefix+key+"_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Clear removes every cache entry and stray temp file.
func (c *FileCache) Clear(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.cfg.Dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		if strings.HasSuffix(name, fileSuffix) {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// Stats counts cache files and their total size.
func (c *FileCache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: BackendFile, Location: c.cfg.Dir, TTL: c.cfg.TTL}
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return stats, fmt.Errorf("read cache directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		stats.Entries++
		if info, err := e.Info(); err == nil {
			stats.Bytes += info.Size()
		}
	}
	return stats, nil
}

// Close is a no-op for the file backend.
func (c *FileCache) Close() error {
	return nil
}
