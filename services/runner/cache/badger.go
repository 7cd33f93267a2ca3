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
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/AleutianAI/taskrunner/services/runner/storage/badger"
)

const badgerKeyPrefix = "repo_cache/"

// BadgerCache stores entries in BadgerDB with native TTL.
//
// Thread Safety: Safe for concurrent use within one process. BadgerDB
// holds a directory lock, so only one process may open it at a time.
type BadgerCache struct {
	cfg    Config
	store  *badger.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewBadgerCache opens a BadgerDB under cfg.Dir/badger.
func NewBadgerCache(cfg Config, opts ...Option) (*BadgerCache, error) {
	cfg = cfg.withDefaults()
	o := buildOptions(opts)

	bcfg := badger.DefaultConfig()
	bcfg.Path = filepath.Join(cfg.Dir, "badger")
	bcfg.Logger = o.logger
	store, err := badger.Open(bcfg)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return newBadgerCache(cfg, store, o), nil
}

// NewBadgerCacheWithStore wraps an already opened store. Used by tests
// with badger.InMemoryConfig.
func NewBadgerCacheWithStore(cfg Config, store *badger.Store, opts ...Option) *BadgerCache {
	return newBadgerCache(cfg.withDefaults(), store, buildOptions(opts))
}

func newBadgerCache(cfg Config, store *badger.Store, o options) *BadgerCache {
	return &BadgerCache{cfg: cfg, store: store, logger: o.logger, now: o.now}
}

// Get returns the bundle stored for root if it is present and fresh.
func (c *BadgerCache) Get(ctx context.Context, root string) (evidence.Bundle, bool) {
	key, abs, err := Key(ctx, root, c.cfg.SampleLimit)
	if err != nil {
		cacheRequestsTotal.WithLabelValues(BackendBadger, resultMiss).Inc()
		return evidence.Bundle{}, false
	}
	dbKey := badgerKeyPrefix + key

	data, ok, err := c.store.Get(ctx, dbKey)
	if err != nil || !ok {
		if err != nil {
			c.logger.Warn("badger cache read failed", slog.String("error", err.Error()))
		}
		cacheRequestsTotal.WithLabelValues(BackendBadger, resultMiss).Inc()
		return evidence.Bundle{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Key != key {
		c.logger.Warn("removing corrupt cache entry", slog.String("key", dbKey))
		_ = c.store.Delete(ctx, dbKey)
		cacheRequestsTotal.WithLabelValues(BackendBadger, resultCorrupt).Inc()
		return evidence.Bundle{}, false
	}

	if expired(entry.StoredAt, c.now(), c.cfg.TTL) {
		_ = c.store.Delete(ctx, dbKey)
		cacheRequestsTotal.WithLabelValues(BackendBadger, resultExpired).Inc()
		return evidence.Bundle{}, false
	}

	if entry.Root != abs {
		cacheRequestsTotal.WithLabelValues(BackendBadger, resultMiss).Inc()
		return evidence.Bundle{}, false
	}

	cacheRequestsTotal.WithLabelValues(BackendBadger, resultHit).Inc()
	return entry.Bundle, true
}

// Set stores bundle for root with the configured TTL.
func (c *BadgerCache) Set(ctx context.Context, root string, bundle evidence.Bundle) bool {
	key, abs, err := Key(ctx, root, c.cfg.SampleLimit)
	if err == nil {
		var data []byte
		data, err = json.Marshal(Entry{Key: key, Root: abs, StoredAt: c.now(), Bundle: bundle})
		if err == nil {
			err = c.store.Put(ctx, badgerKeyPrefix+key, data, c.cfg.TTL)
		}
	}
	if err != nil {
		c.logger.Warn("cache write failed",
			slog.String("root", root),
			slog.String("error", err.Error()),
		)
		cacheWritesTotal.WithLabelValues(BackendBadger, "error").Inc()
		return false
	}
	cacheWritesTotal.WithLabelValues(BackendBadger, "ok").Inc()
	return true
}

// Clear removes every cache entry.
func (c *BadgerCache) Clear(ctx context.Context) (int, error) {
	return c.store.DeletePrefix(ctx, badgerKeyPrefix)
}

// Stats counts live entries.
func (c *BadgerCache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: BackendBadger, Location: c.store.Path(), TTL: c.cfg.TTL}
	count, size, err := c.store.PrefixStats(ctx, badgerKeyPrefix)
	if err != nil {
		return stats, err
	}
	stats.Entries = count
	stats.Bytes = size
	return stats, nil
}

// Close closes the underlying database.
func (c *BadgerCache) Close() error {
	return c.store.Close()
}
