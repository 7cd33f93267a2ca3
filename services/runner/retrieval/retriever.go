// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval queries and fills the knowledge store.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class holding knowledge chunks.
const DefaultClassName = "Document"

var (
	retrievalRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrieval_requests_total",
		Help: "Knowledge store queries by result",
	}, []string{"result"})

	retrievalPassages = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "retrieval_passages",
		Help:    "Passages returned per query",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
	})

	ingestedChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retrieval_ingested_chunks_total",
		Help: "Chunks accepted by the knowledge store",
	})
)

// Passage is one retrieved chunk.
type Passage struct {
	Content string `json:"content"`
	Source  string `json:"source"`

	// Distance is the vector distance reported by the store; lower is closer.
	Distance float64 `json:"distance,omitempty"`
}

// Retriever returns up to k passages relevant to query, best first. An
// empty store yields an empty slice and a nil error.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// Config configures the Weaviate connection.
type Config struct {
	Host      string
	Scheme    string
	ClassName string
	Timeout   time.Duration
}

// NewClient creates a Weaviate client. A Host carrying an http:// or
// https:// prefix overrides Scheme.
func NewClient(cfg Config) (*weaviate.Client, error) {
	host, scheme := cfg.Host, cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if strings.HasPrefix(host, "https://") {
		scheme, host = "https", strings.TrimPrefix(host, "https://")
	} else if strings.HasPrefix(host, "http://") {
		scheme, host = "http", strings.TrimPrefix(host, "http://")
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// WeaviateRetriever runs nearText queries against one class.
//
// Thread Safety: Safe for concurrent use.
type WeaviateRetriever struct {
	client    *weaviate.Client
	className string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewWeaviateRetriever wraps client. Zero ClassName and Timeout take
// DefaultClassName and 10s.
func NewWeaviateRetriever(client *weaviate.Client, cfg Config, logger *slog.Logger) *WeaviateRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClassName == "" {
		cfg.ClassName = DefaultClassName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WeaviateRetriever{
		client:    client,
		className: cfg.ClassName,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
}

// Retrieve performs a semantic search.
//
// Inputs:
//
//	query - Free text. Empty yields no passages.
//	k - Maximum passages. Values < 1 become 1.
//
// Outputs:
//
//	[]Passage - Ordered by the store's ranking.
//	error - Transport or GraphQL failures. A missing class is not an error.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if strings.TrimSpace(query) == "" {
		return []Passage{}, nil
	}
	if k < 1 {
		k = 1
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional { distance }"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(r.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		retrievalRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	if len(result.Errors) > 0 {
		msg := result.Errors[0].Message
		if isMissingClass(msg) {
			r.logger.Info("knowledge class not found, treating as empty store",
				slog.String("class", r.className))
			retrievalRequestsTotal.WithLabelValues("empty").Inc()
			return []Passage{}, nil
		}
		retrievalRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("search error: %s", msg)
	}

	passages := parsePassages(result, r.className)
	if len(passages) > k {
		passages = passages[:k]
	}

	outcome := "ok"
	if len(passages) == 0 {
		outcome = "empty"
	}
	retrievalRequestsTotal.WithLabelValues(outcome).Inc()
	retrievalPassages.Observe(float64(len(passages)))

	r.logger.Debug("retrieved passages",
		slog.String("query", query),
		slog.Int("count", len(passages)),
	)
	return passages, nil
}

func isMissingClass(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "cannot query field") ||
		(strings.Contains(lower, "class") && strings.Contains(lower, "not found"))
}

// parsePassages reads Get.<class> objects out of a GraphQL response.
// Malformed objects are skipped.
func parsePassages(result *models.GraphQLResponse, className string) []Passage {
	if result == nil {
		return []Passage{}
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Passage{}
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return []Passage{}
	}

	passages := make([]Passage, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		content := getString(m, "content")
		if content == "" {
			continue
		}
		p := Passage{Content: content, Source: getString(m, "source")}
		if p.Source == "" {
			p.Source = "unknown"
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				p.Distance = d
			}
		}
		passages = append(passages, p)
	}
	return passages
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
