// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10
)

var (
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ",
		"\n\n", "\n", " ", "",
	}
	pythonSeparators = []string{"\nclass ", "\ndef ", "\n\t", "\n", " ", ""}
	goSeparators     = []string{"\nfunc ", "\ntype ", "\nvar ", "\nconst ", "\n\n", "\n", " ", ""}
)

// ErrEmptySource is returned when Ingest is called without a source name.
var ErrEmptySource = errors.New("ingest source is required")

// Ingester splits documents into chunks and upserts them into Weaviate.
//
// Thread Safety: Safe for concurrent use.
type Ingester struct {
	client    *weaviate.Client
	className string
	logger    *slog.Logger
	now       func() time.Time
}

// NewIngester wraps client. Zero ClassName takes DefaultClassName.
func NewIngester(client *weaviate.Client, className string, logger *slog.Logger) *Ingester {
	if className == "" {
		className = DefaultClassName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{client: client, className: className, logger: logger, now: time.Now}
}

// DocumentClass returns the schema for the knowledge class. Objects are
// vectorized server side so nearText queries work without client embeddings.
func DocumentClass(className string) *models.Class {
	indexFilterable := true
	return &models.Class{
		Class:       className,
		Description: "A chunk of ingested text and its source.",
		Vectorizer:  "text2vec-transformers",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Chunk label, <file>_part_<n>.",
				IndexFilterable: &indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "parent_source",
				DataType:        []string{"text"},
				Description:     "The ingested file.",
				IndexFilterable: &indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:     "ingested_at",
				DataType: []string{"int"},
			},
		},
	}
}

// EnsureSchema creates the knowledge class if it does not exist. The
// client reports a missing class as a getter error.
func (i *Ingester) EnsureSchema(ctx context.Context) error {
	if _, err := i.client.Schema().ClassGetter().WithClassName(i.className).Do(ctx); err == nil {
		return nil
	}
	i.logger.Info("creating knowledge class", slog.String("class", i.className))
	if err := i.client.Schema().ClassCreator().WithClass(DocumentClass(i.className)).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", i.className, err)
	}
	return nil
}

// Ingest splits content and upserts the chunks in one batch.
//
// Outputs:
//
//	int - Chunks the store accepted.
//	error - Split or transport failure. Per-object failures are logged.
func (i *Ingester) Ingest(ctx context.Context, source, content string) (int, error) {
	if strings.TrimSpace(source) == "" {
		return 0, ErrEmptySource
	}
	chunks, err := SplitDocument(source, content)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		i.logger.Warn("no chunks produced", slog.String("source", source))
		return 0, nil
	}

	objects := buildObjects(i.className, source, chunks, i.now())
	resp, err := i.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import %s: %w", source, err)
	}

	created := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			created++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				i.logger.Warn("batch item failed",
					slog.String("source", source),
					slog.String("error", e.Message),
				)
			}
		}
	}
	ingestedChunksTotal.Add(float64(created))

	i.logger.Info("ingested document",
		slog.String("source", source),
		slog.Int("chunks", len(chunks)),
		slog.Int("created", created),
	)
	return created, nil
}

// SplitDocument chunks content with separators chosen by file extension.
func SplitDocument(source, content string) ([]string, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(separatorsFor(source)),
	)
	chunks, err := splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", source, err)
	}
	return chunks, nil
}

func separatorsFor(source string) []string {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".md", ".markdown":
		return markdownSeparators
	case ".py":
		return pythonSeparators
	case ".go":
		return goSeparators
	default:
		return defaultSeparators
	}
}

// buildObjects assigns each chunk an ID derived from its content so
// re-ingesting the same text overwrites instead of duplicating.
func buildObjects(className, source string, chunks []string, now time.Time) []*models.Object {
	objects := make([]*models.Object, len(chunks))
	for n, chunk := range chunks {
		objects[n] = &models.Object{
			Class: className,
			ID:    chunkID(chunk),
			Properties: map[string]interface{}{
				"content":       chunk,
				"source":        fmt.Sprintf("%s_part_%d", source, n+1),
				"parent_source": source,
				"ingested_at":   now.UnixMilli(),
			},
		}
	}
	return objects
}

func chunkID(chunk string) strfmt.UUID {
	hash := sha256.Sum256([]byte(chunk))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}
