// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package phases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoCollector is returned when an Analyze run has no evidence source.
var ErrNoCollector = errors.New("no evidence collector configured")

// CollectPhase gathers repository evidence, cache first.
//
// Thread Safety: Safe for concurrent use if the EvidenceSource is.
type CollectPhase struct {
	source EvidenceSource
	root   string
	logger *slog.Logger
}

// NewCollectPhase creates the collect phase for root.
func NewCollectPhase(source EvidenceSource, root string, logger *slog.Logger) *CollectPhase {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		root = "."
	}
	return &CollectPhase{source: source, root: root, logger: logger}
}

// Name implements agent.StageExecutor.
func (p *CollectPhase) Name() string {
	return "collect"
}

// Execute implements agent.StageExecutor.
//
// Description:
//
//	Replaces the run's evidence with the bundle for the configured root.
//	Verification command failures are already folded into the bundle as
//	placeholders, so the only errors that reach the runner are an invalid
//	root, a missing collector, or cancellation.
//
// Outputs:
//
//	agent.StageOutput - New evidence, one tool record, one reasoning step.
//	error - Non-nil when no bundle could be produced.
func (p *CollectPhase) Execute(ctx context.Context, s *agent.RunState) (agent.StageOutput, error) {
	if p.source == nil {
		return agent.StageOutput{}, ErrNoCollector
	}
	ctx, span := tracer.Start(ctx, "phases.Collect",
		trace.WithAttributes(attribute.String("root", p.root)),
	)
	defer span.End()

	bundle, fromCache, err := p.source.CollectCached(ctx, p.root)
	if err != nil {
		span.RecordError(err)
		return agent.StageOutput{}, fmt.Errorf("collect evidence for %s: %w", p.root, err)
	}
	span.SetAttributes(attribute.Bool("from_cache", fromCache))

	source := "fresh scan"
	cached := 0
	if fromCache {
		source = "cache"
		cached = 1
	}
	p.logger.Info("evidence collected",
		slog.String("run_id", s.RunID()),
		slog.String("root", bundle.Root),
		slog.Bool("from_cache", fromCache),
		slog.Int("source_files", len(bundle.SourceFiles)),
		slog.Int("dependencies", bundle.DependencyCount()),
	)

	return agent.StageOutput{
		NextAction: agent.ActionReason,
		Evidence:   &bundle,
		ReasoningSteps: []string{fmt.Sprintf(
			"Analysis: %d top-level items, %d source files, %d dependencies, %d modules, %d symbols (%s)",
			len(bundle.TopLevelItems()), len(bundle.SourceFiles), bundle.DependencyCount(), len(bundle.Modules),
			len(bundle.Symbols.Classes)+len(bundle.Symbols.Functions), source,
		)},
		ToolRecords: []agent.ToolUsageRecord{{
			Tool: ToolEvidenceCollector,
			Counts: map[string]int{
				"source_files": len(bundle.SourceFiles),
				"dependencies": bundle.DependencyCount(),
				"modules":      len(bundle.Modules),
				"tests":        bundle.TestCount(),
				"from_cache":   cached,
			},
		}},
	}, nil
}
