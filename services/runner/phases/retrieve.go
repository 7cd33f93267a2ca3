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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/retrieval"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetrievePhase fetches knowledge base passages for the task.
//
// Thread Safety: Safe for concurrent use if the Retriever is.
type RetrievePhase struct {
	retriever retrieval.Retriever
	k         int
	logger    *slog.Logger
}

// NewRetrievePhase creates the retrieve phase. A nil retriever behaves
// like an unavailable store.
func NewRetrievePhase(r retrieval.Retriever, k int, logger *slog.Logger) *RetrievePhase {
	if k <= 0 {
		k = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievePhase{retriever: r, k: k, logger: logger}
}

// Name implements agent.StageExecutor.
func (p *RetrievePhase) Name() string {
	return "retrieve"
}

// Execute implements agent.StageExecutor.
//
// Description:
//
//	Never fails. An unavailable or empty store leaves the run with no
//	passages and a reasoning step saying why. A tool record is added only
//	when passages were found.
func (p *RetrievePhase) Execute(ctx context.Context, s *agent.RunState) (agent.StageOutput, error) {
	out := agent.StageOutput{NextAction: agent.ActionReason, ReplacePassages: true}

	if p.retriever == nil {
		out.ReasoningSteps = []string{"Retrieval: knowledge store unavailable: no retriever configured"}
		return out, nil
	}

	ctx, span := tracer.Start(ctx, "phases.Retrieve", trace.WithAttributes(attribute.Int("k", p.k)))
	defer span.End()

	passages, err := p.retriever.Retrieve(ctx, s.Task(), p.k)
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("retrieval failed", slog.String("run_id", s.RunID()), slog.String("error", err.Error()))
		out.ReasoningSteps = []string{"Retrieval: knowledge store unavailable: " + err.Error()}
		return out, nil
	}
	if len(passages) == 0 {
		out.ReasoningSteps = []string{"Retrieval: no passages found in the knowledge base"}
		return out, nil
	}

	total := 0
	for _, passage := range passages {
		total += len(passage.Content)
	}
	span.SetAttributes(attribute.Int("passages", len(passages)))

	out.Passages = passages
	out.ReasoningSteps = []string{fmt.Sprintf("Retrieval: found %d relevant passages in the knowledge base", len(passages))}
	out.ToolRecords = []agent.ToolUsageRecord{{
		Tool:   ToolKnowledgeRetrieval,
		Counts: map[string]int{"chunks_retrieved": len(passages), "total_chars": total},
	}}
	return out, nil
}
