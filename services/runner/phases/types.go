// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package phases implements the stages a TaskRunner drives.
//
// Each phase reads the RunState through its accessors and returns a
// StageOutput describing its effect. Phases absorb their own recoverable
// failures (missing backends, rate limits, empty stores, unparseable
// responses) and only return an error when the run cannot continue.
package phases

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/eval"
	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/AleutianAI/taskrunner/services/runner/fallback"
	"github.com/AleutianAI/taskrunner/services/runner/llm"
	"github.com/AleutianAI/taskrunner/services/runner/prompts"
	"github.com/AleutianAI/taskrunner/services/runner/retrieval"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.runner.phases")

// Tool names recorded in ToolUsageRecords.
const (
	ToolEvidenceCollector  = "evidence_collector"
	ToolKnowledgeRetrieval = "knowledge_retrieval"
)

// EvidenceSource collects evidence for a repository root, consulting the
// cache first. *evidence.Collector implements it.
type EvidenceSource interface {
	CollectCached(ctx context.Context, root string) (evidence.Bundle, bool, error)
}

// Sampling settings for one completion stage.
type Sampling struct {
	Temperature float32
	MaxTokens   int
}

// Dependencies are the collaborators the phases share.
//
// Completer and Retriever are optional. A nil Completer sends every
// phase down its deterministic path; a nil Retriever yields an empty
// passage list.
type Dependencies struct {
	// Collector gathers evidence for Root. Required for Analyze runs.
	Collector EvidenceSource

	// Root is the repository the collect phase analyzes.
	Root string

	// Retriever answers knowledge base queries.
	Retriever retrieval.Retriever

	// RetrieveK is the number of passages requested. Default: 3
	RetrieveK int

	// Completer is the completion backend, usually an llm.RetryingCompleter.
	Completer llm.Completer

	// Templates selects generation prompts. Default: prompts.NewRegistry()
	Templates *prompts.Registry

	// Renderer produces fallback answers. Default: fallback.New(Project)
	Renderer *fallback.Renderer

	// Project describes the system posts and explanations talk about.
	Project prompts.Project

	// Limits bound the generation context. Default: prompts.DefaultLimits()
	Limits prompts.Limits

	// Generation, Reasoning and Reflection sample their completions.
	Generation Sampling
	Reasoning  Sampling
	Reflection Sampling

	// Scoring configures the evaluator.
	Scoring eval.Options

	Logger *slog.Logger
}

func (d Dependencies) withDefaults() Dependencies {
	if d.RetrieveK <= 0 {
		d.RetrieveK = 3
	}
	if d.Templates == nil {
		d.Templates = prompts.NewRegistry()
	}
	if d.Renderer == nil {
		d.Renderer = fallback.New(d.Project)
	}
	if d.Generation.MaxTokens <= 0 {
		d.Generation = Sampling{Temperature: 0.7, MaxTokens: 2000}
	}
	if d.Reasoning.MaxTokens <= 0 {
		d.Reasoning = Sampling{Temperature: 0.3, MaxTokens: 500}
	}
	if d.Reflection.MaxTokens <= 0 {
		d.Reflection = Sampling{Temperature: 0.3, MaxTokens: 500}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Register installs every phase in reg.
//
// Inputs:
//
//	reg - The registry the TaskRunner resolves stages from.
//	deps - Shared collaborators. Zero fields take defaults.
func Register(reg *agent.StageRegistry, deps Dependencies) {
	deps = deps.withDefaults()
	reg.Register(agent.StagePlan, NewPlanPhase())
	reg.Register(agent.StageCollect, NewCollectPhase(deps.Collector, deps.Root, deps.Logger))
	reg.Register(agent.StageRetrieve, NewRetrievePhase(deps.Retriever, deps.RetrieveK, deps.Logger))
	reg.Register(agent.StageReason, NewReasonPhase(deps.Completer, deps.Reasoning, deps.Logger))
	reg.Register(agent.StageGenerate, NewGeneratePhase(deps))
	reg.Register(agent.StageReflect, NewReflectPhase(deps.Completer, deps.Reflection, deps.Logger))
	reg.Register(agent.StageEvaluate, NewEvaluatePhase(deps.Scoring))
}
