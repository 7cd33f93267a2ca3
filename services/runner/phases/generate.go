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
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/fallback"
	"github.com/AleutianAI/taskrunner/services/runner/llm"
	"github.com/AleutianAI/taskrunner/services/runner/prompts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Generation sources.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

var generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "runner_generations_total",
	Help: "Generated outputs by template kind and source",
}, []string{"kind", "source"})

// GeneratePhase produces the run's output.
//
// Thread Safety: Safe for concurrent use if the Completer is.
type GeneratePhase struct {
	completer llm.Completer
	templates *prompts.Registry
	renderer  *fallback.Renderer
	project   prompts.Project
	limits    prompts.Limits
	sampling  Sampling
	logger    *slog.Logger
}

// NewGeneratePhase creates the generation phase from deps.
func NewGeneratePhase(deps Dependencies) *GeneratePhase {
	deps = deps.withDefaults()
	return &GeneratePhase{
		completer: deps.Completer,
		templates: deps.Templates,
		renderer:  deps.Renderer,
		project:   deps.Project,
		limits:    deps.Limits,
		sampling:  deps.Generation,
		logger:    deps.Logger,
	}
}

// Name implements agent.StageExecutor.
func (p *GeneratePhase) Name() string {
	return "generate"
}

// Execute implements agent.StageExecutor.
//
// Description:
//
//	Builds the bounded context, renders the template for the detected
//	kind and asks the backend. With no backend, or when the backend
//	fails or answers with nothing, the fallback renderer answers from the
//	evidence instead. Either way the output replaces the previous one and
//	the generation counter moves by exactly one.
//
// Outputs:
//
//	agent.StageOutput - The output, one step, one tool record.
//	error - Always nil.
func (p *GeneratePhase) Execute(ctx context.Context, s *agent.RunState) (agent.StageOutput, error) {
	b := s.Evidence()
	kind := prompts.DetectKind(s.Task(), s.Kind(), b != nil && len(b.SourceFiles) > 0)
	attempt := s.GenerationCount() + 1
	notes := s.ReflectionNotes()
	hasReflection := attempt > 1 && len(notes) > 0

	ctx, span := tracer.Start(ctx, "phases.Generate", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	text, source := p.complete(ctx, s, kind, hasReflection, notes)
	if source == SourceFallback {
		text = p.renderer.Render(fallback.Input{
			Task:     s.Task(),
			Kind:     kind,
			Evidence: b,
			Passages: s.Passages(),
		})
	}
	generationsTotal.WithLabelValues(string(kind), source).Inc()
	span.SetAttributes(attribute.String("source", source), attribute.Int("output_chars", len(text)))

	// Generation is not evidence gathering, so it records no tool usage.
	return agent.StageOutput{
		NextAction:      agent.ActionReflect,
		Output:          text,
		HasOutput:       true,
		GenerationDelta: 1,
		MarkComplete:    true,
		ReasoningSteps: []string{fmt.Sprintf("Generation: %s answer, %d chars (attempt %d, %s)",
			kind, len(text), attempt, source)},
	}, nil
}

// complete asks the backend and reports which source should produce the
// output. The text is empty when the fallback must answer.
func (p *GeneratePhase) complete(ctx context.Context, s *agent.RunState, kind prompts.Kind, hasReflection bool, notes []string) (string, string) {
	if p.completer == nil {
		return "", SourceFallback
	}

	userContext := prompts.BuildContext(prompts.ContextInput{
		Task:              s.Task(),
		Kind:              kind,
		Passages:          s.Passages(),
		Evidence:          s.Evidence(),
		ReasoningSteps:    s.ReasoningSteps(),
		ReflectionNotes:   notes,
		IncludeReflection: hasReflection,
	}, p.limits)
	pair := p.templates.Render(kind, hasReflection, prompts.Summary{Task: s.Task(), Context: userContext, Project: p.project})

	resp, err := p.completer.Complete(ctx, llm.Request{
		System:      pair.System,
		User:        pair.User,
		Temperature: p.sampling.Temperature,
		MaxTokens:   p.sampling.MaxTokens,
	})
	if err != nil {
		p.logger.Warn("generation fell back to template",
			slog.String("run_id", s.RunID()),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return "", SourceFallback
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", SourceFallback
	}
	return resp.Text, SourceLLM
}
