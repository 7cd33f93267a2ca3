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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/llm"
	"github.com/AleutianAI/taskrunner/services/runner/prompts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Verdict is the reflector's assessment of an output.
//
// A reflection starts Pending and settles in exactly one of the other
// states. Anything the backend says that is not one of them is treated
// like Good.
type Verdict string

const (
	VerdictPending          Verdict = "pending"
	VerdictGood             Verdict = "good"
	VerdictNeedsImprovement Verdict = "needs_improvement"
	VerdictNeedsMoreData    Verdict = "needs_more_data"
)

func (v Verdict) label() string {
	switch v {
	case VerdictGood, VerdictNeedsImprovement, VerdictNeedsMoreData:
		return string(v)
	default:
		return "other"
	}
}

// Critiques recorded when the backend is not consulted.
const (
	CritiqueSkipped      = "Skipped for simple query type"
	CritiqueMaxAttempts  = "Max generation attempts reached, proceeding with current output"
	CritiqueFallback     = "Output appears complete (fallback assessment)"
	critiqueDefault      = "Output appears complete"
	maxRawCritiqueLength = 200
)

var reflectionVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "runner_reflection_verdicts_total",
	Help: "Reflection outcomes by assessment and next action",
}, []string{"assessment", "next_action"})

// MapVerdict turns an assessment into the next action.
//
//	good                                  -> End
//	needs_improvement, can improve        -> RetryGenerate
//	needs_more_data, cannot improve       -> ContinueToPlanner
//	anything else                         -> End
func MapVerdict(v Verdict, canImproveWithoutData bool) agent.NextAction {
	switch {
	case v == VerdictNeedsImprovement && canImproveWithoutData:
		return agent.ActionRetryGenerate
	case v == VerdictNeedsMoreData && !canImproveWithoutData:
		return agent.ActionContinueToPlanner
	default:
		return agent.ActionEnd
	}
}

// Reflection is one parsed critique.
type Reflection struct {
	Verdict    Verdict
	Critique   string
	CanImprove bool
}

// ParseReflection reads the backend's JSON critique. Unparseable text is
// the most lenient reading: Good, with the start of the text as critique.
func ParseReflection(text string) Reflection {
	var raw struct {
		Assessment string `json:"assessment"`
		Critique   string `json:"critique"`
		CanImprove *bool  `json:"can_improve_without_data"`
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &raw); err != nil {
		critique := strings.TrimSpace(text)
		critique = prompts.Clip(critique, maxRawCritiqueLength)
		if critique == "" {
			critique = critiqueDefault
		}
		return Reflection{Verdict: VerdictGood, Critique: critique, CanImprove: true}
	}

	r := Reflection{
		Verdict:    Verdict(strings.ToLower(strings.TrimSpace(raw.Assessment))),
		Critique:   strings.TrimSpace(raw.Critique),
		CanImprove: raw.CanImprove == nil || *raw.CanImprove,
	}
	if r.Verdict == "" {
		r.Verdict = VerdictGood
	}
	if r.Critique == "" {
		r.Critique = critiqueDefault
	}
	return r
}

// ReflectPhase critiques the latest output and decides whether to retry,
// re-plan or stop.
//
// Thread Safety: Safe for concurrent use if the Completer is.
type ReflectPhase struct {
	completer llm.Completer
	sampling  Sampling
	logger    *slog.Logger
}

// NewReflectPhase creates the reflection phase. A nil completer accepts
// every output.
func NewReflectPhase(c llm.Completer, sampling Sampling, logger *slog.Logger) *ReflectPhase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReflectPhase{completer: c, sampling: sampling, logger: logger}
}

// Name implements agent.StageExecutor.
func (p *ReflectPhase) Name() string {
	return "reflect"
}

// Execute implements agent.StageExecutor.
//
// Description:
//
//	The guards run in order: skipped reflection, the generation ceiling,
//	a missing backend or output, a backend error. Each settles on Good
//	without looping. Otherwise the backend's critique decides through
//	MapVerdict. Every call appends exactly one note.
//
// Outputs:
//
//	agent.StageOutput - The next action and one reflection note.
//	error - Always nil.
func (p *ReflectPhase) Execute(ctx context.Context, s *agent.RunState) (agent.StageOutput, error) {
	r := p.reflect(ctx, s)
	next := MapVerdict(r.Verdict, r.CanImprove)
	reflectionVerdicts.WithLabelValues(r.Verdict.label(), next.String()).Inc()

	gen := max(s.GenerationCount()-1, 0)
	return agent.StageOutput{
		NextAction:      next,
		ReflectionNotes: []string{fmt.Sprintf("Reflection (gen %d): %s - %s", gen, r.Verdict, r.Critique)},
	}, nil
}

func (p *ReflectPhase) reflect(ctx context.Context, s *agent.RunState) Reflection {
	accept := func(critique string) Reflection {
		return Reflection{Verdict: VerdictGood, Critique: critique, CanImprove: true}
	}
	switch {
	case s.SkipReflection():
		return accept(CritiqueSkipped)
	case s.GenerationCount() >= s.MaxGenerations():
		return accept(CritiqueMaxAttempts)
	case p.completer == nil, !s.HasOutput(), strings.TrimSpace(s.FinalOutput()) == "":
		return accept(CritiqueFallback)
	}

	ctx, span := tracer.Start(ctx, "phases.Reflect", trace.WithAttributes(
		attribute.Int("generation", s.GenerationCount()),
	))
	defer span.End()

	b := s.Evidence()
	kind := prompts.DetectKind(s.Task(), s.Kind(), b != nil && len(b.SourceFiles) > 0)
	resp, err := p.completer.Complete(ctx, llm.Request{
		System: prompts.ReflectionSystem(kind),
		User: prompts.ReflectionUser(prompts.ReflectionInput{
			Task:            s.Task(),
			Output:          s.FinalOutput(),
			ReasoningSteps:  len(s.ReasoningSteps()),
			ReflectionNotes: len(s.ReflectionNotes()),
			Attempt:         s.GenerationCount(),
			MaxAttempts:     s.MaxGenerations(),
		}),
		Temperature: p.sampling.Temperature,
		MaxTokens:   p.sampling.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("reflection fell back", slog.String("run_id", s.RunID()), slog.String("error", err.Error()))
		return accept(CritiqueFallback)
	}

	r := ParseReflection(resp.Text)
	span.SetAttributes(attribute.String("verdict", string(r.Verdict)))
	return r
}
