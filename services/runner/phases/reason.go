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
	"log/slog"
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/llm"
	"github.com/AleutianAI/taskrunner/services/runner/prompts"
)

const (
	reasoningPrefix = "Reasoning: "
	maxReasonSteps  = 5
)

// DirectResponseStep is the single step recorded when reasoning is skipped.
const DirectResponseStep = reasoningPrefix + "Direct response (no complex reasoning needed)"

// fallbackReasoning is recorded when no backend answer is available.
var fallbackReasoning = []string{
	reasoningPrefix + "Analyzing available information",
	reasoningPrefix + "Formulating response",
}

// ReasonPhase asks the backend for a short plan before generation.
//
// Thread Safety: Safe for concurrent use if the Completer is.
type ReasonPhase struct {
	completer llm.Completer
	sampling  Sampling
	logger    *slog.Logger
}

// NewReasonPhase creates the reasoning phase. A nil completer always
// records the fallback steps.
func NewReasonPhase(c llm.Completer, sampling Sampling, logger *slog.Logger) *ReasonPhase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReasonPhase{completer: c, sampling: sampling, logger: logger}
}

// Name implements agent.StageExecutor.
func (p *ReasonPhase) Name() string {
	return "reason"
}

// Execute implements agent.StageExecutor. It never fails and always hands
// off to generation.
func (p *ReasonPhase) Execute(ctx context.Context, s *agent.RunState) (agent.StageOutput, error) {
	out := agent.StageOutput{NextAction: agent.ActionGenerate}
	switch {
	case s.SkipReasoning():
		out.ReasoningSteps = []string{DirectResponseStep}
		return out, nil
	case p.completer == nil:
		out.ReasoningSteps = fallbackReasoning
		return out, nil
	}

	ctx, span := tracer.Start(ctx, "phases.Reason")
	defer span.End()

	b := s.Evidence()
	in := prompts.ReasoningInput{
		Task:          s.Task(),
		Kind:          s.Kind(),
		PassageCount:  len(s.Passages()),
		HasEvidence:   b != nil,
		ReflectionCnt: len(s.ReflectionNotes()),
	}
	if b != nil {
		in.FileCount, in.DepCount, in.ModuleCount = len(b.SourceFiles), b.DependencyCount(), len(b.Modules)
	}

	resp, err := p.completer.Complete(ctx, llm.Request{
		System:      prompts.ReasoningSystem,
		User:        prompts.ReasoningUser(in),
		Temperature: p.sampling.Temperature,
		MaxTokens:   p.sampling.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("reasoning fell back", slog.String("run_id", s.RunID()), slog.String("error", err.Error()))
		out.ReasoningSteps = fallbackReasoning
		return out, nil
	}

	steps := ParseReasoningSteps(resp.Text)
	if len(steps) == 0 {
		out.ReasoningSteps = fallbackReasoning
		return out, nil
	}
	for i, step := range steps {
		steps[i] = reasoningPrefix + step
	}
	out.ReasoningSteps = steps
	return out, nil
}

// ParseReasoningSteps reads {"reasoning_steps": [...]} from text, keeping
// at most five non-empty steps. Text that is not JSON is read as one step
// per non-empty line instead.
func ParseReasoningSteps(text string) []string {
	var parsed struct {
		Steps []string `json:"reasoning_steps"`
	}
	candidates := nonEmptyLines(text)
	if err := json.Unmarshal([]byte(stripFence(text)), &parsed); err == nil {
		candidates = parsed.Steps
	}

	steps := make([]string, 0, maxReasonSteps)
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		steps = append(steps, c)
		if len(steps) == maxReasonSteps {
			break
		}
	}
	return steps
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789.) ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// stripFence removes a surrounding ``` or ```json code fence.
func stripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimPrefix(t, "json")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
