// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eval scores finished runs.
//
// Five calculators each look at one aspect of a run and return a score in
// [0, 100] together with the lines that explain it. The overall score is
// their weighted mean. Everything here is a pure function of the RunState,
// so scoring the same state twice gives the same ScoreSet.
package eval

import (
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/evidence"
)

// Output types judged by the output-quality calculator.
const (
	OutputCodeQuestion       = "code_question"
	OutputContent            = "content"
	OutputRepositoryAnalysis = "repository_analysis"
	OutputGeneral            = "general"
)

// Options tunes scoring.
type Options struct {
	// Weights maps metric names to overall-score weights. Metrics with no
	// positive weight do not contribute.
	Weights map[string]float64

	// TechTerms are the technology names a content post is expected to
	// mention. Matched case-insensitively.
	TechTerms []string
}

// DefaultOptions returns the standard weights and technology terms.
func DefaultOptions() Options {
	return Options{
		Weights: map[string]float64{
			agent.MetricTaskCompletion:    0.35,
			agent.MetricReasoningQuality:  0.25,
			agent.MetricToolEffectiveness: 0.15,
			agent.MetricReflectionQuality: 0.10,
			agent.MetricOutputQuality:     0.15,
		},
		TechTerms: []string{"golang", "weaviate", "badger", "openai", "gpt", "rag", "agent"},
	}
}

// view is the slice of a RunState the calculators read.
type view struct {
	task            string
	kind            agent.TaskKind
	output          string
	complete        bool
	iterations      int
	maxIterations   int
	reasoningSteps  int
	reflectionNotes int
	toolsUsed       int
	evidence        *evidence.Bundle
}

func newView(s *agent.RunState) view {
	return view{
		task:            s.Task(),
		kind:            s.Kind(),
		output:          s.FinalOutput(),
		complete:        s.IsComplete(),
		iterations:      s.IterationCount(),
		maxIterations:   s.MaxIterations(),
		reasoningSteps:  len(s.ReasoningSteps()),
		reflectionNotes: len(s.ReflectionNotes()),
		toolsUsed:       len(s.ToolInvocations()),
		evidence:        s.Evidence(),
	}
}

// Evaluate scores a finished run.
//
// Description:
//
//	Runs the five calculators, records their explanation lines under the
//	metric names and combines them with Overall. Zero-value opts fall
//	back to DefaultOptions field by field.
//
// Inputs:
//
//	s - The run to score. Not modified.
//	opts - Weights and technology terms.
//
// Outputs:
//
//	agent.ScoreSet - Every sub-score and the overall lie in [0, 100].
func Evaluate(s *agent.RunState, opts Options) agent.ScoreSet {
	defaults := DefaultOptions()
	if len(opts.Weights) == 0 {
		opts.Weights = defaults.Weights
	}
	if len(opts.TechTerms) == 0 {
		opts.TechTerms = defaults.TechTerms
	}

	v := newView(s)
	outputType := DetectOutputType(v.task, v.kind)

	set := agent.ScoreSet{
		Explanations: make(map[string][]string, 5),
		OutputType:   outputType,
	}
	var lines []string
	set.TaskCompletion, lines = taskCompletion(v)
	set.Explanations[agent.MetricTaskCompletion] = lines
	set.ReasoningQuality, lines = reasoningQuality(v)
	set.Explanations[agent.MetricReasoningQuality] = lines
	set.ToolEffectiveness, lines = toolEffectiveness(v)
	set.Explanations[agent.MetricToolEffectiveness] = lines
	set.ReflectionQuality, lines = reflectionQuality(v)
	set.Explanations[agent.MetricReflectionQuality] = lines
	set.OutputQuality, lines = outputQuality(v, outputType, opts.TechTerms)
	set.Explanations[agent.MetricOutputQuality] = lines

	set.Overall = Overall(set, opts.Weights)
	return set
}

// Overall is the weighted mean of the sub-scores, normalised by the total
// weight of the metrics that carry one.
func Overall(set agent.ScoreSet, weights map[string]float64) float64 {
	var sum, total float64
	for _, name := range agent.MetricNames() {
		w, ok := weights[name]
		if !ok || w <= 0 {
			continue
		}
		sum += set.Metric(name) * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return clamp(sum / total)
}

var codeQuestionWords = []string{
	"where", "which file", "which class", "which function",
	"show me", "find", "locate", "how is", "used in",
}

// DetectOutputType decides how the output of a task should be judged.
// Posts come first, then questions about code locations, then full
// repository reports.
func DetectOutputType(task string, kind agent.TaskKind) string {
	lower := strings.ToLower(task)
	switch {
	case kind == agent.TaskKindGenerateContent,
		strings.Contains(lower, "linkedin"),
		strings.Contains(lower, "post"):
		return OutputContent
	case containsAny(lower, codeQuestionWords):
		return OutputCodeQuestion
	case kind == agent.TaskKindAnalyzeEvidence:
		return OutputRepositoryAnalysis
	default:
		return OutputGeneral
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func countAny(s string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(s, w) {
			n++
		}
	}
	return n
}

func clamp(v float64) float64 {
	return min(max(v, 0), 100)
}
