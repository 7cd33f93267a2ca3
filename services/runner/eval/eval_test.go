// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"strings"
	"testing"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func state(task string, kind agent.TaskKind, outs ...agent.StageOutput) *agent.RunState {
	s := agent.NewRunState(agent.RunRequest{Task: task, Kind: kind, MaxIterations: 3, MaxGenerations: 2})
	for _, o := range outs {
		s.Apply(o)
	}
	return s
}

func assertInRange(t *testing.T, set agent.ScoreSet) {
	t.Helper()
	for _, name := range agent.MetricNames() {
		v := set.Metric(name)
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 100.0, name)
	}
	assert.GreaterOrEqual(t, set.Overall, 0.0)
	assert.LessOrEqual(t, set.Overall, 100.0)
}

// =============================================================================
// Evaluate
// =============================================================================

func TestEvaluate_ZeroWorkRun(t *testing.T) {
	set := Evaluate(state("hi", agent.TaskKindGeneral), Options{})

	assertInRange(t, set)
	assert.Equal(t, 20.0, set.TaskCompletion, "only the iteration credit")
	assert.Zero(t, set.ReasoningQuality)
	assert.Zero(t, set.ToolEffectiveness)
	assert.Zero(t, set.ReflectionQuality)
	assert.Zero(t, set.OutputQuality)
	assert.InDelta(t, 7.0, set.Overall, 1e-9)
	assert.Len(t, set.Explanations, 5)
}

func TestEvaluate_CompletedAnalysis(t *testing.T) {
	bundle := &evidence.Bundle{
		Structure:    &evidence.Node{Name: "repo", Type: "directory"},
		Dependencies: evidence.Dependencies{Items: []evidence.Dependency{{Name: "x", Version: "v1.0.0"}}},
	}
	var report strings.Builder
	report.WriteString("# Repository Analysis\n\n## Overview\n## Structure\n## Architecture\n## Dependencies\n## Capabilities\n")
	for i := 0; i < 16; i++ {
		report.WriteString("- `Runner` in runner.go [evidence: runner.go:12]\n")
	}
	report.WriteString("- `runner_test.go::TestRun` [evidence: test_collect]\n- x v1.0.0\n")

	s := state("Analyze this repository", agent.TaskKindAnalyzeEvidence,
		agent.StageOutput{IterationDelta: 1, Evidence: bundle, ReasoningSteps: []string{"Planning", "a", "b", "c", "d"}},
		agent.StageOutput{
			ToolRecords:     []agent.ToolUsageRecord{{Tool: "evidence_collector"}, {Tool: "knowledge_retrieval"}, {Tool: "knowledge_retrieval"}},
			Output:          report.String(),
			HasOutput:       true,
			MarkComplete:    true,
			ReflectionNotes: []string{"Reflection (gen 0): good - fine"},
		},
	)
	set := Evaluate(s, DefaultOptions())

	assertInRange(t, set)
	assert.Equal(t, OutputRepositoryAnalysis, set.OutputType)
	assert.Equal(t, 100.0, set.TaskCompletion)
	assert.Equal(t, 100.0, set.ReasoningQuality)
	assert.Equal(t, 100.0, set.ToolEffectiveness)
	assert.Equal(t, 45.0, set.ReflectionQuality, "one note, no visible incorporation")
	// 30 tags + 25 sections + 10 symbols + 10 tests + 5 versions + 5 commands + 7 + 8
	assert.Equal(t, 100.0, set.OutputQuality)
	assert.Greater(t, set.Overall, 90.0)
}

func TestEvaluate_Idempotent(t *testing.T) {
	s := state("Where is Runner used?", agent.TaskKindGeneral, agent.StageOutput{
		Output: "Runner is used in cmd/main.go line 10: `runner.Run()`", HasOutput: true, MarkComplete: true,
	})
	first := Evaluate(s, Options{})
	second := Evaluate(s, Options{})
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Evaluate not idempotent (-first +second):\n%s", diff)
	}
}

func TestEvaluate_ExplanationsMatchScores(t *testing.T) {
	s := state("What is 2+2?", agent.TaskKindGeneral, agent.StageOutput{
		Output: "The answer is 4.", HasOutput: true, MarkComplete: true, ReasoningSteps: []string{"r"},
	})
	set := Evaluate(s, Options{})

	require.Contains(t, set.Explanations, agent.MetricOutputQuality)
	assert.Equal(t, 60.0, set.OutputQuality, "40 present + 20 structure")
	assert.Contains(t, set.Explanations[agent.MetricOutputQuality], "✓ output present (40/40)")
	assert.Contains(t, set.Explanations[agent.MetricReasoningQuality], "~ shallow reasoning, 1-2 steps (20/40)")
	assert.Contains(t, set.Explanations[agent.MetricTaskCompletion], "✓ finished in 0 of 3 iterations (20/20)")
}

// =============================================================================
// Calculators
// =============================================================================

func TestTaskCompletion_IterationCredit(t *testing.T) {
	score, _ := taskCompletion(view{output: "x", complete: true, iterations: 3, maxIterations: 3})
	assert.Equal(t, 90.0, score)
	score, _ = taskCompletion(view{output: "x", complete: true, iterations: 4, maxIterations: 3})
	assert.Equal(t, 80.0, score)
}

func TestReflectionQuality(t *testing.T) {
	tests := []struct {
		name   string
		notes  int
		output string
		want   float64
	}{
		{"none", 0, "plain", 0},
		{"explicit section", 1, "## How Self-Reflection Improved This Answer\nAdded line numbers.", 85},
		{"implicit", 2, "I added the missing file paths.", 70},
		{"three notes, no trace", 3, "plain", 60},
		{"section without notes", 0, "### Self-Reflection Impact", 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, lines := reflectionQuality(view{reflectionNotes: tt.notes, output: tt.output})
			assert.Equal(t, tt.want, got)
			assert.Len(t, lines, 3)
		})
	}
}

func TestReflectionIncorporated(t *testing.T) {
	ok, score := reflectionIncorporated("no section here, addressing everything")
	assert.False(t, ok)
	assert.Zero(t, score)

	ok, score = reflectionIncorporated("### Self-Reflection Impact\nplain")
	assert.True(t, ok)
	assert.Equal(t, 15.0, score)

	ok, score = reflectionIncorporated("How self-reflection improved: addressing the critique, added tests")
	assert.True(t, ok)
	assert.Equal(t, 30.0, score)
}

func TestRepositoryQuality_PenalisesMissingEvidence(t *testing.T) {
	score, lines := repositoryQuality("It likely works and probably scales.")
	assert.Zero(t, score, "negative totals clamp to zero")
	assert.Contains(t, lines, "✗ no evidence tags (-20)")
	assert.Contains(t, lines, "✗ 2 hedging phrase(s) (-5)")
}

func TestRepositoryQuality_TestCitations(t *testing.T) {
	tests := []struct {
		name   string
		report string
		want   string
	}{
		{"command tag only", "- **Test count**: 0 [evidence: test_collect]", "✗ no test citations (0/10)"},
		{"go test file", "Tests live in internal/run/runner_test.go", "~ test files named (4/10)"},
		{"python test file", "See tests/test_cache.py", "~ test files named (4/10)"},
		{"file::name", "- `runner_test.go::TestRun` [evidence: runner_test.go:12]", "✓ tests cited as file::name (10/10)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, lines := repositoryQuality(tt.report)
			assert.Contains(t, lines, tt.want)
		})
	}
}

func TestCodeQuestionQuality(t *testing.T) {
	short := "Collector is defined in internal/collect/collector.go\n- Line 42: `type Collector struct`"
	score, _ := codeQuestionQuality(short)
	assert.Equal(t, 40.0, score, "specificity only")

	long := short + "\n\nThe function NewCollector builds it and is used in cmd/main.go. " + strings.Repeat("More detail. ", 10)
	score, _ = codeQuestionQuality(long)
	assert.Equal(t, 67.0, score, "specificity + 12 length + 15 context")
}

func TestContentQuality(t *testing.T) {
	post := "🚀 Excited to share Scout!\n\n🎯 Key features:\n• Evidence collection with Badger and Weaviate\n" +
		"Built on Golang with RAG.\n\n3 modules and 25 dependencies.\n\nP.S. self-reflection tightened this post.\n" +
		"Thank you! Check out the repo.\n#golang #ai #agents #opensource #rag"
	score, lines := contentQuality(post, DefaultOptions().TechTerms)
	assert.Equal(t, 100.0, score, strings.Join(lines, "\n"))

	score, _ = contentQuality("hello world", nil)
	assert.Zero(t, score)
}

func TestGeneralQuality(t *testing.T) {
	score, _ := generalQuality(strings.Repeat("word ", 30) + ".\n\n### Self-Reflection Impact\nclearer")
	assert.Equal(t, 100.0, score)
}

func TestOutputQuality_EmptyOutput(t *testing.T) {
	score, lines := outputQuality(view{}, OutputRepositoryAnalysis, nil)
	assert.Zero(t, score)
	assert.Len(t, lines, 1)
}

// =============================================================================
// Overall and detection
// =============================================================================

func TestOverall_NormalisesByPresentWeights(t *testing.T) {
	set := agent.ScoreSet{TaskCompletion: 80, ReasoningQuality: 40}
	assert.Equal(t, 80.0, Overall(set, map[string]float64{agent.MetricTaskCompletion: 0.35}))
	assert.InDelta(t, 66.667, Overall(set, map[string]float64{agent.MetricTaskCompletion: 0.5, agent.MetricReasoningQuality: 0.25}), 1e-3)
	assert.Zero(t, Overall(set, nil))
	assert.Zero(t, Overall(set, map[string]float64{"unknown": 1}))
}

func TestDetectOutputType(t *testing.T) {
	tests := []struct {
		task string
		kind agent.TaskKind
		want string
	}{
		{"Write a LinkedIn post", agent.TaskKindAnalyzeEvidence, OutputContent},
		{"Tell the world", agent.TaskKindGenerateContent, OutputContent},
		{"Where is Runner used?", agent.TaskKindAnalyzeEvidence, OutputCodeQuestion},
		{"Which file defines the cache?", agent.TaskKindGeneral, OutputCodeQuestion},
		{"Analyze this repository", agent.TaskKindAnalyzeEvidence, OutputRepositoryAnalysis},
		{"What is 2+2?", agent.TaskKindGeneral, OutputGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectOutputType(tt.task, tt.kind))
		})
	}
}
