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
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/AleutianAI/taskrunner/services/runner/llm"
	"github.com/AleutianAI/taskrunner/services/runner/prompts"
	"github.com/AleutianAI/taskrunner/services/runner/retrieval"
)

// =============================================================================
// Mocks
// =============================================================================

// MockCompleter answers through respond and records every request.
type MockCompleter struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(n int, req llm.Request) (llm.Response, error)
}

func (m *MockCompleter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	n := len(m.requests)
	m.mu.Unlock()
	return m.respond(n, req)
}

func (m *MockCompleter) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

func replying(text string) *MockCompleter {
	return &MockCompleter{respond: func(int, llm.Request) (llm.Response, error) {
		return llm.Response{Text: text}, nil
	}}
}

func failing(err error) *MockCompleter {
	return &MockCompleter{respond: func(int, llm.Request) (llm.Response, error) {
		return llm.Response{}, err
	}}
}

// MockRetriever returns fixed passages or an error.
type MockRetriever struct {
	passages []retrieval.Passage
	err      error
	gotK     int
}

func (m *MockRetriever) Retrieve(_ context.Context, _ string, k int) ([]retrieval.Passage, error) {
	m.gotK = k
	return m.passages, m.err
}

// MockEvidenceSource returns a fixed bundle.
type MockEvidenceSource struct {
	bundle    evidence.Bundle
	fromCache bool
	err       error
	calls     int
}

func (m *MockEvidenceSource) CollectCached(_ context.Context, root string) (evidence.Bundle, bool, error) {
	m.calls++
	b := m.bundle
	if b.Root == "" {
		b.Root = root
	}
	return b, m.fromCache, m.err
}

func newState(task string, kind agent.TaskKind, outs ...agent.StageOutput) *agent.RunState {
	s := agent.NewRunState(agent.RunRequest{Task: task, Kind: kind, MaxIterations: 3, MaxGenerations: 2})
	for _, o := range outs {
		s.Apply(o)
	}
	return s
}

func repoBundle() evidence.Bundle {
	return evidence.Bundle{
		Root: "/repo",
		Structure: &evidence.Node{Name: "repo", Type: "directory", Children: []*evidence.Node{
			{Name: "cmd", Type: "directory"}, {Name: "go.mod", Type: "file"},
		}},
		SourceFiles: []evidence.SourceFile{{Path: "cmd/main.go", Content: "package main\n\nfunc main() {}\n", Lines: 3}},
		Dependencies: evidence.Dependencies{
			Manifests: []string{"go.mod"},
			Items:     []evidence.Dependency{{Name: "github.com/spf13/cobra", Version: "v1.8.0", Manifest: "go.mod"}},
		},
		Modules: []evidence.Module{{Name: "main", Path: "cmd", Files: 1, Language: "go"}},
		Symbols: evidence.SymbolTable{
			Functions: []evidence.Symbol{{Name: "main", File: "cmd/main.go", Line: 3, Kind: evidence.KindFunction}},
		},
	}
}

// =============================================================================
// Collect
// =============================================================================

func TestCollectPhase_RecordsEvidence(t *testing.T) {
	src := &MockEvidenceSource{bundle: repoBundle(), fromCache: true}
	out, err := NewCollectPhase(src, "/repo", nil).Execute(context.Background(), newState("Analyze", agent.TaskKindAnalyzeEvidence))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Evidence == nil || out.Evidence.Root != "/repo" {
		t.Fatalf("Evidence = %+v", out.Evidence)
	}
	if out.NextAction != agent.ActionReason {
		t.Errorf("NextAction = %s, want reason", out.NextAction)
	}
	if len(out.ToolRecords) != 1 || out.ToolRecords[0].Tool != ToolEvidenceCollector {
		t.Fatalf("ToolRecords = %+v", out.ToolRecords)
	}
	if got := out.ToolRecords[0].Counts["from_cache"]; got != 1 {
		t.Errorf("from_cache = %d, want 1", got)
	}
	if len(out.ReasoningSteps) != 1 || !strings.Contains(out.ReasoningSteps[0], "1 dependencies") {
		t.Errorf("ReasoningSteps = %v", out.ReasoningSteps)
	}
}

func TestCollectPhase_Errors(t *testing.T) {
	s := newState("Analyze", agent.TaskKindAnalyzeEvidence)

	_, err := NewCollectPhase(nil, "/repo", nil).Execute(context.Background(), s)
	if !errors.Is(err, ErrNoCollector) {
		t.Errorf("nil source: err = %v, want ErrNoCollector", err)
	}

	src := &MockEvidenceSource{err: evidence.ErrInvalidRoot}
	_, err = NewCollectPhase(src, "/nope", nil).Execute(context.Background(), s)
	if !errors.Is(err, evidence.ErrInvalidRoot) {
		t.Errorf("invalid root: err = %v, want ErrInvalidRoot", err)
	}
}

// =============================================================================
// Retrieve
// =============================================================================

func TestRetrievePhase(t *testing.T) {
	tests := []struct {
		name      string
		retriever retrieval.Retriever
		wantStep  string
		wantTools int
		wantCount int
	}{
		{"no retriever", nil, "knowledge store unavailable", 0, 0},
		{"store error", &MockRetriever{err: errors.New("connection refused")}, "connection refused", 0, 0},
		{"empty store", &MockRetriever{}, "no passages found", 0, 0},
		{"found", &MockRetriever{passages: []retrieval.Passage{{Content: "abc", Source: "a.md"}, {Content: "de", Source: "b.md"}}}, "found 2 relevant passages", 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewRetrievePhase(tt.retriever, 0, nil).Execute(context.Background(), newState("What is RAG?", agent.TaskKindAnswerFromKnowledgeBase))
			if err != nil {
				t.Fatalf("retrieval must never fail: %v", err)
			}
			if !out.ReplacePassages || len(out.Passages) != tt.wantCount {
				t.Errorf("Passages = %v (replace %v), want %d", out.Passages, out.ReplacePassages, tt.wantCount)
			}
			if len(out.ReasoningSteps) != 1 || !strings.Contains(out.ReasoningSteps[0], tt.wantStep) {
				t.Errorf("ReasoningSteps = %v, want %q", out.ReasoningSteps, tt.wantStep)
			}
			if len(out.ToolRecords) != tt.wantTools {
				t.Errorf("ToolRecords = %v", out.ToolRecords)
			}
			if out.NextAction != agent.ActionReason {
				t.Errorf("NextAction = %s", out.NextAction)
			}
		})
	}
}

func TestRetrievePhase_ToolCounts(t *testing.T) {
	r := &MockRetriever{passages: []retrieval.Passage{{Content: "abc"}, {Content: "de"}}}
	out, _ := NewRetrievePhase(r, 0, nil).Execute(context.Background(), newState("q", agent.TaskKindAnswerFromKnowledgeBase))
	if r.gotK != 3 {
		t.Errorf("k = %d, want default 3", r.gotK)
	}
	counts := out.ToolRecords[0].Counts
	if counts["chunks_retrieved"] != 2 || counts["total_chars"] != 5 {
		t.Errorf("Counts = %v", counts)
	}
}

// =============================================================================
// Reason
// =============================================================================

func TestReasonPhase(t *testing.T) {
	tests := []struct {
		name      string
		completer llm.Completer
		skip      bool
		want      []string
	}{
		{"skipped", replying("unused"), true, []string{DirectResponseStep}},
		{"no backend", nil, false, fallbackReasoning},
		{"backend error", failing(llm.ErrConnectionFailed), false, fallbackReasoning},
		{"json", replying(`{"reasoning_steps": ["Read the data", "Compare", "Answer"]}`), false,
			[]string{"Reasoning: Read the data", "Reasoning: Compare", "Reasoning: Answer"}},
		{"fenced json", replying("```json\n{\"reasoning_steps\": [\"One\"]}\n```"), false, []string{"Reasoning: One"}},
		{"plain lines", replying("1. First\n\n2. Second\n"), false, []string{"Reasoning: First", "Reasoning: Second"}},
		{"blank answer", replying("   "), false, fallbackReasoning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState("Explain the cache design in detail", agent.TaskKindGeneral,
				agent.StageOutput{Flags: &agent.PlanFlags{SkipReasoning: tt.skip}})
			out, err := NewReasonPhase(tt.completer, Sampling{Temperature: 0.3, MaxTokens: 500}, nil).Execute(context.Background(), s)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if out.NextAction != agent.ActionGenerate {
				t.Errorf("NextAction = %s, want generate", out.NextAction)
			}
			if strings.Join(out.ReasoningSteps, "|") != strings.Join(tt.want, "|") {
				t.Errorf("ReasoningSteps = %q, want %q", out.ReasoningSteps, tt.want)
			}
		})
	}
}

func TestParseReasoningSteps_CapsAtFive(t *testing.T) {
	got := ParseReasoningSteps(`{"reasoning_steps": ["a", "", "b", "c", "d", "e", "f"]}`)
	if len(got) != 5 || got[4] != "e" {
		t.Errorf("got %q", got)
	}
}

func TestReasonPhase_SkipMakesNoCall(t *testing.T) {
	c := replying("x")
	s := newState("hi", agent.TaskKindGeneral, agent.StageOutput{Flags: &agent.PlanFlags{SkipReasoning: true}})
	_, _ = NewReasonPhase(c, Sampling{}, nil).Execute(context.Background(), s)
	if n := len(c.Requests()); n != 0 {
		t.Errorf("backend called %d times", n)
	}
}

// =============================================================================
// Generate
// =============================================================================

func TestGeneratePhase_FallbackWithoutBackend(t *testing.T) {
	p := NewGeneratePhase(Dependencies{})
	out, err := p.Execute(context.Background(), newState("What is 2+2?", agent.TaskKindGeneral))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.Output, "4") {
		t.Errorf("Output = %q, want the arithmetic answer", out.Output)
	}
	if !out.HasOutput || !out.MarkComplete || out.GenerationDelta != 1 || out.NextAction != agent.ActionReflect {
		t.Errorf("out = %+v", out)
	}
	if !strings.HasSuffix(out.ReasoningSteps[0], "(attempt 1, fallback)") {
		t.Errorf("step = %q", out.ReasoningSteps[0])
	}
	if len(out.ToolRecords) != 0 {
		t.Errorf("generation recorded tool usage: %v", out.ToolRecords)
	}
}

func TestGeneratePhase_UsesBackend(t *testing.T) {
	c := replying("The answer is 4.")
	out, _ := NewGeneratePhase(Dependencies{Completer: c}).Execute(context.Background(), newState("What is 2+2?", agent.TaskKindGeneral))

	if out.Output != "The answer is 4." {
		t.Errorf("Output = %q", out.Output)
	}
	reqs := c.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	if !strings.HasPrefix(reqs[0].User, "User Query: What is 2+2?") {
		t.Errorf("User prompt = %q", reqs[0].User)
	}
	if reqs[0].MaxTokens != 2000 {
		t.Errorf("MaxTokens = %d, want default 2000", reqs[0].MaxTokens)
	}
	if !strings.HasSuffix(out.ReasoningSteps[0], "(attempt 1, llm)") {
		t.Errorf("step = %q", out.ReasoningSteps[0])
	}
}

func TestGeneratePhase_FallsBackOnFailure(t *testing.T) {
	b := repoBundle()
	for name, c := range map[string]*MockCompleter{
		"rate limited": failing(&llm.RateLimitError{Err: errors.New("429")}),
		"empty":        replying(""),
	} {
		t.Run(name, func(t *testing.T) {
			s := newState("Analyze this repository", agent.TaskKindAnalyzeEvidence, agent.StageOutput{Evidence: &b})
			out, _ := NewGeneratePhase(Dependencies{Completer: c}).Execute(context.Background(), s)
			if !strings.Contains(out.Output, "[evidence:") {
				t.Errorf("fallback report carries no evidence tags:\n%s", out.Output)
			}
			if !strings.Contains(out.Output, "github.com/spf13/cobra") {
				t.Errorf("fallback report does not name real dependencies")
			}
		})
	}
}

func TestGeneratePhase_RetryIncludesCritique(t *testing.T) {
	c := replying("better answer")
	s := newState("Analyze this repository", agent.TaskKindAnalyzeEvidence,
		agent.StageOutput{Output: "first", HasOutput: true, GenerationDelta: 1},
		agent.StageOutput{ReflectionNotes: []string{"Reflection (gen 0): needs_improvement - cite line numbers"}},
	)
	out, _ := NewGeneratePhase(Dependencies{Completer: c}).Execute(context.Background(), s)

	req := c.Requests()[0]
	if !strings.Contains(req.User, "cite line numbers") || !strings.Contains(req.User, "must address") {
		t.Errorf("critique missing from context:\n%s", req.User)
	}
	if !strings.Contains(req.System, prompts.ReflectionImprovedHeading) {
		t.Error("system prompt does not ask for the reflection section")
	}
	if !strings.HasSuffix(out.ReasoningSteps[0], "(attempt 2, llm)") {
		t.Errorf("step = %q, want attempt 2", out.ReasoningSteps[0])
	}
}

// =============================================================================
// Reflect
// =============================================================================

func TestMapVerdict(t *testing.T) {
	tests := []struct {
		v          Verdict
		canImprove bool
		want       agent.NextAction
	}{
		{VerdictGood, true, agent.ActionEnd},
		{VerdictGood, false, agent.ActionEnd},
		{VerdictNeedsImprovement, true, agent.ActionRetryGenerate},
		{VerdictNeedsImprovement, false, agent.ActionEnd},
		{VerdictNeedsMoreData, false, agent.ActionContinueToPlanner},
		{VerdictNeedsMoreData, true, agent.ActionEnd},
		{VerdictPending, true, agent.ActionEnd},
		{Verdict("excellent"), true, agent.ActionEnd},
	}
	for _, tt := range tests {
		if got := MapVerdict(tt.v, tt.canImprove); got != tt.want {
			t.Errorf("MapVerdict(%s, %v) = %s, want %s", tt.v, tt.canImprove, got, tt.want)
		}
	}
}

func TestParseReflection(t *testing.T) {
	r := ParseReflection(`{"assessment": "needs_improvement", "critique": "add paths", "can_improve_without_data": true}`)
	if r.Verdict != VerdictNeedsImprovement || r.Critique != "add paths" || !r.CanImprove {
		t.Errorf("got %+v", r)
	}

	r = ParseReflection(`{"assessment": "needs_more_data"}`)
	if !r.CanImprove || r.Critique != critiqueDefault {
		t.Errorf("defaults not applied: %+v", r)
	}

	long := strings.Repeat("z", 300)
	r = ParseReflection(long)
	if r.Verdict != VerdictGood || len(r.Critique) != 200 {
		t.Errorf("non-JSON: verdict %s, critique len %d", r.Verdict, len(r.Critique))
	}
}

func TestParseReflection_KeepsRunesWhole(t *testing.T) {
	// 199 ASCII bytes then a three-byte rune straddling the 200-byte cut.
	text := strings.Repeat("a", 199) + "€ and more"
	r := ParseReflection(text)
	if !utf8.ValidString(r.Critique) {
		t.Fatalf("critique is not valid UTF-8: %q", r.Critique[190:])
	}
	if r.Critique != strings.Repeat("a", 199) {
		t.Errorf("critique len %d, want the 199 bytes before the rune", len(r.Critique))
	}
}

func TestReflectPhase(t *testing.T) {
	tests := []struct {
		name       string
		completer  *MockCompleter
		skip       bool
		genCount   int
		wantAction agent.NextAction
		wantNote   string
		wantCalls  int
	}{
		{"skipped", replying("{}"), true, 1, agent.ActionEnd, "Reflection (gen 0): good - " + CritiqueSkipped, 0},
		{"ceiling", replying("{}"), false, 2, agent.ActionEnd, "Reflection (gen 1): good - " + CritiqueMaxAttempts, 0},
		{"backend error", failing(llm.ErrConnectionFailed), false, 1, agent.ActionEnd, "Reflection (gen 0): good - " + CritiqueFallback, 1},
		{"retry", replying(`{"assessment":"needs_improvement","critique":"cite lines","can_improve_without_data":true}`), false, 1,
			agent.ActionRetryGenerate, "Reflection (gen 0): needs_improvement - cite lines", 1},
		{"more data", replying(`{"assessment":"needs_more_data","critique":"read files","can_improve_without_data":false}`), false, 1,
			agent.ActionContinueToPlanner, "Reflection (gen 0): needs_more_data - read files", 1},
		{"contradictory", replying(`{"assessment":"needs_more_data","critique":"hmm","can_improve_without_data":true}`), false, 1,
			agent.ActionEnd, "Reflection (gen 0): needs_more_data - hmm", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState("Analyze this repository", agent.TaskKindAnalyzeEvidence,
				agent.StageOutput{Flags: &agent.PlanFlags{SkipReflection: tt.skip}},
				agent.StageOutput{Output: "report", HasOutput: true, GenerationDelta: tt.genCount},
			)
			out, err := NewReflectPhase(tt.completer, Sampling{MaxTokens: 500}, nil).Execute(context.Background(), s)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if out.NextAction != tt.wantAction {
				t.Errorf("NextAction = %s, want %s", out.NextAction, tt.wantAction)
			}
			if len(out.ReflectionNotes) != 1 || out.ReflectionNotes[0] != tt.wantNote {
				t.Errorf("ReflectionNotes = %q, want [%q]", out.ReflectionNotes, tt.wantNote)
			}
			if got := len(tt.completer.Requests()); got != tt.wantCalls {
				t.Errorf("backend calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestReflectPhase_NoBackendAccepts(t *testing.T) {
	s := newState("Analyze", agent.TaskKindAnalyzeEvidence, agent.StageOutput{Output: "x", HasOutput: true, GenerationDelta: 1})
	out, _ := NewReflectPhase(nil, Sampling{}, nil).Execute(context.Background(), s)
	if out.NextAction != agent.ActionEnd || !strings.HasSuffix(out.ReflectionNotes[0], CritiqueFallback) {
		t.Errorf("out = %+v", out)
	}
}

// =============================================================================
// Evaluate
// =============================================================================

func TestEvaluatePhase(t *testing.T) {
	s := newState("What is 2+2?", agent.TaskKindGeneral, agent.StageOutput{Output: "4", HasOutput: true, MarkComplete: true})
	out, err := NewEvaluatePhase(Dependencies{}.withDefaults().Scoring).Execute(context.Background(), s)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Scores == nil || out.Scores.Overall <= 0 {
		t.Fatalf("Scores = %+v", out.Scores)
	}
	if out.NextAction != agent.ActionEnd {
		t.Errorf("NextAction = %s", out.NextAction)
	}
}
