// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fallback

import (
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/AleutianAI/taskrunner/services/runner/prompts"
	"github.com/AleutianAI/taskrunner/services/runner/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProject() prompts.Project {
	return prompts.Project{
		Name:         "Scout",
		Description:  "a local task runner",
		Organization: "Acme Labs",
		Technologies: []string{"Go", "BadgerDB", "Weaviate"},
		Capabilities: []string{"Evidence collector", "Self-reflection loop"},
		Hashtags:     []string{"#golang", "#ai"},
	}
}

func testBundle() *evidence.Bundle {
	b := &evidence.Bundle{
		Root: "/repo",
		Structure: &evidence.Node{Name: "repo", Type: "directory", Children: []*evidence.Node{
			{Name: "cmd", Type: "directory"},
			{Name: "go.mod", Type: "file"},
		}},
		SourceFiles: []evidence.SourceFile{
			{Path: "internal/collect/collector.go", Lines: 120},
			{Path: "cmd/main.go", Lines: 30},
		},
		Dependencies: evidence.Dependencies{Manifests: []string{"go.mod"}},
		Modules:      []evidence.Module{{Name: "collect", Path: "internal/collect", Files: 3, Language: "go"}},
		Symbols: evidence.SymbolTable{
			Classes:   []evidence.Symbol{{Name: "Collector", File: "internal/collect/collector.go", Line: 42, Kind: evidence.KindClass}},
			Functions: []evidence.Symbol{{Name: "NewCollector", File: "internal/collect/collector.go", Line: 60, Kind: evidence.KindFunction}},
			Tests:     []evidence.Symbol{{Name: "TestCollect", File: "internal/collect/collector_test.go", Line: 12, Kind: evidence.KindTest}},
		},
		Verification: map[string]string{
			evidence.VerifyTestCollect:    "TestCollect\nTestCache\nok  example 0.2s",
			evidence.VerifyCoverageReport: "ok  example  coverage: 71.5% of statements",
			evidence.VerifyTestFilesCount: "4",
		},
	}
	for i := 0; i < 23; i++ {
		b.Dependencies.Items = append(b.Dependencies.Items, evidence.Dependency{
			Name: fmt.Sprintf("example.com/dep%02d", i), Version: "v1.2.0", Manifest: "go.mod",
		})
	}
	return b
}

// =============================================================================
// Repository report
// =============================================================================

func TestRender_RepositoryReport(t *testing.T) {
	out := New(testProject()).Render(Input{Task: "Analyze this repository", Kind: prompts.KindAnalyzeRepo, Evidence: testBundle()})

	for _, section := range []string{"## Overview", "## Structure", "## Architecture", "## Capabilities", "## Dependencies", "## Quality Signals", "## Project Context"} {
		assert.Contains(t, out, section)
	}
	assert.Contains(t, out, "**Total dependencies**: 23 [evidence: go.mod]")
	assert.Contains(t, out, "- ... and 3 more")
	assert.NotContains(t, out, "dep20")
	assert.Contains(t, out, "`Collector` in internal/collect/collector.go [evidence: internal/collect/collector.go:42]")
	assert.Contains(t, out, "**Test count**: 2 [evidence: test_collect]")
	assert.Contains(t, out, "**Coverage**: 71.5% [evidence: coverage_report]")
	assert.Contains(t, out, "`internal/collect/collector_test.go::TestCollect`")
	assert.Contains(t, out, "**Evidence collector** - see `Collector`")
	assert.GreaterOrEqual(t, strings.Count(out, "[evidence:"), 15)
}

func TestRender_RepositoryReportUnverified(t *testing.T) {
	b := testBundle()
	b.Verification = map[string]string{evidence.VerifyTestCollect: "ERROR: go not found"}
	out := New(testProject()).Render(Input{Kind: prompts.KindAnalyzeRepo, Evidence: b})
	assert.Contains(t, out, "**Test count**: Unknown - not verified")
	assert.Contains(t, out, "**Coverage**: Unknown - not verified")
}

func TestRender_RepositoryReportWithoutEvidence(t *testing.T) {
	out := New(testProject()).Render(Input{Kind: prompts.KindAnalyzeRepo})
	assert.Contains(t, out, "No repository evidence was collected")
	assert.NotContains(t, out, "## Dependencies")
}

// =============================================================================
// Other kinds
// =============================================================================

func TestRender_CodeQuestion(t *testing.T) {
	out := New(testProject()).Render(Input{Task: "Where is the collector defined?", Kind: prompts.KindCodeQuestion, Evidence: testBundle()})
	require.Contains(t, out, "1. **internal/collect/collector.go** (120 lines)")
	assert.Contains(t, out, "Line 42: `Collector` (class)")
	assert.Contains(t, out, "No definitions were extracted")
}

func TestRender_Post(t *testing.T) {
	out := New(testProject()).Render(Input{Task: "Write a LinkedIn post", Kind: prompts.KindContent, Evidence: testBundle()})
	assert.True(t, strings.HasPrefix(out, "🚀 Excited to share Scout"))
	assert.Contains(t, out, "• Evidence collector")
	assert.Contains(t, out, "Go • BadgerDB • Weaviate")
	assert.Contains(t, out, "1 modules, 23 dependencies and 2 tests")
	assert.Contains(t, out, "Thank you")
	assert.True(t, strings.HasSuffix(out, "#golang #ai"))
}

func TestRender_GeneralArithmetic(t *testing.T) {
	out := New(prompts.Project{}).Render(Input{Task: "What is 2+2?", Kind: prompts.KindGeneral})
	assert.Contains(t, out, "The answer is 4.")
	assert.Contains(t, out, "2+2 = 4")

	out = New(prompts.Project{}).Render(Input{Task: "What is 1/0?", Kind: prompts.KindGeneral})
	assert.Contains(t, out, "divides by zero")
}

func TestRender_GeneralQuotesPassages(t *testing.T) {
	out := New(testProject()).Render(Input{
		Task:     "What is RAG?",
		Kind:     prompts.KindGeneral,
		Passages: []retrieval.Passage{{Content: "RAG combines retrieval\nwith generation.", Source: "rag.md"}},
	})
	assert.Contains(t, out, "[Source 1: rag.md]")
	assert.Contains(t, out, "> with generation.")
}

func TestRender_GeneralWithoutData(t *testing.T) {
	out := New(prompts.Project{}).Render(Input{Task: "Who are you?", Kind: prompts.KindGeneral})
	assert.Contains(t, out, "I am this project")
	assert.Contains(t, out, "No language model was available")
}

func TestRender_Explain(t *testing.T) {
	out := New(testProject()).Render(Input{Task: "Explain the system", Kind: prompts.KindExplain})
	assert.Contains(t, out, "Scout is a local task runner.")
	assert.Contains(t, out, "## Components")
	assert.Contains(t, out, "Built with Go, BadgerDB, Weaviate.")
}
