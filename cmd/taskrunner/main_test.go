// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

// testEnv writes a config that disables every network backend and keeps
// the cache in a temp dir.
func testEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("LLM_PROVIDER", "none")
	t.Setenv("TASKRUNNER_CACHE_DIR", "")
	t.Setenv("TASKRUNNER_CACHE_BACKEND", "")
	t.Setenv("TASKRUNNER_LOG_LEVEL", "")

	dir := t.TempDir()
	cfg := "log:\n  level: error\n" +
		"llm:\n  provider: none\n" +
		"retrieval:\n  enabled: false\n" +
		"cache:\n  backend: file\n  dir: " + filepath.Join(dir, "cache") + "\n"
	path := filepath.Join(dir, "taskrunner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func sampleRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "internal", "store"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# sample\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "internal", "store", "store.go"),
		[]byte("package store\n\ntype Store struct{}\n\nfunc Open() *Store { return &Store{} }\n"), 0o644))
	return root
}

// =============================================================================
// Commands
// =============================================================================

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "--config", testEnv(t), "version")
	require.NoError(t, err)
	assert.Equal(t, "taskrunner dev\n", out)
}

func TestRun_ArithmeticWithoutBackend(t *testing.T) {
	out, err := execute(t, "", "--config", testEnv(t), "run", "--kind", "general", "What", "is", "2+2?")
	require.NoError(t, err)
	assert.Contains(t, out, "The answer is 4.")
	assert.Contains(t, out, "Scores")
	assert.Contains(t, out, "Overall")
	assert.Contains(t, out, "Task completion")
}

func TestRun_VerboseShowsTrace(t *testing.T) {
	out, err := execute(t, "", "--config", testEnv(t), "run", "-v", "What is 2+2?")
	require.NoError(t, err)
	assert.Contains(t, out, "Reasoning")
	assert.Contains(t, out, "Planning:")
	assert.Contains(t, out, "Reflection (gen 0)")
	assert.Contains(t, out, "✓", "explanations are printed")
}

func TestRun_JSON(t *testing.T) {
	out, err := execute(t, "", "--config", testEnv(t), "run", "--json", "--kind", "general", "What is 2+2?")
	require.NoError(t, err)

	var snap agent.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, agent.TaskKindGeneral, snap.Kind)
	assert.Equal(t, 1, snap.GenerationCount)
	assert.True(t, snap.IsComplete)
	require.NotNil(t, snap.Scores)
	assert.Greater(t, snap.Scores.Overall, 0.0)
}

func TestRun_AnalyzeCachesEvidence(t *testing.T) {
	cfg := testEnv(t)
	repo := sampleRepo(t)

	out, err := execute(t, "", "--config", cfg, "run", "--json", "--root", repo, "--kind", "analyze", "Analyze this repository")
	require.NoError(t, err)
	var snap agent.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, agent.TaskKindAnalyzeEvidence, snap.Kind)
	assert.NotEmpty(t, snap.EvidenceRoot)
	assert.False(t, snap.Degraded)
	assert.Contains(t, snap.FinalOutput, "# Repository Analysis Report")

	stats, err := execute(t, "", "--config", cfg, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, stats, "Entries:  1")

	cleared, err := execute(t, "", "--config", cfg, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, cleared, "Removed 1 cache entries.")
}

func TestRun_RejectsBadInput(t *testing.T) {
	cfg := testEnv(t)

	_, err := execute(t, "", "--config", cfg, "run", "   ")
	assert.ErrorIs(t, err, agent.ErrEmptyTask)

	_, err = execute(t, "", "--config", cfg, "run", "--kind", "poem", "hello")
	assert.ErrorIs(t, err, agent.ErrUnknownTaskKind)
}

func TestChat_CarriesEvidenceUntilCleared(t *testing.T) {
	repo := sampleRepo(t)
	out, err := execute(t, "Analyze this repository\nWhat is 2+2?\nclear\nexit\n",
		"--config", testEnv(t), "chat", "--root", repo)
	require.NoError(t, err)

	assert.Contains(t, out, "# Repository Analysis Report")
	assert.Contains(t, out, "[repo] > ", "evidence carried after the analysis turn")
	assert.Contains(t, out, "The answer is 4.")
	assert.Contains(t, out, "Repository context cleared.")
}

func TestIngest_RequiresKnowledgeStore(t *testing.T) {
	_, err := execute(t, "", "--config", testEnv(t), "ingest", t.TempDir())
	assert.ErrorIs(t, err, ErrNoKnowledgeStore)
}

// =============================================================================
// Helpers under test
// =============================================================================

func TestResolveKind(t *testing.T) {
	tests := []struct {
		flag, task string
		active     bool
		want       agent.TaskKind
	}{
		{"auto", "Write a LinkedIn post about the project", false, agent.TaskKindGenerateContent},
		{"auto", "Analyze this repository", false, agent.TaskKindAnalyzeEvidence},
		{"", "What is 2+2?", false, agent.TaskKindGeneral},
		{"answer", "anything", false, agent.TaskKindAnswerFromKnowledgeBase},
		{"content", "anything", false, agent.TaskKindGenerateContent},
	}
	for _, tt := range tests {
		got, err := resolveKind(tt.flag, tt.task, tt.active)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %q", tt.flag, tt.task)
	}
}

func TestScoreStyle(t *testing.T) {
	assert.Equal(t, goodStyle.GetForeground(), scoreStyle(80).GetForeground())
	assert.Equal(t, warnStyle.GetForeground(), scoreStyle(79.9).GetForeground())
	assert.Equal(t, warnStyle.GetForeground(), scoreStyle(50).GetForeground())
	assert.Equal(t, badStyle.GetForeground(), scoreStyle(49.9).GetForeground())
}

func TestRenderScores(t *testing.T) {
	var buf bytes.Buffer
	renderScores(&buf, agent.ScoreSet{
		TaskCompletion: 90,
		OutputQuality:  40,
		Overall:        65,
		OutputType:     "general",
		Explanations:   map[string][]string{agent.MetricTaskCompletion: {"✓ produced output (40/40)"}},
	}, true)

	out := buf.String()
	assert.Contains(t, out, "Task completion")
	assert.Contains(t, out, "90.0")
	assert.Contains(t, out, "65.0")
	assert.Contains(t, out, "produced output")
	assert.Contains(t, out, "judged as general")
}

func TestIngestTargets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "notes.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("x"), 0o644))
	explicit := filepath.Join(dir, "image.png")

	got, err := ingestTargets([]string{dir, explicit})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "guide.md"), explicit}, got)

	_, err = ingestTargets([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "2.0 MiB", humanBytes(2*1024*1024))
}
