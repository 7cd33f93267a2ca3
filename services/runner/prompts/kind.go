// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts builds the completion requests of the reasoning,
// generation and reflection stages.
//
// Everything here is a pure function of its inputs: no I/O, no clocks.
package prompts

import (
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
)

// Kind selects the generation template.
type Kind string

const (
	KindCodeQuestion Kind = "code_question"
	KindAnalyzeRepo  Kind = "analyze_repo"
	KindContent      Kind = "content"
	KindExplain      Kind = "explain"
	KindGeneral      Kind = "general"
)

// String returns the kind as a string.
func (k Kind) String() string {
	return string(k)
}

var (
	contentKeywords = []string{"linkedin", "post", "social media"}

	codeQuestionKeywords = []string{
		"where", "which file", "which class", "how is", "show me", "find",
		"locate", "used in", "in which", "implemented", "code", "function",
		"class", "exactly", "specific", "import",
	}

	explainKeywords = []string{"evaluation", "metric", "explain", "how does"}
)

// DetectKind picks the template for a task.
//
// Description:
//
//	First match wins: content words, then an AnalyzeEvidence task (code
//	question or full report), then a code question when source excerpts
//	exist, then explanation words, else general. GenerateContent tasks
//	always use the content template.
//
// Inputs:
//
//	task - The user request.
//	taskKind - The run's coarse classification.
//	hasSourceFiles - Whether the evidence carries source excerpts.
//
// Outputs:
//
//	Kind - The template kind.
func DetectKind(task string, taskKind agent.TaskKind, hasSourceFiles bool) Kind {
	lower := strings.ToLower(task)

	if taskKind == agent.TaskKindGenerateContent || containsAny(lower, contentKeywords) {
		return KindContent
	}
	if taskKind == agent.TaskKindAnalyzeEvidence {
		if IsCodeQuestion(task) {
			return KindCodeQuestion
		}
		return KindAnalyzeRepo
	}
	if IsCodeQuestion(task) && hasSourceFiles {
		return KindCodeQuestion
	}
	if containsAny(lower, explainKeywords) {
		return KindExplain
	}
	return KindGeneral
}

// IsCodeQuestion reports whether task asks about specific code locations.
func IsCodeQuestion(task string) bool {
	return containsAny(strings.ToLower(task), codeQuestionKeywords)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
