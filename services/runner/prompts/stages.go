// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
)

// ReasoningSystem asks for a short numbered plan as JSON.
const ReasoningSystem = `You are an analytical assistant that thinks step by step before answering.
Break the task into three to five concrete reasoning steps that lead to a good answer.

Respond with JSON only:
{"reasoning_steps": ["step 1", "step 2", "step 3"]}`

// ReasoningInput is what the reasoner knows when it asks for a plan.
type ReasoningInput struct {
	Task          string
	Kind          agent.TaskKind
	PassageCount  int
	HasEvidence   bool
	FileCount     int
	DepCount      int
	ModuleCount   int
	ReflectionCnt int
}

// ReasoningUser renders the user prompt for the reasoning request.
func ReasoningUser(in ReasoningInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", in.Task)
	fmt.Fprintf(&sb, "Task kind: %s\n", in.Kind)
	if in.PassageCount > 0 {
		fmt.Fprintf(&sb, "Knowledge base passages available: %d\n", in.PassageCount)
	}
	if in.HasEvidence {
		fmt.Fprintf(&sb, "Repository evidence: %d source files, %d dependencies, %d modules\n",
			in.FileCount, in.DepCount, in.ModuleCount)
	}
	if in.ReflectionCnt > 0 {
		fmt.Fprintf(&sb, "Earlier attempts were critiqued %d time(s); plan to address the critique.\n", in.ReflectionCnt)
	}
	sb.WriteString("\nList the reasoning steps.")
	return sb.String()
}

const reflectionResponseFormat = `
Respond with JSON only:
{
  "assessment": "good" | "needs_improvement" | "needs_more_data",
  "critique": "one sentence, only for a serious problem",
  "can_improve_without_data": true | false,
  "next_action": "end" | "retry" | "continue"
}`

const reflectionRepo = `You are reviewing a repository analysis you just wrote.

Check:
1. Specificity: real file paths, line numbers, type and function names.
2. Evidence: claims carry [evidence: ...] tags.
3. Completeness: structure, dependencies, tests and coverage are covered.
4. Accuracy: numbers match the data.

Decide:
- Paths, symbols, evidence tags and test counts present: "good".
- Fixable formatting or structure problem with the same data: "needs_improvement".
- Cannot be made specific without collecting more data: "needs_more_data".

Be lenient. Minor wording is not a reason to regenerate.` + reflectionResponseFormat

const reflectionContent = `You are reviewing a social media post you just wrote.

Check:
1. Structure: opening hook, body, closing call to action.
2. Tone: professional.
3. Completeness: names the project and its value.

Only local repository data exists; never ask for external statistics.
A decent, professional post is "good". Use "needs_improvement" only for a
serious problem.` + reflectionResponseFormat

const reflectionCodeQuestion = `You are reviewing an answer to a question about code.

- An answer that names files, line numbers and code is "good".
- A symbol used in a single file is fully answered by that one file.
- Do not ask for broader overviews or integration details the question did not request.
- No further data can be collected. If the answer used what is available, say "good".` + reflectionResponseFormat

// ReflectionSystem returns the critique prompt for an output of kind.
func ReflectionSystem(kind Kind) string {
	switch kind {
	case KindAnalyzeRepo:
		return reflectionRepo
	case KindContent:
		return reflectionContent
	default:
		return reflectionCodeQuestion
	}
}

// reflectionOutputLimit caps how much of the output is sent for critique.
const reflectionOutputLimit = 1500

// ReflectionInput is what the reflector sends for critique.
type ReflectionInput struct {
	Task            string
	Output          string
	ReasoningSteps  int
	ReflectionNotes int
	Attempt         int
	MaxAttempts     int
}

// ReflectionUser renders the user prompt for the critique request.
func ReflectionUser(in ReflectionInput) string {
	out := in.Output
	if len(out) > reflectionOutputLimit {
		out = Clip(out, reflectionOutputLimit) + "\n[truncated]"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original task: %s\n\n", in.Task)
	fmt.Fprintf(&sb, "Output under review:\n%s\n\n", out)
	fmt.Fprintf(&sb, "Reasoning steps so far: %d\n", in.ReasoningSteps)
	fmt.Fprintf(&sb, "Earlier critiques: %d\n", in.ReflectionNotes)
	fmt.Fprintf(&sb, "Generation attempt: %d of %d\n", in.Attempt, in.MaxAttempts)
	sb.WriteString("\nAssess the output.")
	return sb.String()
}
