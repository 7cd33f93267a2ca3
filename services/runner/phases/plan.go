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
	"regexp"
	"strings"
	"unicode"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
)

// Decision is the planner's choice for one iteration.
type Decision struct {
	NextAction     agent.NextAction
	SkipReasoning  bool
	SkipReflection bool
	Note           string
}

// planInput is what the decision table looks at.
type planInput struct {
	kind        agent.TaskKind
	task        string
	hasEvidence bool
}

type planRule struct {
	match    func(in planInput) bool
	decision Decision
}

// planRules is ordered. The first matching rule decides.
var planRules = []planRule{
	{
		match:    func(in planInput) bool { return in.kind == agent.TaskKindAnalyzeEvidence },
		decision: Decision{NextAction: agent.ActionAnalyze, Note: "Task requires repository analysis"},
	},
	{
		match:    func(in planInput) bool { return in.kind == agent.TaskKindAnswerFromKnowledgeBase },
		decision: Decision{NextAction: agent.ActionRetrieve, SkipReflection: true, Note: "Task requires knowledge base retrieval"},
	},
	{
		match:    func(in planInput) bool { return in.kind == agent.TaskKindGenerateContent && in.hasEvidence },
		decision: Decision{NextAction: agent.ActionReason, SkipReflection: true, Note: "Content generation from collected evidence"},
	},
	{
		match:    func(in planInput) bool { return in.kind == agent.TaskKindGenerateContent },
		decision: Decision{NextAction: agent.ActionAnalyze, SkipReflection: true, Note: "Content generation needs repository analysis first"},
	},
	{
		match:    func(in planInput) bool { return IsTrivial(in.task) },
		decision: Decision{NextAction: agent.ActionReason, SkipReasoning: true, SkipReflection: true, Note: "Simple query, answering directly"},
	},
	{
		match:    func(in planInput) bool { return !in.hasEvidence && mentionsCode(in.task) },
		decision: Decision{NextAction: agent.ActionAnalyze, SkipReflection: true, Note: "Code question detected, analyzing repository"},
	},
	{
		match:    func(planInput) bool { return true },
		decision: Decision{NextAction: agent.ActionReason, SkipReflection: true, Note: "Task requires direct reasoning"},
	},
}

// Plan applies the decision table.
func Plan(kind agent.TaskKind, task string, hasEvidence bool) Decision {
	in := planInput{kind: kind, task: task, hasEvidence: hasEvidence}
	for _, r := range planRules {
		if r.match(in) {
			return r.decision
		}
	}
	// Unreachable: the last rule always matches.
	return Decision{NextAction: agent.ActionReason, SkipReflection: true}
}

var (
	arithmeticRe = regexp.MustCompile(`\d\s*[-+*/^%]\s*\(?\s*\d`)

	greetings = map[string]bool{
		"hi": true, "hello": true, "hey": true, "thanks": true, "thank": true,
		"thx": true, "bye": true, "goodbye": true, "morning": true, "evening": true,
	}

	codeWords = map[string]bool{
		"where": true, "which": true, "file": true, "class": true,
		"function": true, "import": true, "use": true, "used": true,
	}
)

// IsTrivial reports whether task is arithmetic, a greeting or thanks, or
// at most three words long.
func IsTrivial(task string) bool {
	if arithmeticRe.MatchString(task) {
		return true
	}
	tokens := tokenize(task)
	if len(tokens) <= 3 {
		return true
	}
	return greetings[tokens[0]]
}

func mentionsCode(task string) bool {
	for _, t := range tokenize(task) {
		if codeWords[t] {
			return true
		}
	}
	return false
}

// tokenize lowercases s and splits it into runs of letters and digits.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// =============================================================================
// Phase
// =============================================================================

// PlanPhase decides what each iteration does.
//
// Thread Safety: PlanPhase is stateless and safe for concurrent use.
type PlanPhase struct{}

// NewPlanPhase creates the planner.
func NewPlanPhase() *PlanPhase {
	return &PlanPhase{}
}

// Name implements agent.StageExecutor.
func (p *PlanPhase) Name() string {
	return "plan"
}

// Execute implements agent.StageExecutor.
//
// Description:
//
//	Every call advances the iteration counter and appends exactly one
//	planning step, whichever rule matched.
func (p *PlanPhase) Execute(_ context.Context, s *agent.RunState) (agent.StageOutput, error) {
	d := Plan(s.Kind(), s.Task(), s.HasEvidence())

	note := "Planning: " + d.Note + " → next action: " + d.NextAction.String()
	if d.SkipReflection {
		note += " (reflection: skipped)"
	}
	return agent.StageOutput{
		NextAction:     d.NextAction,
		ReasoningSteps: []string{note},
		IterationDelta: 1,
		Flags:          &agent.PlanFlags{SkipReasoning: d.SkipReasoning, SkipReflection: d.SkipReflection},
	}, nil
}
