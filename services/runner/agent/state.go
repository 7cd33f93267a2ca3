// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"time"

	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/AleutianAI/taskrunner/services/runner/retrieval"
	"github.com/google/uuid"
)

// RunRequest describes one task to run.
type RunRequest struct {
	Task string
	Kind TaskKind

	// MaxIterations and MaxGenerations override the runner defaults when > 0.
	MaxIterations  int
	MaxGenerations int

	// PriorEvidence seeds the run with an already collected bundle.
	PriorEvidence *evidence.Bundle
}

// RunState is the record threaded through every stage of a run.
//
// Description:
//
//	Stages read RunState through its accessors and describe their effects
//	as a StageOutput. Only the TaskRunner applies outputs, so lists grow
//	append-only and counters move forward in a single place.
//
// Thread Safety: Not safe for concurrent use. Owned by one run.
type RunState struct {
	runID     string
	startedAt time.Time

	task string
	kind TaskKind

	evidence *evidence.Bundle
	passages []retrieval.Passage

	reasoningSteps  []string
	reflectionNotes []string
	toolInvocations []ToolUsageRecord

	finalOutput string
	hasOutput   bool

	iterationCount  int
	generationCount int
	maxIterations   int
	maxGenerations  int

	nextAction     NextAction
	skipReasoning  bool
	skipReflection bool
	isComplete     bool

	scores  *ScoreSet
	history []HistoryEntry

	degraded bool
	failure  *RunError
}

// NewRunState creates the initial state for req. Limits below 1 are
// raised to 1.
func NewRunState(req RunRequest) *RunState {
	s := &RunState{
		runID:          uuid.NewString(),
		startedAt:      time.Now(),
		task:           req.Task,
		kind:           req.Kind,
		maxIterations:  max(req.MaxIterations, 1),
		maxGenerations: max(req.MaxGenerations, 1),
	}
	if !s.kind.Valid() {
		s.kind = TaskKindGeneral
	}
	if req.PriorEvidence != nil {
		b := *req.PriorEvidence
		s.evidence = &b
	}
	return s
}

// PlanFlags replaces the planner-owned skip flags.
type PlanFlags struct {
	SkipReasoning  bool
	SkipReflection bool
}

// StageOutput is the effect of one stage on the RunState.
//
// Description:
//
//	Zero fields mean "no change". Lists are appended, Evidence, Passages
//	and Output replace wholesale, deltas are added to counters. Negative
//	deltas are ignored.
type StageOutput struct {
	NextAction NextAction

	ReasoningSteps  []string
	ReflectionNotes []string
	ToolRecords     []ToolUsageRecord

	Evidence *evidence.Bundle

	// Passages replaces the retrieved passages when ReplacePassages is set,
	// so a stage can record an empty result.
	Passages        []retrieval.Passage
	ReplacePassages bool

	Output    string
	HasOutput bool

	IterationDelta  int
	GenerationDelta int

	Flags        *PlanFlags
	MarkComplete bool

	Scores *ScoreSet
}

// Apply merges out into the state.
func (s *RunState) Apply(out StageOutput) {
	if out.NextAction != ActionNone {
		s.nextAction = out.NextAction
	}
	s.reasoningSteps = append(s.reasoningSteps, out.ReasoningSteps...)
	s.reflectionNotes = append(s.reflectionNotes, out.ReflectionNotes...)
	for _, r := range out.ToolRecords {
		s.toolInvocations = append(s.toolInvocations, r.clone())
	}
	if out.Evidence != nil {
		b := *out.Evidence
		s.evidence = &b
	}
	if out.ReplacePassages {
		s.passages = append([]retrieval.Passage{}, out.Passages...)
	}
	if out.HasOutput {
		s.finalOutput = out.Output
		s.hasOutput = true
	}
	if out.IterationDelta > 0 {
		s.iterationCount += out.IterationDelta
	}
	if out.GenerationDelta > 0 {
		s.generationCount += out.GenerationDelta
	}
	if out.Flags != nil {
		s.skipReasoning = out.Flags.SkipReasoning
		s.skipReflection = out.Flags.SkipReflection
	}
	if out.MarkComplete {
		s.isComplete = true
	}
	if out.Scores != nil {
		sc := out.Scores.clone()
		s.scores = &sc
	}
}

// degrade marks the run failed at stage. Lists already accumulated are
// kept for diagnosis.
func (s *RunState) degrade(stage Stage, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	s.degraded = true
	s.failure = &RunError{Code: code, Stage: stage, Message: msg}
	s.finalOutput = "Task failed during " + string(stage) + ": " + msg
	s.hasOutput = true
	s.isComplete = false
	s.nextAction = ActionEnd
	s.scores = &ScoreSet{}
}

func (s *RunState) record(e HistoryEntry) {
	e.Step = len(s.history)
	s.history = append(s.history, e)
}

func (s *RunState) RunID() string          { return s.runID }
func (s *RunState) StartedAt() time.Time   { return s.startedAt }
func (s *RunState) Task() string           { return s.task }
func (s *RunState) Kind() TaskKind         { return s.kind }
func (s *RunState) FinalOutput() string    { return s.finalOutput }
func (s *RunState) HasOutput() bool        { return s.hasOutput }
func (s *RunState) IterationCount() int    { return s.iterationCount }
func (s *RunState) GenerationCount() int   { return s.generationCount }
func (s *RunState) MaxIterations() int     { return s.maxIterations }
func (s *RunState) MaxGenerations() int    { return s.maxGenerations }
func (s *RunState) NextAction() NextAction { return s.nextAction }
func (s *RunState) SkipReasoning() bool    { return s.skipReasoning }
func (s *RunState) SkipReflection() bool   { return s.skipReflection }
func (s *RunState) IsComplete() bool       { return s.isComplete }
func (s *RunState) Degraded() bool         { return s.degraded }

// Evidence returns a copy of the collected bundle, or nil.
func (s *RunState) Evidence() *evidence.Bundle {
	if s.evidence == nil {
		return nil
	}
	b := *s.evidence
	return &b
}

// HasEvidence reports whether a bundle has been collected or supplied.
func (s *RunState) HasEvidence() bool {
	return s.evidence != nil
}

// Passages returns a copy of the retrieved passages.
func (s *RunState) Passages() []retrieval.Passage {
	return append([]retrieval.Passage(nil), s.passages...)
}

// ReasoningSteps returns a copy of the reasoning trace.
func (s *RunState) ReasoningSteps() []string {
	return append([]string(nil), s.reasoningSteps...)
}

// ReflectionNotes returns a copy of the reflection notes.
func (s *RunState) ReflectionNotes() []string {
	return append([]string(nil), s.reflectionNotes...)
}

// ToolInvocations returns a deep copy of the tool audit trail.
func (s *RunState) ToolInvocations() []ToolUsageRecord {
	out := make([]ToolUsageRecord, len(s.toolInvocations))
	for i, r := range s.toolInvocations {
		out[i] = r.clone()
	}
	return out
}

// Scores returns the evaluated scores, or nil before Evaluate has run.
func (s *RunState) Scores() *ScoreSet {
	if s.scores == nil {
		return nil
	}
	sc := s.scores.clone()
	return &sc
}

// History returns a copy of the stage audit trail.
func (s *RunState) History() []HistoryEntry {
	return append([]HistoryEntry(nil), s.history...)
}

// Failure returns the degradation cause, or nil for a healthy run.
func (s *RunState) Failure() *RunError {
	if s.failure == nil {
		return nil
	}
	f := *s.failure
	return &f
}

// Snapshot is the serializable view of a RunState.
type Snapshot struct {
	RunID           string              `json:"run_id"`
	StartedAt       time.Time           `json:"started_at"`
	Task            string              `json:"task"`
	Kind            TaskKind            `json:"kind"`
	FinalOutput     string              `json:"final_output"`
	IsComplete      bool                `json:"is_complete"`
	Degraded        bool                `json:"degraded"`
	Failure         *RunError           `json:"failure,omitempty"`
	IterationCount  int                 `json:"iteration_count"`
	GenerationCount int                 `json:"generation_count"`
	MaxIterations   int                 `json:"max_iterations"`
	MaxGenerations  int                 `json:"max_generations"`
	NextAction      NextAction          `json:"next_action"`
	ReasoningSteps  []string            `json:"reasoning_steps"`
	ReflectionNotes []string            `json:"reflection_notes"`
	ToolInvocations []ToolUsageRecord   `json:"tool_invocations"`
	Passages        []retrieval.Passage `json:"passages,omitempty"`
	EvidenceRoot    string              `json:"evidence_root,omitempty"`
	Scores          *ScoreSet           `json:"scores,omitempty"`
	History         []HistoryEntry      `json:"history"`
}

// Snapshot returns a copy of the state suitable for JSON output.
func (s *RunState) Snapshot() Snapshot {
	snap := Snapshot{
		RunID:           s.runID,
		StartedAt:       s.startedAt,
		Task:            s.task,
		Kind:            s.kind,
		FinalOutput:     s.finalOutput,
		IsComplete:      s.isComplete,
		Degraded:        s.degraded,
		Failure:         s.Failure(),
		IterationCount:  s.iterationCount,
		GenerationCount: s.generationCount,
		MaxIterations:   s.maxIterations,
		MaxGenerations:  s.maxGenerations,
		NextAction:      s.nextAction,
		ReasoningSteps:  s.ReasoningSteps(),
		ReflectionNotes: s.ReflectionNotes(),
		ToolInvocations: s.ToolInvocations(),
		Passages:        s.Passages(),
		Scores:          s.Scores(),
		History:         s.History(),
	}
	if s.evidence != nil {
		snap.EvidenceRoot = s.evidence.Root
	}
	return snap
}
