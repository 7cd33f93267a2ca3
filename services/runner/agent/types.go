// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent sequences the stages of a task run.
//
// A run threads one RunState through Plan, then Collect, Retrieve or
// Reason, then Generate and Reflect, looping back to Plan or Generate as
// the reflector decides, and always finishes with Evaluate. The TaskRunner
// owns the state; stages only return StageOutput values that it applies.
//
// Thread Safety:
//
//	TaskRunner is safe for concurrent Runs. A RunState belongs to one run
//	and must not be mutated concurrently.
package agent

import (
	"errors"
	"fmt"
	"strings"
)

// TaskKind is the coarse classification of a request.
type TaskKind string

const (
	// TaskKindGeneral is a plain question answered by reasoning alone.
	TaskKindGeneral TaskKind = "general"

	// TaskKindAnalyzeEvidence asks about the repository under --root.
	TaskKindAnalyzeEvidence TaskKind = "analyze_evidence"

	// TaskKindAnswerFromKnowledgeBase is answered from retrieved passages.
	TaskKindAnswerFromKnowledgeBase TaskKind = "answer_from_knowledge_base"

	// TaskKindGenerateContent produces prose about the project.
	TaskKindGenerateContent TaskKind = "generate_content"
)

// String returns the kind as a string.
func (k TaskKind) String() string {
	return string(k)
}

// Valid reports whether k is one of the four kinds.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindGeneral, TaskKindAnalyzeEvidence, TaskKindAnswerFromKnowledgeBase, TaskKindGenerateContent:
		return true
	default:
		return false
	}
}

// ErrUnknownTaskKind is returned by ParseTaskKind.
var ErrUnknownTaskKind = errors.New("unknown task kind")

// ParseTaskKind accepts the canonical names and the short CLI aliases
// general, analyze, answer and content.
func ParseTaskKind(s string) (TaskKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "general", "":
		return TaskKindGeneral, nil
	case "analyze", "analyze_evidence", "analyze_repo":
		return TaskKindAnalyzeEvidence, nil
	case "answer", "answer_from_knowledge_base", "answer_question":
		return TaskKindAnswerFromKnowledgeBase, nil
	case "content", "generate_content":
		return TaskKindGenerateContent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTaskKind, s)
	}
}

// NextAction is the routing signal stages leave on the RunState.
type NextAction string

const (
	ActionNone              NextAction = ""
	ActionAnalyze           NextAction = "analyze"
	ActionRetrieve          NextAction = "retrieve"
	ActionReason            NextAction = "reason"
	ActionGenerate          NextAction = "generate"
	ActionReflect           NextAction = "reflect"
	ActionContinueToPlanner NextAction = "continue"
	ActionRetryGenerate     NextAction = "retry"
	ActionEnd               NextAction = "end"
)

// String returns the action as a string.
func (a NextAction) String() string {
	if a == ActionNone {
		return "none"
	}
	return string(a)
}

// Stage names one step of a run.
type Stage string

const (
	StageStart    Stage = "start"
	StagePlan     Stage = "plan"
	StageCollect  Stage = "collect"
	StageRetrieve Stage = "retrieve"
	StageReason   Stage = "reason"
	StageGenerate Stage = "generate"
	StageReflect  Stage = "reflect"
	StageEvaluate Stage = "evaluate"
	StageDone     Stage = "done"
)

// String returns the stage as a string.
func (s Stage) String() string {
	return string(s)
}

// IsTerminal reports whether s ends the run.
func (s Stage) IsTerminal() bool {
	return s == StageDone
}

// AllStages returns every executable stage in pipeline order.
func AllStages() []Stage {
	return []Stage{
		StagePlan,
		StageCollect,
		StageRetrieve,
		StageReason,
		StageGenerate,
		StageReflect,
		StageEvaluate,
	}
}

// ToolUsageRecord is one audit entry of a tool a stage invoked.
type ToolUsageRecord struct {
	Tool   string         `json:"tool"`
	Counts map[string]int `json:"counts,omitempty"`
}

func (r ToolUsageRecord) clone() ToolUsageRecord {
	out := ToolUsageRecord{Tool: r.Tool}
	if r.Counts != nil {
		out.Counts = make(map[string]int, len(r.Counts))
		for k, v := range r.Counts {
			out.Counts[k] = v
		}
	}
	return out
}

// HistoryEntry records one executed stage.
type HistoryEntry struct {
	// Step is the 0-indexed stage number within the run.
	Step int `json:"step"`

	Stage      Stage      `json:"stage"`
	NextAction NextAction `json:"next_action,omitempty"`

	// DurationMs is how long the stage took in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Timestamp is when the stage finished (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`

	Error string `json:"error,omitempty"`
}

// Metric names used in ScoreSet explanations and scoring weights.
const (
	MetricTaskCompletion    = "task_completion"
	MetricReasoningQuality  = "reasoning_quality"
	MetricToolEffectiveness = "tool_effectiveness"
	MetricReflectionQuality = "reflection_quality"
	MetricOutputQuality     = "output_quality"
)

// MetricNames returns the five metric names in reporting order.
func MetricNames() []string {
	return []string{
		MetricTaskCompletion,
		MetricReasoningQuality,
		MetricToolEffectiveness,
		MetricReflectionQuality,
		MetricOutputQuality,
	}
}

// ScoreSet is the scored report of a finished run. The zero value is the
// degraded report.
type ScoreSet struct {
	TaskCompletion    float64 `json:"task_completion"`
	ReasoningQuality  float64 `json:"reasoning_quality"`
	ToolEffectiveness float64 `json:"tool_effectiveness"`
	ReflectionQuality float64 `json:"reflection_quality"`
	OutputQuality     float64 `json:"output_quality"`
	Overall           float64 `json:"overall"`

	// Explanations holds human-readable lines per metric name.
	Explanations map[string][]string `json:"explanations,omitempty"`

	// OutputType is the category output quality was judged as.
	OutputType string `json:"output_type,omitempty"`
}

// Metric returns the sub-score for name, or 0 for an unknown name.
func (s ScoreSet) Metric(name string) float64 {
	switch name {
	case MetricTaskCompletion:
		return s.TaskCompletion
	case MetricReasoningQuality:
		return s.ReasoningQuality
	case MetricToolEffectiveness:
		return s.ToolEffectiveness
	case MetricReflectionQuality:
		return s.ReflectionQuality
	case MetricOutputQuality:
		return s.OutputQuality
	default:
		return 0
	}
}

func (s ScoreSet) clone() ScoreSet {
	out := s
	if s.Explanations != nil {
		out.Explanations = make(map[string][]string, len(s.Explanations))
		for k, v := range s.Explanations {
			out.Explanations[k] = append([]string(nil), v...)
		}
	}
	return out
}

// Error codes recorded on degraded runs.
const (
	CodeStageFailed  = "STAGE_FAILED"
	CodeStagePanic   = "STAGE_PANIC"
	CodeCanceled     = "CANCELED"
	CodeStepLimit    = "STEP_LIMIT"
	CodeMissingStage = "MISSING_STAGE"
)

var (
	// ErrStagePanic wraps a value recovered from a panicking stage.
	ErrStagePanic = errors.New("stage panicked")

	// ErrStepLimit means the run exceeded its hard stage budget.
	ErrStepLimit = errors.New("stage budget exhausted")

	// ErrMissingStage means no executor is registered for a routed stage.
	ErrMissingStage = errors.New("no executor registered for stage")

	// ErrEmptyTask is returned by callers that reject a blank task.
	ErrEmptyTask = errors.New("task is empty")
)

// RunError describes why a run was degraded.
type RunError struct {
	Code    string `json:"code"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s during %s: %s", e.Code, e.Stage, e.Message)
}
