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

import "testing"

func routeState(action NextAction, iter, maxIter, gen, maxGen int) *RunState {
	return &RunState{
		nextAction:      action,
		iterationCount:  iter,
		maxIterations:   maxIter,
		generationCount: gen,
		maxGenerations:  maxGen,
	}
}

func TestNextStage(t *testing.T) {
	tests := []struct {
		name  string
		prev  Stage
		state *RunState
		want  Stage
	}{
		{"start plans", StageStart, routeState(ActionNone, 0, 1, 0, 2), StagePlan},
		{"start with no budget evaluates", StageStart, routeState(ActionNone, 1, 1, 0, 2), StageEvaluate},

		{"plan analyze", StagePlan, routeState(ActionAnalyze, 1, 3, 0, 2), StageCollect},
		{"plan retrieve", StagePlan, routeState(ActionRetrieve, 1, 1, 0, 2), StageRetrieve},
		{"plan reason", StagePlan, routeState(ActionReason, 1, 1, 0, 2), StageReason},
		{"plan generate goes through reason", StagePlan, routeState(ActionGenerate, 1, 1, 0, 2), StageReason},
		{"plan end", StagePlan, routeState(ActionEnd, 1, 1, 0, 2), StageEvaluate},
		{"plan unknown", StagePlan, routeState(NextAction("bogus"), 1, 1, 0, 2), StageEvaluate},
		{"plan none", StagePlan, routeState(ActionNone, 1, 1, 0, 2), StageEvaluate},

		{"collect", StageCollect, routeState(ActionAnalyze, 1, 3, 0, 2), StageReason},
		{"retrieve", StageRetrieve, routeState(ActionRetrieve, 1, 1, 0, 2), StageReason},

		{"reason generates", StageReason, routeState(ActionGenerate, 1, 1, 0, 2), StageGenerate},
		{"reason at generation cap", StageReason, routeState(ActionGenerate, 1, 1, 2, 2), StageEvaluate},

		{"generate reflects", StageGenerate, routeState(ActionReflect, 1, 1, 1, 2), StageReflect},

		{"reflect end", StageReflect, routeState(ActionEnd, 1, 3, 1, 2), StageEvaluate},
		{"reflect continue", StageReflect, routeState(ActionContinueToPlanner, 1, 3, 1, 2), StagePlan},
		{"reflect continue at cap", StageReflect, routeState(ActionContinueToPlanner, 3, 3, 1, 2), StageEvaluate},
		{"reflect retry", StageReflect, routeState(ActionRetryGenerate, 1, 1, 1, 2), StageGenerate},
		{"reflect retry at cap", StageReflect, routeState(ActionRetryGenerate, 1, 1, 2, 2), StageEvaluate},
		{"reflect unknown", StageReflect, routeState(NextAction("maybe"), 1, 1, 1, 2), StageEvaluate},
		{"reflect stale analyze", StageReflect, routeState(ActionAnalyze, 1, 3, 1, 2), StageEvaluate},

		{"evaluate done", StageEvaluate, routeState(ActionEnd, 1, 1, 1, 2), StageDone},
		{"unknown stage", Stage("mystery"), routeState(ActionEnd, 0, 1, 0, 2), StageDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextStage(tt.prev, tt.state); got != tt.want {
				t.Errorf("NextStage(%s, %s) = %s, want %s", tt.prev, tt.state.nextAction, got, tt.want)
			}
		})
	}
}

// Every (stage, action) pair routes somewhere and Evaluate is the only way to Done.
func TestNextStage_Total(t *testing.T) {
	actions := []NextAction{
		ActionNone, ActionAnalyze, ActionRetrieve, ActionReason, ActionGenerate,
		ActionReflect, ActionContinueToPlanner, ActionRetryGenerate, ActionEnd, "junk",
	}
	for _, prev := range append([]Stage{StageStart}, AllStages()...) {
		for _, action := range actions {
			for _, st := range []*RunState{
				routeState(action, 0, 3, 0, 2),
				routeState(action, 3, 3, 2, 2),
			} {
				got := NextStage(prev, st)
				if got == "" {
					t.Fatalf("NextStage(%s, %s) returned empty stage", prev, action)
				}
				if got == StageDone && prev != StageEvaluate {
					t.Errorf("NextStage(%s, %s) = done without evaluating", prev, action)
				}
			}
		}
	}
}

func TestParseTaskKind(t *testing.T) {
	tests := []struct {
		in      string
		want    TaskKind
		wantErr bool
	}{
		{"", TaskKindGeneral, false},
		{"general", TaskKindGeneral, false},
		{"Analyze", TaskKindAnalyzeEvidence, false},
		{"analyze_evidence", TaskKindAnalyzeEvidence, false},
		{"answer", TaskKindAnswerFromKnowledgeBase, false},
		{"content", TaskKindGenerateContent, false},
		{"dance", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTaskKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseTaskKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseTaskKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
