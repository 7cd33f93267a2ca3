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

// NextStage decides which stage follows prev.
//
// Description:
//
//	Pure function of the stage just executed and the state after its
//	output was applied. Unknown actions fall through to Evaluate, so every
//	path reaches Done. The iteration and generation limits are enforced
//	here rather than in the stages.
//
// Inputs:
//
//	prev - The stage that just ran, or StageStart.
//	s - The current run state.
//
// Outputs:
//
//	Stage - The next stage. StageDone only follows StageEvaluate.
func NextStage(prev Stage, s *RunState) Stage {
	switch prev {
	case StageStart:
		if s.iterationCount < s.maxIterations {
			return StagePlan
		}
		return StageEvaluate

	case StagePlan:
		switch s.nextAction {
		case ActionAnalyze:
			return StageCollect
		case ActionRetrieve:
			return StageRetrieve
		case ActionReason, ActionGenerate:
			return StageReason
		default:
			return StageEvaluate
		}

	case StageCollect, StageRetrieve:
		return StageReason

	case StageReason:
		if s.generationCount < s.maxGenerations {
			return StageGenerate
		}
		return StageEvaluate

	case StageGenerate:
		return StageReflect

	case StageReflect:
		switch s.nextAction {
		case ActionContinueToPlanner:
			if s.iterationCount < s.maxIterations {
				return StagePlan
			}
		case ActionRetryGenerate:
			if s.generationCount < s.maxGenerations {
				return StageGenerate
			}
		}
		return StageEvaluate

	case StageEvaluate:
		return StageDone

	default:
		return StageDone
	}
}
