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

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/eval"
)

// EvaluatePhase scores the finished run.
type EvaluatePhase struct {
	opts eval.Options
}

// NewEvaluatePhase creates the evaluation phase.
func NewEvaluatePhase(opts eval.Options) *EvaluatePhase {
	return &EvaluatePhase{opts: opts}
}

// Name implements agent.StageExecutor.
func (p *EvaluatePhase) Name() string {
	return "evaluate"
}

// Execute implements agent.StageExecutor.
func (p *EvaluatePhase) Execute(_ context.Context, s *agent.RunState) (agent.StageOutput, error) {
	scores := eval.Evaluate(s, p.opts)
	return agent.StageOutput{NextAction: agent.ActionEnd, Scores: &scores}, nil
}
