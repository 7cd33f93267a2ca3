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
	"context"
	"fmt"
	"sort"
	"sync"
)

// StageExecutor runs one stage.
//
// Execute must not mutate state; it returns the effect as a StageOutput.
// A returned error degrades the run.
type StageExecutor interface {
	Name() string
	Execute(ctx context.Context, state *RunState) (StageOutput, error)
}

// StageFunc adapts a function to StageExecutor.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, state *RunState) (StageOutput, error)
}

// Name implements StageExecutor.
func (f StageFunc) Name() string { return f.StageName }

// Execute implements StageExecutor.
func (f StageFunc) Execute(ctx context.Context, state *RunState) (StageOutput, error) {
	return f.Fn(ctx, state)
}

// StageRegistry maps stages to executors.
//
// Thread Safety: StageRegistry is safe for concurrent use.
type StageRegistry struct {
	mu     sync.RWMutex
	stages map[Stage]StageExecutor
}

// NewStageRegistry creates an empty registry.
func NewStageRegistry() *StageRegistry {
	return &StageRegistry{
		stages: make(map[Stage]StageExecutor),
	}
}

// Register associates executor with stage, replacing any previous one.
// A nil executor is ignored.
func (r *StageRegistry) Register(stage Stage, executor StageExecutor) {
	if executor == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stages[stage] = executor
}

// Get returns the executor for stage.
//
// Outputs:
//
//	StageExecutor - The executor, or nil if not found.
//	bool - True if an executor was registered.
//
// Thread Safety: This method is safe for concurrent use.
func (r *StageRegistry) Get(stage Stage) (StageExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.stages[stage]
	return executor, ok
}

// MustGet is like Get but panics when no executor is registered.
func (r *StageRegistry) MustGet(stage Stage) StageExecutor {
	executor, ok := r.Get(stage)
	if !ok {
		panic(fmt.Sprintf("no executor registered for stage %s", stage))
	}
	return executor
}

// Stages returns the registered stages, sorted.
func (r *StageRegistry) Stages() []Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stages := make([]Stage, 0, len(r.stages))
	for stage := range r.stages {
		stages = append(stages, stage)
	}

	sort.Slice(stages, func(i, j int) bool {
		return string(stages[i]) < string(stages[j])
	})

	return stages
}

// Missing returns the pipeline stages without an executor, in pipeline order.
func (r *StageRegistry) Missing() []Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []Stage
	for _, stage := range AllStages() {
		if _, ok := r.stages[stage]; !ok {
			missing = append(missing, stage)
		}
	}
	return missing
}

// Count returns the number of registered executors.
func (r *StageRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stages)
}
