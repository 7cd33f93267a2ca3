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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.runner")

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runner_stage_duration_seconds",
		Help:    "Duration of each executed stage",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"stage"})

	stageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runner_stage_errors_total",
		Help: "Stages that failed or panicked",
	}, []string{"stage"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runner_runs_total",
		Help: "Finished runs by task kind and outcome",
	}, []string{"kind", "outcome"})

	overallScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "runner_overall_score",
		Help:    "Overall score of healthy runs",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})
)

// Config holds the TaskRunner limits.
type Config struct {
	// MaxIterationsAnalyze is the planning budget for AnalyzeEvidence runs.
	MaxIterationsAnalyze int

	// MaxIterationsDefault is the planning budget for every other kind.
	MaxIterationsDefault int

	MaxGenerations int

	// RunTimeout bounds a whole run. Zero means no limit.
	RunTimeout time.Duration
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxIterationsAnalyze: 3,
		MaxIterationsDefault: 1,
		MaxGenerations:       2,
	}
}

// Option configures a TaskRunner.
type Option func(*TaskRunner)

// WithConfig replaces the runner limits.
func WithConfig(cfg Config) Option {
	return func(r *TaskRunner) {
		r.cfg = cfg
	}
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *TaskRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// TaskRunner drives a RunState through the registered stages.
//
// Thread Safety: Safe for concurrent Runs provided the registered
// executors are.
type TaskRunner struct {
	registry *StageRegistry
	cfg      Config
	logger   *slog.Logger
}

// NewTaskRunner creates a runner over registry.
func NewTaskRunner(registry *StageRegistry, opts ...Option) *TaskRunner {
	r := &TaskRunner{
		registry: registry,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = NewStageRegistry()
	}
	return r
}

// limits resolves the iteration and generation budgets for req.
func (r *TaskRunner) limits(req RunRequest) (int, int) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		if req.Kind == TaskKindAnalyzeEvidence {
			maxIter = r.cfg.MaxIterationsAnalyze
		} else {
			maxIter = r.cfg.MaxIterationsDefault
		}
	}
	maxGen := req.MaxGenerations
	if maxGen <= 0 {
		maxGen = r.cfg.MaxGenerations
	}
	return max(maxIter, 1), max(maxGen, 1)
}

// stepBudget is the hard ceiling on executed stages. Each planning
// iteration costs at most six stages, each regeneration three, and the
// remainder covers start-up and Evaluate.
func stepBudget(maxIter, maxGen int) int {
	return maxIter*6 + maxGen*3 + 4
}

// Run executes req to completion.
//
// Description:
//
//	Starts at Plan, follows NextStage after each executed stage and stops
//	at Done. Stage errors, panics, cancellation and an exhausted stage
//	budget never escape: they leave a degraded RunState with a zero
//	ScoreSet and a "Task failed during <stage>" output.
//
// Inputs:
//
//	ctx - Cancellation for the whole run.
//	req - The task. Zero limits take the runner defaults.
//
// Outputs:
//
//	*RunState - The finished state. Never nil.
func (r *TaskRunner) Run(ctx context.Context, req RunRequest) *RunState {
	req.MaxIterations, req.MaxGenerations = r.limits(req)
	state := NewRunState(req)

	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "agent.TaskRunner.Run",
		trace.WithAttributes(
			attribute.String("run_id", state.runID),
			attribute.String("kind", state.kind.String()),
			attribute.Int("max_iterations", state.maxIterations),
			attribute.Int("max_generations", state.maxGenerations),
		),
	)
	defer span.End()

	r.logger.Info("run starting",
		slog.String("run_id", state.runID),
		slog.String("kind", state.kind.String()),
		slog.Int("task_len", len(state.task)),
	)

	budget := stepBudget(state.maxIterations, state.maxGenerations)
	stage := NextStage(StageStart, state)
	for steps := 0; !stage.IsTerminal(); steps++ {
		if err := ctx.Err(); err != nil {
			state.degrade(stage, CodeCanceled, err)
			break
		}
		if steps >= budget {
			state.degrade(stage, CodeStepLimit, fmt.Errorf("%w after %d stages", ErrStepLimit, steps))
			break
		}

		executor, ok := r.registry.Get(stage)
		if !ok {
			state.degrade(stage, CodeMissingStage, fmt.Errorf("%w: %s", ErrMissingStage, stage))
			break
		}

		out, dur, err := r.executeStage(ctx, stage, executor, state)
		entry := HistoryEntry{
			Stage:      stage,
			DurationMs: dur.Milliseconds(),
			Timestamp:  time.Now().UnixMilli(),
		}
		if err != nil {
			entry.Error = err.Error()
			state.record(entry)
			stageErrorsTotal.WithLabelValues(stage.String()).Inc()
			state.degrade(stage, failureCode(ctx, err), err)
			break
		}

		state.Apply(out)
		entry.NextAction = state.nextAction
		state.record(entry)

		stage = NextStage(stage, state)
	}

	return r.finish(span, state)
}

// executeStage runs one executor under a span, converting panics to errors.
func (r *TaskRunner) executeStage(ctx context.Context, stage Stage, executor StageExecutor, state *RunState) (out StageOutput, dur time.Duration, err error) {
	ctx, span := tracer.Start(ctx, "agent.stage."+stage.String(),
		trace.WithAttributes(
			attribute.String("stage", stage.String()),
			attribute.String("executor", executor.Name()),
			attribute.Int("iteration", state.iterationCount),
			attribute.Int("generation", state.generationCount),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: %v", ErrStagePanic, stage, rec)
		}
		dur = time.Since(start)
		stageDuration.WithLabelValues(stage.String()).Observe(dur.Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Error("stage failed",
				slog.String("run_id", state.runID),
				slog.String("stage", stage.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		span.SetAttributes(attribute.String("next_action", out.NextAction.String()))
		r.logger.Debug("stage completed",
			slog.String("run_id", state.runID),
			slog.String("stage", stage.String()),
			slog.String("next_action", out.NextAction.String()),
			slog.Duration("duration", dur),
		)
	}()

	out, err = executor.Execute(ctx, state)
	return out, dur, err
}

func failureCode(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, ErrStagePanic):
		return CodeStagePanic
	case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeStageFailed
	}
}

func (r *TaskRunner) finish(span trace.Span, state *RunState) *RunState {
	outcome := "ok"
	if state.degraded {
		outcome = "degraded"
		span.SetStatus(codes.Error, state.failure.Error())
		r.logger.Warn("run degraded",
			slog.String("run_id", state.runID),
			slog.String("stage", state.failure.Stage.String()),
			slog.String("code", state.failure.Code),
			slog.String("error", state.failure.Message),
		)
	} else {
		overall := 0.0
		if state.scores != nil {
			overall = state.scores.Overall
		}
		overallScore.Observe(overall)
		span.SetAttributes(attribute.Float64("overall_score", overall))
		r.logger.Info("run finished",
			slog.String("run_id", state.runID),
			slog.Int("iterations", state.iterationCount),
			slog.Int("generations", state.generationCount),
			slog.Float64("overall", overall),
			slog.Duration("elapsed", time.Since(state.startedAt)),
		)
	}
	runsTotal.WithLabelValues(state.kind.String(), outcome).Inc()
	return state
}
