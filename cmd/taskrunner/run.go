// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/AleutianAI/taskrunner/services/runner/phases"
	"github.com/spf13/cobra"
)

// kindAuto asks ClassifyTask to pick the kind from the task text.
const kindAuto = "auto"

type runOptions struct {
	kind           string
	root           string
	maxIterations  int
	maxGenerations int
	verbose        bool
	json           bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run one task and print the scored result",
		Example: `  taskrunner run "What is 2+2?"
  taskrunner run --kind analyze --root . "Analyze this repository"
  taskrunner run --json "Explain retrieval-augmented generation"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := runTask(cmd.Context(), a, taskInput{
				task:           strings.Join(args, " "),
				kind:           opts.kind,
				root:           opts.root,
				maxIterations:  opts.maxIterations,
				maxGenerations: opts.maxGenerations,
			})
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			renderResult(cmd.OutOrStdout(), s, opts.verbose)
			return nil
		},
	}
	addTaskFlags(cmd, &opts.kind, &opts.root, &opts.maxIterations, &opts.maxGenerations)
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show reasoning, reflection notes, tools and score explanations")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the run state as JSON")
	return cmd
}

func addTaskFlags(cmd *cobra.Command, kind, root *string, maxIter, maxGen *int) {
	cmd.Flags().StringVar(kind, "kind", kindAuto, "Task kind: auto, general, analyze, answer, content")
	cmd.Flags().StringVar(root, "root", ".", "Repository root to analyze")
	cmd.Flags().IntVar(maxIter, "max-iterations", 0, "Planning budget (0 uses the configured default)")
	cmd.Flags().IntVar(maxGen, "max-generations", 0, "Generation budget (0 uses the configured default)")
}

type taskInput struct {
	task           string
	kind           string
	root           string
	maxIterations  int
	maxGenerations int

	// prior is evidence carried over from an earlier run in the session.
	prior *evidence.Bundle
}

// resolveKind maps the --kind flag to a TaskKind. "auto" classifies the
// task, treating carried evidence as an active repository context.
func resolveKind(flag, task string, repoContextActive bool) (agent.TaskKind, error) {
	if flag == "" || strings.EqualFold(flag, kindAuto) {
		return phases.ClassifyTask(task, repoContextActive), nil
	}
	return agent.ParseTaskKind(flag)
}

// runTask executes one task.
//
// Description:
//
//	General and GenerateContent runs are seeded with carried evidence, or
//	with the cached bundle for root when nothing was carried, so they can
//	talk about the repository without a fresh scan.
//
// Outputs:
//
//	*agent.RunState - The finished run, possibly degraded.
//	error - agent.ErrEmptyTask or an unknown --kind. Run failures are
//	        reported on the state, not here.
func runTask(ctx context.Context, a *app, in taskInput) (*agent.RunState, error) {
	task := strings.TrimSpace(in.task)
	if task == "" {
		return nil, agent.ErrEmptyTask
	}
	kind, err := resolveKind(in.kind, task, in.prior != nil)
	if err != nil {
		return nil, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	prior := in.prior
	if prior == nil && (kind == agent.TaskKindGeneral || kind == agent.TaskKindGenerateContent) {
		prior = a.cachedEvidence(ctx, in.root)
	}

	s := a.runner(in.root).Run(ctx, agent.RunRequest{
		Task:           task,
		Kind:           kind,
		MaxIterations:  in.maxIterations,
		MaxGenerations: in.maxGenerations,
		PriorEvidence:  prior,
	})
	a.logger.Debug("run finished",
		slog.String("run_id", s.RunID()),
		slog.String("kind", kind.String()),
		slog.Bool("degraded", s.Degraded()),
	)
	return s, nil
}
