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
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/spf13/cobra"
)

func newChatCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Answer tasks interactively, carrying repository evidence between turns",
		Long: `chat reads one task per line. Evidence collected by a turn is carried
into the following turns, so follow-up questions about the repository do
not trigger a new scan. Type "clear" to drop the carried evidence and
"exit" to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(g.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return chatLoop(cmd, a, opts)
		},
	}
	addTaskFlags(cmd, &opts.kind, &opts.root, &opts.maxIterations, &opts.maxGenerations)
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show reasoning, reflection notes, tools and score explanations")
	return cmd
}

func chatLoop(cmd *cobra.Command, a *app, opts *runOptions) error {
	in := bufio.NewScanner(cmd.InOrStdin())
	in.Buffer(make([]byte, 64*1024), 1024*1024)
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, titleStyle.Render("taskrunner chat")+mutedStyle.Render(`  ("exit" to quit, "clear" to forget the repository)`))
	var carried *evidence.Bundle
	for {
		prompt(out, carried != nil)
		if !in.Scan() {
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "clear":
			carried = nil
			fmt.Fprintln(out, mutedStyle.Render("Repository context cleared."))
			continue
		}

		s, err := runTask(cmd.Context(), a, taskInput{
			task:           line,
			kind:           opts.kind,
			root:           opts.root,
			maxIterations:  opts.maxIterations,
			maxGenerations: opts.maxGenerations,
			prior:          carried,
		})
		if err != nil {
			fmt.Fprintln(out, badStyle.Render("Error: "+err.Error()))
			continue
		}
		renderResult(out, s, opts.verbose)
		if b := s.Evidence(); b != nil {
			carried = b
		}
	}
}

func prompt(w io.Writer, hasContext bool) {
	if hasContext {
		fmt.Fprint(w, "\n[repo] > ")
		return
	}
	fmt.Fprint(w, "\n> ")
}
