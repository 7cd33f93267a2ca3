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
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorTeal  = lipgloss.Color("#2CD7C7")
	colorGreen = lipgloss.Color("#2ECC71")
	colorAmber = lipgloss.Color("#F4D03F")
	colorRed   = lipgloss.Color("#E74C3C")
	colorSlate = lipgloss.Color("#5D7B85")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorTeal)
	headingStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorSlate)
	goodStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle    = lipgloss.NewStyle().Foreground(colorAmber)
	badStyle     = lipgloss.NewStyle().Foreground(colorRed)
)

// scoreStyle colors a 0-100 score: green from 80, yellow from 50.
func scoreStyle(v float64) lipgloss.Style {
	switch {
	case v >= 80:
		return goodStyle
	case v >= 50:
		return warnStyle
	default:
		return badStyle
	}
}

var metricLabels = map[string]string{
	agent.MetricTaskCompletion:    "Task completion",
	agent.MetricReasoningQuality:  "Reasoning quality",
	agent.MetricToolEffectiveness: "Tool effectiveness",
	agent.MetricReflectionQuality: "Reflection quality",
	agent.MetricOutputQuality:     "Output quality",
}

func renderResult(w io.Writer, s *agent.RunState, verbose bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, s.FinalOutput())
	fmt.Fprintln(w)

	if s.Degraded() {
		if f := s.Failure(); f != nil {
			fmt.Fprintln(w, badStyle.Render(fmt.Sprintf("Run degraded: %s during %s: %s", f.Code, f.Stage, f.Message)))
		}
	}

	if verbose {
		renderTrace(w, s)
	}
	if sc := s.Scores(); sc != nil {
		renderScores(w, *sc, verbose)
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("run %s  kind=%s  iterations=%d/%d  generations=%d/%d",
		s.RunID(), s.Kind(), s.IterationCount(), s.MaxIterations(), s.GenerationCount(), s.MaxGenerations())))
}

func renderTrace(w io.Writer, s *agent.RunState) {
	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintln(w, headingStyle.Render(title))
		for _, l := range lines {
			fmt.Fprintf(w, "  %s\n", l)
		}
		fmt.Fprintln(w)
	}
	section("Reasoning", s.ReasoningSteps())
	section("Reflection", s.ReflectionNotes())

	var tools []string
	for _, rec := range s.ToolInvocations() {
		tools = append(tools, fmt.Sprintf("%s %s", rec.Tool, formatCounts(rec.Counts)))
	}
	section("Tools", tools)
}

func renderScores(w io.Writer, set agent.ScoreSet, verbose bool) {
	fmt.Fprintln(w, titleStyle.Render("Scores"))
	for _, name := range agent.MetricNames() {
		v := set.Metric(name)
		fmt.Fprintf(w, "  %-20s %s\n", metricLabels[name], scoreStyle(v).Render(fmt.Sprintf("%5.1f", v)))
		if verbose {
			for _, line := range set.Explanations[name] {
				fmt.Fprintf(w, "      %s\n", mutedStyle.Render(line))
			}
		}
	}
	fmt.Fprintf(w, "  %-20s %s\n", "Overall", scoreStyle(set.Overall).Bold(true).Render(fmt.Sprintf("%5.1f", set.Overall)))
	if set.OutputType != "" {
		fmt.Fprintln(w, mutedStyle.Render("  judged as "+set.OutputType))
	}
	fmt.Fprintln(w)
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func writeJSON(w io.Writer, s *agent.RunState) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.Snapshot())
}
