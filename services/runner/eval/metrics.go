// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"fmt"
	"strings"
)

// Explanation line markers.
const (
	markOK      = "✓"
	markPartial = "~"
	markMissing = "✗"
)

// explainer accumulates a score and its explanation lines.
type explainer struct {
	score float64
	lines []string
}

func (e *explainer) add(pts, of float64, format string, args ...any) {
	e.score += pts
	mark := markOK
	switch {
	case pts <= 0:
		mark = markMissing
	case pts < of:
		mark = markPartial
	}
	e.lines = append(e.lines, fmt.Sprintf("%s %s (%g/%g)", mark, fmt.Sprintf(format, args...), pts, of))
}

// penalty records a deduction. pts is positive.
func (e *explainer) penalty(pts float64, format string, args ...any) {
	e.score -= pts
	e.lines = append(e.lines, fmt.Sprintf("%s %s (-%g)", markMissing, fmt.Sprintf(format, args...), pts))
}

func (e *explainer) result() (float64, []string) {
	return clamp(e.score), e.lines
}

// taskCompletion: 50 for output, 30 for completion, 20 for finishing
// under the iteration limit (10 for using exactly all of it).
func taskCompletion(v view) (float64, []string) {
	var e explainer
	if v.output != "" {
		e.add(50, 50, "final output generated")
	} else {
		e.add(0, 50, "no final output")
	}
	if v.complete {
		e.add(30, 30, "task marked complete")
	} else {
		e.add(0, 30, "task not marked complete")
	}
	switch {
	case v.iterations < v.maxIterations:
		e.add(20, 20, "finished in %d of %d iterations", v.iterations, v.maxIterations)
	case v.iterations == v.maxIterations:
		e.add(10, 20, "used all %d iterations", v.maxIterations)
	default:
		e.add(0, 20, "exceeded the iteration limit (%d of %d)", v.iterations, v.maxIterations)
	}
	return e.result()
}

func reasoningQuality(v view) (float64, []string) {
	var e explainer
	n := v.reasoningSteps
	if n == 0 {
		e.add(0, 40, "no reasoning steps")
		e.add(0, 40, "no reasoning depth")
	} else {
		e.add(40, 40, "%d reasoning steps recorded", n)
		switch {
		case n >= 5:
			e.add(40, 40, "deep reasoning, 5+ steps")
		case n >= 3:
			e.add(30, 40, "adequate reasoning, 3-4 steps")
		default:
			e.add(20, 40, "shallow reasoning, 1-2 steps")
		}
	}
	if v.reflectionNotes > 0 {
		e.add(20, 20, "self-reflection recorded (%d notes)", v.reflectionNotes)
	} else {
		e.add(0, 20, "no self-reflection")
	}
	return e.result()
}

func toolEffectiveness(v view) (float64, []string) {
	var e explainer
	n := v.toolsUsed
	if n == 0 {
		e.add(0, 50, "no tools used")
		e.add(0, 30, "no tool variety")
	} else {
		e.add(50, 50, "%d tool invocations", n)
		switch {
		case n >= 3:
			e.add(30, 30, "three or more tool invocations")
		case n == 2:
			e.add(20, 30, "two tool invocations")
		default:
			e.add(10, 30, "one tool invocation")
		}
	}
	structure, deps := v.evidence.HasStructure(), v.evidence.HasDependencies()
	switch {
	case structure && deps:
		e.add(20, 20, "evidence has structure and dependencies")
	case structure || deps:
		e.add(10, 20, "evidence is partial")
	default:
		e.add(0, 20, "no repository evidence")
	}
	return e.result()
}

// Phrases that mark an explicit reflection section in the output.
var reflectionMarkers = []string{"how self-reflection improved", "self-reflection impact"}

// Words that suggest the output responded to a critique without a
// dedicated section.
var implicitAddressing = []string{"addressing", "improved", "enhanced", "added", "included"}

var critiqueTerms = []string{
	"addressing", "critique", "mentioned", "noted", "responding to",
	"improving", "enhancement", "added", "included",
}

// reflectionIncorporated reports whether the output carries a reflection
// section and how well that section refers back to the critique (0-30).
func reflectionIncorporated(output string) (bool, float64) {
	lower := strings.ToLower(output)
	if !containsAny(lower, reflectionMarkers) {
		return false, 0
	}
	score := 15.0
	switch refs := countAny(lower, critiqueTerms); {
	case refs >= 3:
		score += 15
	case refs >= 1:
		score += 10
	}
	return true, min(score, 30)
}

func reflectionQuality(v view) (float64, []string) {
	var e explainer
	n := v.reflectionNotes
	if n == 0 {
		e.add(0, 30, "no reflection notes")
		e.add(0, 30, "no reflection depth")
	} else {
		e.add(30, 30, "%d reflection notes", n)
		switch {
		case n >= 3:
			e.add(30, 30, "three or more critiques")
		case n == 2:
			e.add(20, 30, "two critiques")
		default:
			e.add(15, 30, "one critique")
		}
	}

	hasSection, _ := reflectionIncorporated(v.output)
	switch {
	case hasSection:
		e.add(40, 40, "output explains how reflection improved it")
	case n > 0 && containsAny(strings.ToLower(v.output), implicitAddressing):
		e.add(20, 40, "output implicitly addresses the critique")
	default:
		e.add(0, 40, "reflection not visible in the output")
	}
	return e.result()
}
