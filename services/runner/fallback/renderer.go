// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fallback renders deterministic answers when no completion
// backend can be used.
//
// Every figure in a rendered answer comes from the evidence bundle or the
// retrieved passages. Nothing is estimated.
package fallback

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/AleutianAI/taskrunner/services/runner/prompts"
	"github.com/AleutianAI/taskrunner/services/runner/retrieval"
)

const (
	maxStructureItems = 15
	maxDependencies   = 20
	maxModules        = 12
	maxSymbols        = 8
	maxPassageChars   = 400
)

// Input is what the renderer works from.
type Input struct {
	Task     string
	Kind     prompts.Kind
	Evidence *evidence.Bundle
	Passages []retrieval.Passage
}

// Renderer produces template answers.
//
// Thread Safety: Renderer is immutable and safe for concurrent use.
type Renderer struct {
	project prompts.Project
}

// New creates a renderer describing project.
func New(project prompts.Project) *Renderer {
	if project.Name == "" {
		project.Name = "this project"
	}
	return &Renderer{project: project}
}

// Render returns the answer for in.
//
// Description:
//
//	The kind picks the shape: an evidence-tagged repository report, a code
//	location answer, a social media post, an explanation, or a general
//	answer. General answers solve arithmetic in the task before anything
//	else.
func (r *Renderer) Render(in Input) string {
	switch in.Kind {
	case prompts.KindAnalyzeRepo:
		return r.repositoryReport(in)
	case prompts.KindCodeQuestion:
		return r.codeAnswer(in)
	case prompts.KindContent:
		return r.post(in)
	case prompts.KindExplain:
		return r.explanation(in)
	default:
		return r.general(in)
	}
}

// =============================================================================
// Repository report
// =============================================================================

func (r *Renderer) repositoryReport(in Input) string {
	b := in.Evidence
	var sb strings.Builder
	sb.WriteString("# Repository Analysis Report\n\n")

	sb.WriteString("## Overview\n\n")
	fmt.Fprintf(&sb, "- %s", r.project.Name)
	if r.project.Description != "" {
		fmt.Fprintf(&sb, ": %s", r.project.Description)
	}
	sb.WriteString("\n")
	if b == nil {
		sb.WriteString("- No repository evidence was collected, so nothing below is verified.\n\n")
		r.writeCapabilities(&sb, nil)
		return sb.String()
	}
	fmt.Fprintf(&sb, "- Root: `%s` [evidence: structure_scan]\n", b.Root)
	fmt.Fprintf(&sb, "- %d top-level items, %d sampled source files, %d dependencies, %d modules [evidence: structure_scan]\n",
		len(b.TopLevelItems()), len(b.SourceFiles), b.DependencyCount(), len(b.Modules))
	fmt.Fprintf(&sb, "- %d types/classes, %d functions and %d tests extracted [evidence: symbol_extraction]\n\n",
		len(b.Symbols.Classes), len(b.Symbols.Functions), len(b.Symbols.Tests))

	sb.WriteString("## Structure\n\n")
	if b.HasStructure() {
		fmt.Fprintf(&sb, "**Total items**: %d [evidence: structure_scan]\n\n", len(b.Structure.Children))
		for _, n := range b.Structure.Children[:min(len(b.Structure.Children), maxStructureItems)] {
			if n.Type == "directory" {
				fmt.Fprintf(&sb, "- `%s/`\n", n.Name)
			} else {
				fmt.Fprintf(&sb, "- `%s`\n", n.Name)
			}
		}
		if extra := len(b.Structure.Children) - maxStructureItems; extra > 0 {
			fmt.Fprintf(&sb, "- ... and %d more\n", extra)
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Unknown - the structure scan returned nothing.\n\n")
	}

	sb.WriteString("## Architecture\n\n")
	if len(b.Modules) > 0 {
		fmt.Fprintf(&sb, "**Modules identified**: %d [evidence: module_scan]\n\n", len(b.Modules))
		for _, m := range b.Modules[:min(len(b.Modules), maxModules)] {
			fmt.Fprintf(&sb, "- `%s` (%s, %d files) [evidence: %s]\n", m.Name, m.Language, m.Files, m.Path)
		}
		if extra := len(b.Modules) - maxModules; extra > 0 {
			fmt.Fprintf(&sb, "- ... and %d more\n", extra)
		}
		sb.WriteString("\n")
	}
	writeSymbolRefs(&sb, "Key types", b.Symbols.Classes)
	writeSymbolRefs(&sb, "Key functions", b.Symbols.Functions)

	r.writeCapabilities(&sb, b)

	sb.WriteString("## Dependencies\n\n")
	if n := b.DependencyCount(); n > 0 {
		fmt.Fprintf(&sb, "**Total dependencies**: %d [evidence: %s]\n\n", n, strings.Join(b.Dependencies.Manifests, ", "))
		for _, d := range b.Dependencies.Items[:min(n, maxDependencies)] {
			fmt.Fprintf(&sb, "- `%s` [evidence: %s]\n", dependencyLine(d), d.Manifest)
		}
		if n > maxDependencies {
			fmt.Fprintf(&sb, "- ... and %d more\n", n-maxDependencies)
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("No dependency manifest was parsed.\n\n")
	}

	sb.WriteString("## Quality Signals\n\n")
	if out, ok := b.Verification[evidence.VerifyTestCollect]; ok && !strings.HasPrefix(out, "ERROR") {
		fmt.Fprintf(&sb, "- **Test count**: %d [evidence: test_collect]\n", b.TestCount())
	} else {
		fmt.Fprintf(&sb, "- **Test count**: Unknown - not verified; %d test functions found by symbol extraction [evidence: symbol_extraction]\n", len(b.Symbols.Tests))
	}
	if n, ok := b.Verification[evidence.VerifyTestFilesCount]; ok {
		fmt.Fprintf(&sb, "- **Test files**: %s [evidence: test_files_count]\n", n)
	}
	if pct, ok := b.CoveragePercent(); ok {
		fmt.Fprintf(&sb, "- **Coverage**: %.1f%% [evidence: coverage_report]\n", pct)
	} else {
		sb.WriteString("- **Coverage**: Unknown - not verified [evidence: coverage_report]\n")
	}
	for _, t := range b.Symbols.Tests[:min(len(b.Symbols.Tests), 3)] {
		fmt.Fprintf(&sb, "- `%s::%s` [evidence: %s:%d]\n", t.File, t.Name, t.File, t.Line)
	}
	sb.WriteString("\n")

	if r.project.Organization != "" {
		sb.WriteString("## Project Context\n\n")
		fmt.Fprintf(&sb, "Built for %s.\n", r.project.Organization)
	}
	return sb.String()
}

func (r *Renderer) writeCapabilities(sb *strings.Builder, b *evidence.Bundle) {
	if len(r.project.Capabilities) == 0 {
		return
	}
	sb.WriteString("## Capabilities\n\n")
	for i, c := range r.project.Capabilities {
		fmt.Fprintf(sb, "%d. **%s**", i+1, c)
		if sym, ok := matchSymbol(b, c); ok {
			fmt.Fprintf(sb, " - see `%s` [evidence: %s:%d]", sym.Name, sym.File, sym.Line)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

// matchSymbol finds a type or function whose name shares a word with
// the capability text.
func matchSymbol(b *evidence.Bundle, capability string) (evidence.Symbol, bool) {
	if b == nil {
		return evidence.Symbol{}, false
	}
	words := strings.Fields(strings.ToLower(capability))
	for _, list := range [][]evidence.Symbol{b.Symbols.Classes, b.Symbols.Functions} {
		for _, s := range list {
			name := strings.ToLower(s.Name)
			for _, w := range words {
				if len(w) >= 5 && strings.Contains(name, strings.Trim(w, ".,;:()")) {
					return s, true
				}
			}
		}
	}
	return evidence.Symbol{}, false
}

func writeSymbolRefs(sb *strings.Builder, title string, syms []evidence.Symbol) {
	if len(syms) == 0 {
		return
	}
	fmt.Fprintf(sb, "**%s**:\n", title)
	for _, s := range syms[:min(len(syms), maxSymbols)] {
		fmt.Fprintf(sb, "- `%s` in %s [evidence: %s:%d]\n", s.Name, s.File, s.File, s.Line)
	}
	if extra := len(syms) - maxSymbols; extra > 0 {
		fmt.Fprintf(sb, "- ... and %d more\n", extra)
	}
	sb.WriteString("\n")
}

func dependencyLine(d evidence.Dependency) string {
	if d.Raw != "" {
		return d.Raw
	}
	switch {
	case d.Version == "":
		return d.Name
	case d.Operator != "":
		return d.Name + d.Operator + d.Version
	default:
		return d.Name + " " + d.Version
	}
}

// =============================================================================
// Code question
// =============================================================================

func (r *Renderer) codeAnswer(in Input) string {
	b := in.Evidence
	if b == nil || len(b.SourceFiles) == 0 {
		return r.general(in)
	}
	files := prompts.RelevantFiles(b.SourceFiles, in.Task)
	if len(files) > 3 {
		files = files[:3]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Files most relevant to \"%s\":\n\n", in.Task)
	for i, f := range files {
		fmt.Fprintf(&sb, "%d. **%s** (%d lines)\n", i+1, f.Path, f.Lines)
		n := 0
		for _, s := range symbolsIn(b, f.Path) {
			fmt.Fprintf(&sb, "   - Line %d: `%s` (%s) [evidence: %s:%d]\n", s.Line, s.Name, s.Kind, f.Path, s.Line)
			if n++; n == 5 {
				break
			}
		}
		if n == 0 {
			sb.WriteString("   - No definitions were extracted from this file.\n")
		}
	}
	sb.WriteString("\nLocations come from the collected source excerpts and symbol table.")
	return sb.String()
}

func symbolsIn(b *evidence.Bundle, path string) []evidence.Symbol {
	var out []evidence.Symbol
	for _, list := range [][]evidence.Symbol{b.Symbols.Classes, b.Symbols.Functions, b.Symbols.Tests} {
		for _, s := range list {
			if s.File == path || filepath.ToSlash(s.File) == filepath.ToSlash(path) {
				out = append(out, s)
			}
		}
	}
	return out
}

// =============================================================================
// Prose
// =============================================================================

func (r *Renderer) post(in Input) string {
	p := r.project
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚀 Excited to share %s", p.Name)
	if p.Organization != "" {
		fmt.Fprintf(&sb, ", built with %s", p.Organization)
	}
	sb.WriteString("!\n\n")
	if p.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", p.Description)
	}
	if len(p.Capabilities) > 0 {
		sb.WriteString("🎯 Key features:\n")
		for _, c := range p.Capabilities[:min(len(p.Capabilities), 5)] {
			fmt.Fprintf(&sb, "• %s\n", c)
		}
		sb.WriteString("\n")
	}
	if b := in.Evidence; b != nil {
		fmt.Fprintf(&sb, "📊 By the numbers: %d modules, %d dependencies and %d tests.\n\n",
			len(b.Modules), b.DependencyCount(), b.TestCount())
	}
	if len(p.Technologies) > 0 {
		fmt.Fprintf(&sb, "Technical stack: %s\n\n", strings.Join(p.Technologies[:min(len(p.Technologies), 5)], " • "))
	}
	sb.WriteString("Thank you to everyone who contributed. The code is available in the repository.\n")
	if len(p.Hashtags) > 0 {
		fmt.Fprintf(&sb, "\n%s", strings.Join(p.Hashtags, " "))
	}
	return sb.String()
}

func (r *Renderer) explanation(in Input) string {
	p := r.project
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", in.Task)
	writePassageQuotes(&sb, in.Passages)
	fmt.Fprintf(&sb, "%s", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&sb, " is %s", p.Description)
	}
	sb.WriteString(".\n\n")
	if len(p.Capabilities) > 0 {
		sb.WriteString("## Components\n\n")
		for _, c := range p.Capabilities {
			fmt.Fprintf(&sb, "- **%s**\n", c)
		}
		sb.WriteString("\n")
	}
	if len(p.Technologies) > 0 {
		fmt.Fprintf(&sb, "Built with %s.\n", strings.Join(p.Technologies, ", "))
	}
	return sb.String()
}

func (r *Renderer) general(in Input) string {
	if expr, v, err := SolveArithmetic(in.Task); err == nil {
		return fmt.Sprintf("The answer is %s.\n\nCalculation: %s = %s", FormatNumber(v), expr, FormatNumber(v))
	} else if errors.Is(err, ErrDivisionByZero) {
		return fmt.Sprintf("The expression %s is undefined because it divides by zero.", expr)
	}

	p := r.project
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", in.Task)
	if len(in.Passages) > 0 {
		sb.WriteString("From the knowledge base:\n\n")
		writePassageQuotes(&sb, in.Passages)
		return sb.String()
	}
	if b := in.Evidence; b != nil {
		fmt.Fprintf(&sb, "The repository at `%s` has %d top-level items, %d modules and %d dependencies.\n\n",
			b.Root, len(b.TopLevelItems()), len(b.Modules), b.DependencyCount())
	}
	fmt.Fprintf(&sb, "I am %s", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&sb, ", %s", p.Description)
	}
	sb.WriteString(". No language model was available for this request, so this answer is limited to what was collected locally.\n")
	if len(p.Capabilities) > 0 {
		sb.WriteString("\nCapabilities:\n")
		for _, c := range p.Capabilities {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	if len(p.Technologies) > 0 {
		fmt.Fprintf(&sb, "\nBuilt with: %s\n", strings.Join(p.Technologies, ", "))
	}
	return sb.String()
}

func writePassageQuotes(sb *strings.Builder, passages []retrieval.Passage) {
	for i, p := range passages {
		content := strings.TrimSpace(p.Content)
		if len(content) > maxPassageChars {
			content = prompts.Clip(content, maxPassageChars) + "..."
		}
		fmt.Fprintf(sb, "[Source %d: %s]\n> %s\n\n", i+1, p.Source, strings.ReplaceAll(content, "\n", "\n> "))
	}
}
