// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/AleutianAI/taskrunner/services/runner/retrieval"
)

// Limits bounds every list the context builder emits.
type Limits struct {
	MaxSourceFiles    int
	MaxImportLines    int
	MaxDefinitions    int
	MaxDependencies   int
	MaxModules        int
	MaxClasses        int
	MaxFunctions      int
	MaxTests          int
	MaxReasoningSteps int
}

// DefaultLimits returns the stock context bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxSourceFiles:    3,
		MaxImportLines:    10,
		MaxDefinitions:    5,
		MaxDependencies:   20,
		MaxModules:        12,
		MaxClasses:        15,
		MaxFunctions:      20,
		MaxTests:          15,
		MaxReasoningSteps: 5,
	}
}

// withDefaults replaces non-positive bounds with the stock ones.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	pick := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}
	return Limits{
		MaxSourceFiles:    pick(l.MaxSourceFiles, d.MaxSourceFiles),
		MaxImportLines:    pick(l.MaxImportLines, d.MaxImportLines),
		MaxDefinitions:    pick(l.MaxDefinitions, d.MaxDefinitions),
		MaxDependencies:   pick(l.MaxDependencies, d.MaxDependencies),
		MaxModules:        pick(l.MaxModules, d.MaxModules),
		MaxClasses:        pick(l.MaxClasses, d.MaxClasses),
		MaxFunctions:      pick(l.MaxFunctions, d.MaxFunctions),
		MaxTests:          pick(l.MaxTests, d.MaxTests),
		MaxReasoningSteps: pick(l.MaxReasoningSteps, d.MaxReasoningSteps),
	}
}

// importScanLines is how far into a file imports are looked for.
const importScanLines = 30

// ContextInput is everything the generator knows when it builds a prompt.
type ContextInput struct {
	Task            string
	Kind            Kind
	Passages        []retrieval.Passage
	Evidence        *evidence.Bundle
	ReasoningSteps  []string
	ReflectionNotes []string

	// IncludeReflection adds the critique section when notes exist.
	IncludeReflection bool
}

// BuildContext renders the user-side context for a generation request.
//
// Description:
//
//	Sections appear in a fixed order: the query, retrieved passages,
//	repository data shaped by Kind, the most recent reasoning steps, and
//	the reflection critique. Empty sections are omitted. Every list is
//	cut to lim, with a "... and N more" line when something was dropped.
func BuildContext(in ContextInput, lim Limits) string {
	lim = lim.withDefaults()
	var sb strings.Builder
	fmt.Fprintf(&sb, "User Query: %s\n\n", in.Task)

	writePassages(&sb, in.Passages)
	writeRepository(&sb, in, lim)
	writeReasoning(&sb, in.ReasoningSteps, lim.MaxReasoningSteps)
	if in.IncludeReflection {
		writeReflection(&sb, in.ReflectionNotes)
	}
	return sb.String()
}

func writePassages(sb *strings.Builder, passages []retrieval.Passage) {
	if len(passages) == 0 {
		return
	}
	sb.WriteString("=== KNOWLEDGE BASE ===\n\n")
	for i, p := range passages {
		fmt.Fprintf(sb, "[Source %d] (%s):\n%s\n\n", i+1, p.Source, p.Content)
	}
	sb.WriteString("Answer from these passages where they apply.\n\n")
}

func writeRepository(sb *strings.Builder, in ContextInput, lim Limits) {
	b := in.Evidence
	if b == nil || (b.Structure == nil && len(b.Dependencies.Items) == 0 && len(b.Modules) == 0 && len(b.SourceFiles) == 0) {
		return
	}
	sb.WriteString("=== REPOSITORY DATA ===\n\n")

	if in.Kind == KindContent {
		writeOverview(sb, b)
		return
	}
	if IsCodeQuestion(in.Task) {
		writeSourceExcerpts(sb, b, in.Task, lim)
	}
	writeSummary(sb, b, lim)
	writeSymbols(sb, b, lim)
	writeVerification(sb, b)
}

// writeOverview is the high-level view used for prose about the project.
func writeOverview(sb *strings.Builder, b *evidence.Bundle) {
	items := b.TopLevelItems()
	tests := 0
	docs := 0
	for _, name := range items {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "test") {
			tests++
		}
		if strings.HasSuffix(lower, ".md") || strings.Contains(lower, "doc") {
			docs++
		}
	}
	sb.WriteString("Project Overview:\n")
	fmt.Fprintf(sb, "- %d top-level files and directories\n", len(items))
	fmt.Fprintf(sb, "- %d source files sampled\n", len(b.SourceFiles))
	fmt.Fprintf(sb, "- %d test entries, %d documentation entries at the root\n", tests, docs)

	if n := b.DependencyCount(); n > 0 {
		fmt.Fprintf(sb, "- %d dependencies", n)
		if key := keyLibraries(b.Dependencies.Items, 5); len(key) > 0 {
			fmt.Fprintf(sb, ", notably %s", strings.Join(key, ", "))
		}
		sb.WriteString("\n")
	}
	if len(b.Modules) > 0 {
		agents, testMods := 0, 0
		for _, m := range b.Modules {
			lower := strings.ToLower(m.Name)
			if strings.Contains(lower, "agent") {
				agents++
			}
			if strings.Contains(lower, "test") {
				testMods++
			}
		}
		fmt.Fprintf(sb, "- %d modules (%d agent, %d test)\n", len(b.Modules), agents, testMods)
	}
	sb.WriteString("\n")
}

// keyLibraries returns the direct dependencies, shortest path first so
// well-known roots lead.
func keyLibraries(deps []evidence.Dependency, limit int) []string {
	var names []string
	for _, d := range deps {
		if !d.Indirect {
			names = append(names, d.Name)
		}
	}
	sort.SliceStable(names, func(i, j int) bool { return len(names[i]) < len(names[j]) })
	if len(names) > limit {
		names = names[:limit]
	}
	return names
}

func writeSourceExcerpts(sb *strings.Builder, b *evidence.Bundle, task string, lim Limits) {
	files := RelevantFiles(b.SourceFiles, task)
	if len(files) == 0 {
		return
	}
	if len(files) > lim.MaxSourceFiles {
		files = files[:lim.MaxSourceFiles]
	}
	sb.WriteString("Source Excerpts:\n")
	for i, f := range files {
		fmt.Fprintf(sb, "\nFile %d: %s\n", i+1, f.Path)
		lines := strings.Split(f.Content, "\n")

		var imports []string
		inBlock := false
		for n, line := range lines {
			if n >= importScanLines {
				break
			}
			trimmed := strings.TrimSpace(line)
			switch {
			case inBlock && trimmed == ")":
				inBlock = false
			case inBlock && trimmed != "":
				imports = append(imports, fmt.Sprintf("Line %d: %s", n+1, trimmed))
			case trimmed == "import (":
				inBlock = true
			case strings.Contains(line, "import") || strings.Contains(line, "from"):
				imports = append(imports, fmt.Sprintf("Line %d: %s", n+1, trimmed))
			}
		}
		if len(imports) > 0 {
			sb.WriteString("Imports:\n")
			for _, l := range imports[:min(len(imports), lim.MaxImportLines)] {
				sb.WriteString(l + "\n")
			}
		}

		var defs []string
		for n, line := range lines {
			if isDefinition(strings.TrimSpace(line)) {
				defs = append(defs, fmt.Sprintf("Line %d: %s", n+1, strings.TrimSpace(line)))
				if len(defs) >= lim.MaxDefinitions {
					break
				}
			}
		}
		if len(defs) > 0 {
			sb.WriteString("Definitions:\n")
			for _, l := range defs {
				sb.WriteString(l + "\n")
			}
		}
		fmt.Fprintf(sb, "(Total: %d lines)\n", f.Lines)
	}
	sb.WriteString("\n")
}

func isDefinition(line string) bool {
	for _, prefix := range []string{"def ", "async def ", "class ", "func ", "type "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// RelevantFiles ranks readable source files by how well they match task.
//
// Description:
//
//	Query words of three or more letters score 20 when they appear in the
//	path and 10 when they appear in the content. Entry points and
//	orchestration files get a small bonus. Files scoring zero are dropped
//	unless nothing scores, in which case the files are returned in
//	collection order.
func RelevantFiles(files []evidence.SourceFile, task string) []evidence.SourceFile {
	words := queryWords(task)

	type scored struct {
		score int
		file  evidence.SourceFile
	}
	var ranked []scored
	var readable []evidence.SourceFile
	for _, f := range files {
		if f.Error != "" {
			continue
		}
		readable = append(readable, f)

		path := strings.ToLower(f.Path)
		content := strings.ToLower(f.Content)
		score := 0
		for _, w := range words {
			if strings.Contains(path, w) {
				score += 20
			}
			if strings.Contains(content, w) {
				score += 10
			}
		}
		base := strings.ToLower(filepath.Base(f.Path))
		if base == "main.go" || base == "main.py" || strings.Contains(base, "orchestrator") || strings.Contains(base, "runner") {
			score += 5
		}
		if score > 0 {
			ranked = append(ranked, scored{score, f})
		}
	}
	if len(ranked) == 0 {
		return readable
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]evidence.SourceFile, len(ranked))
	for i, r := range ranked {
		out[i] = r.file
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "where": true, "which": true,
	"what": true, "how": true, "show": true, "find": true, "file": true,
	"files": true, "class": true, "function": true, "used": true, "this": true,
	"that": true, "with": true, "does": true, "code": true, "locate": true,
	"implemented": true, "exactly": true, "specific": true, "import": true,
	"imported": true, "are": true, "you": true,
}

func queryWords(task string) []string {
	fields := strings.FieldsFunc(strings.ToLower(task), func(r rune) bool {
		return !(r == '_' || r == '.' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	var words []string
	seen := make(map[string]bool)
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if len(f) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		words = append(words, f)
	}
	return words
}

func writeSummary(sb *strings.Builder, b *evidence.Bundle, lim Limits) {
	sb.WriteString("Repository Summary:\n")
	if items := b.TopLevelItems(); len(items) > 0 {
		fmt.Fprintf(sb, "- Total items: %d\n", len(items))
		fmt.Fprintf(sb, "- Key files/directories: %s\n", strings.Join(items[:min(len(items), 10)], ", "))
	}
	if n := b.DependencyCount(); n > 0 {
		names := make([]string, 0, min(n, lim.MaxDependencies))
		for _, d := range b.Dependencies.Items[:min(n, lim.MaxDependencies)] {
			if d.Version != "" {
				names = append(names, d.Name+" "+d.Version)
			} else {
				names = append(names, d.Name)
			}
		}
		fmt.Fprintf(sb, "- Dependencies (%d, from %s): %s\n", n, strings.Join(b.Dependencies.Manifests, ", "), strings.Join(names, ", "))
	}
	if mods := b.ModuleNames(); len(mods) > 0 {
		fmt.Fprintf(sb, "- Modules (%d): %s\n", len(mods), strings.Join(mods[:min(len(mods), lim.MaxModules)], ", "))
	}
	sb.WriteString("\n")
}

func writeSymbols(sb *strings.Builder, b *evidence.Bundle, lim Limits) {
	st := b.Symbols
	if len(st.Classes) == 0 && len(st.Functions) == 0 && len(st.Tests) == 0 {
		return
	}
	sb.WriteString("Extracted Symbols (cite these, do not invent others):\n")
	fmt.Fprintf(sb, "- Files analyzed: %d, types/classes: %d, functions: %d, tests: %d\n\n",
		st.Summary.FilesAnalyzed, st.Summary.TotalClasses, st.Summary.TotalFunctions, st.Summary.TotalTests)

	writeSymbolList(sb, "Classes", st.Classes, lim.MaxClasses, func(s evidence.Symbol) string {
		return fmt.Sprintf("`%s` in %s:L%d", s.Name, s.File, s.Line)
	})
	writeSymbolList(sb, "Functions", st.Functions, lim.MaxFunctions, func(s evidence.Symbol) string {
		return fmt.Sprintf("`%s()` in %s:L%d", s.Name, s.File, s.Line)
	})
	writeSymbolList(sb, "Tests", st.Tests, lim.MaxTests, func(s evidence.Symbol) string {
		return fmt.Sprintf("%s::%s (L%d)", s.File, s.Name, s.Line)
	})
}

func writeSymbolList(sb *strings.Builder, title string, syms []evidence.Symbol, limit int, format func(evidence.Symbol) string) {
	if len(syms) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s:\n", title)
	for _, s := range syms[:min(len(syms), limit)] {
		sb.WriteString("  - " + format(s) + "\n")
	}
	if len(syms) > limit {
		fmt.Fprintf(sb, "  ... and %d more\n", len(syms)-limit)
	}
	sb.WriteString("\n")
}

func writeVerification(sb *strings.Builder, b *evidence.Bundle) {
	if len(b.Verification) == 0 {
		return
	}
	sb.WriteString("Verification Outputs (use these numbers, do not estimate):\n")
	fmt.Fprintf(sb, "- Test count: %d [evidence: test_collect]\n", b.TestCount())
	if pct, ok := b.CoveragePercent(); ok {
		fmt.Fprintf(sb, "- Coverage: %.1f%% [evidence: coverage_report]\n", pct)
	} else if out, ok := b.Verification[evidence.VerifyCoverageReport]; ok {
		fmt.Fprintf(sb, "- Coverage: Unknown (%s)\n", truncate(out, 80))
	}
	if n, ok := b.Verification[evidence.VerifyTestFilesCount]; ok {
		fmt.Fprintf(sb, "- Test files: %s [evidence: test_files_count]\n", n)
	}
	if out := b.Verification[evidence.VerifyTestCollect]; out != "" {
		fmt.Fprintf(sb, "\ntest_collect output:\n```\n%s\n```\n", truncate(out, 1000))
	}
	sb.WriteString("\n")
}

func writeReasoning(sb *strings.Builder, steps []string, limit int) {
	if len(steps) == 0 {
		return
	}
	if len(steps) > limit {
		steps = steps[len(steps)-limit:]
	}
	sb.WriteString("Reasoning Steps:\n")
	for _, s := range steps {
		sb.WriteString("- " + s + "\n")
	}
	sb.WriteString("\n")
}

func writeReflection(sb *strings.Builder, notes []string) {
	if len(notes) == 0 {
		return
	}
	sb.WriteString("=== SELF-REFLECTION CRITIQUE (must address) ===\n")
	for _, n := range notes {
		sb.WriteString(n + "\n")
	}
	sb.WriteString("Address the critique above in this response and fill any gaps it names.\n\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return Clip(s, n) + "..."
}

// Clip returns at most n bytes of s without splitting a UTF-8 sequence.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
