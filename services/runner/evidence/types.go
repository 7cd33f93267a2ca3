// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidence gathers a repository evidence bundle.
//
// A Bundle is the structured result of analyzing a directory tree: its
// layout, a bounded set of source excerpts, declared dependencies, the
// package/module map, a symbol table and the output of verification
// commands. Bundles are values. Once produced they are never patched, only
// replaced by a newer collection.
package evidence

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Verification output keys.
const (
	VerifyTestCollect    = "test_collect"
	VerifyCoverageReport = "coverage_report"
	VerifyCoverageRun    = "coverage_run_output"
	VerifyTestFilesCount = "test_files_count"
)

// =============================================================================
// Bundle
// =============================================================================

// Bundle is an immutable snapshot of a repository.
type Bundle struct {
	Root         string            `json:"root"`
	CollectedAt  time.Time         `json:"collected_at"`
	Structure    *Node             `json:"structure,omitempty"`
	SourceFiles  []SourceFile      `json:"source_files,omitempty"`
	Dependencies Dependencies      `json:"dependencies"`
	Modules      []Module          `json:"modules,omitempty"`
	Symbols      SymbolTable       `json:"symbols"`
	Verification map[string]string `json:"verification,omitempty"`
}

// Node is one entry of the structure scan.
type Node struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"` // "file" or "directory"
	Size     int64   `json:"size,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// SourceFile is a bounded excerpt of one source file.
type SourceFile struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	Lines   int    `json:"lines"`
	Size    int64  `json:"size"`
	Error   string `json:"error,omitempty"`
}

// Dependencies lists declared dependencies and the manifests they came from.
type Dependencies struct {
	Manifests []string     `json:"manifests,omitempty"`
	Items     []Dependency `json:"items,omitempty"`
}

// Dependency is one manifest entry.
type Dependency struct {
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Operator string `json:"operator,omitempty"`
	Raw      string `json:"raw,omitempty"`
	Indirect bool   `json:"indirect,omitempty"`
	Manifest string `json:"manifest"`
}

// Module is a Go package directory or a Python package.
type Module struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Files    int    `json:"files"`
	Language string `json:"language"`
}

// Symbol kinds.
const (
	KindClass    = "class"
	KindFunction = "function"
	KindTest     = "test"
)

// Symbol is a named definition with its location.
type Symbol struct {
	Name string `json:"name"`
	File string `json:"file"`
	Line int    `json:"line"`
	Kind string `json:"kind"`
}

// FileSymbols lists the definitions found in one file.
type FileSymbols struct {
	Path      string   `json:"path"`
	Language  string   `json:"language"`
	Classes   []string `json:"classes,omitempty"`
	Functions []string `json:"functions,omitempty"`
}

// SymbolSummary aggregates the symbol table.
type SymbolSummary struct {
	FilesAnalyzed  int `json:"files_analyzed"`
	TotalClasses   int `json:"total_classes"`
	TotalFunctions int `json:"total_functions"`
	TotalTests     int `json:"total_tests"`
}

// SymbolTable is the result of symbol extraction.
type SymbolTable struct {
	Files     []FileSymbols `json:"files,omitempty"`
	Classes   []Symbol      `json:"classes,omitempty"`
	Functions []Symbol      `json:"functions,omitempty"`
	Tests     []Symbol      `json:"tests,omitempty"`
	Summary   SymbolSummary `json:"summary"`
}

// =============================================================================
// Derived Values
// =============================================================================

var (
	pytestCollectedRe = regexp.MustCompile(`(\d+) tests? collected`)
	goTestNameRe      = regexp.MustCompile(`^(Test|Example|Fuzz)\w*$`)
	pyTotalCoverageRe = regexp.MustCompile(`(?m)^TOTAL\s+.*?(\d+(?:\.\d+)?)%`)
	goCoverageRe      = regexp.MustCompile(`coverage: (\d+(?:\.\d+)?)% of statements`)
)

// HasStructure reports whether the structure scan produced a tree.
func (b *Bundle) HasStructure() bool {
	return b != nil && b.Structure != nil
}

// HasDependencies reports whether any dependency was parsed.
func (b *Bundle) HasDependencies() bool {
	return b != nil && len(b.Dependencies.Items) > 0
}

// DependencyCount returns the number of parsed dependencies.
func (b *Bundle) DependencyCount() int {
	if b == nil {
		return 0
	}
	return len(b.Dependencies.Items)
}

// TopLevelItems returns the names of the root's direct children.
func (b *Bundle) TopLevelItems() []string {
	if !b.HasStructure() {
		return nil
	}
	names := make([]string, 0, len(b.Structure.Children))
	for _, child := range b.Structure.Children {
		names = append(names, child.Name)
	}
	return names
}

// TestCount returns the number of tests the verification output reports.
//
// Description:
//
//	Prefers the pytest "N tests collected" line, then "::" node IDs, then
//	bare Go test names from `go test -list`. Falls back to the symbol
//	table when the verification output carries nothing countable.
func (b *Bundle) TestCount() int {
	if b == nil {
		return 0
	}
	out := b.Verification[VerifyTestCollect]
	if m := pytestCollectedRe.FindStringSubmatch(out); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}

	nodeIDs, goTests := 0, 0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "::"):
			nodeIDs++
		case goTestNameRe.MatchString(line):
			goTests++
		}
	}
	if nodeIDs > 0 {
		return nodeIDs
	}
	if goTests > 0 {
		return goTests
	}
	return len(b.Symbols.Tests)
}

// CoveragePercent parses total coverage from the verification output.
//
// Outputs:
//
//	float64 - The coverage percentage. For Go this is the mean over packages.
//	bool - False if no coverage figure was found.
func (b *Bundle) CoveragePercent() (float64, bool) {
	if b == nil {
		return 0, false
	}
	out := b.Verification[VerifyCoverageReport]
	if m := pyTotalCoverageRe.FindStringSubmatch(out); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}

	matches := goCoverageRe.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return 0, false
	}
	total := 0.0
	for _, m := range matches {
		v, _ := strconv.ParseFloat(m[1], 64)
		total += v
	}
	return total / float64(len(matches)), true
}

// ModuleNames returns the module names in collection order.
func (b *Bundle) ModuleNames() []string {
	if b == nil {
		return nil
	}
	names := make([]string, 0, len(b.Modules))
	for _, m := range b.Modules {
		names = append(names, m.Name)
	}
	return names
}
