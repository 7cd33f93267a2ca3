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
	"bytes"
	"sort"
	"strings"
	"sync"
	"text/template"
)

// Project is descriptive metadata about the system being written about.
type Project struct {
	Name         string
	Description  string
	Organization string
	Technologies []string
	Capabilities []string
	Hashtags     []string
}

// Summary is the input to a generation template.
type Summary struct {
	Task    string
	Context string
	Project Project
}

// Pair is a rendered system and user prompt.
type Pair struct {
	System string
	User   string
}

// Template renders the prompts for one template kind.
type Template func(hasReflection bool, s Summary) Pair

// Section headings the reflection-aware templates ask for. The evaluator
// looks for the same phrases.
const (
	ReflectionImprovedHeading = "How Self-Reflection Improved This Answer"
	ReflectionImpactHeading   = "Self-Reflection Impact"
)

// =============================================================================
// System prompt templates
// =============================================================================

type systemData struct {
	HasReflection bool
	Project       Project
	Improved      string
	Impact        string
}

var funcs = template.FuncMap{"join": strings.Join}

var codeQuestionSystem = template.Must(template.New("code_question").Funcs(funcs).Parse(
	`You answer one specific question about a codebase.

Rules:
1. Answer exactly what was asked. Do not write a full repository report.
2. Work only from the Source Excerpts and Extracted Symbols you are given.
3. Name concrete files, line numbers, imports and identifiers.
{{- if .HasReflection}}
4. Finish with a section "### {{.Improved}}" listing two or three concrete
   changes you made in response to the critique.
{{- end}}

Shape of a good answer to "Where is X used?":

X is used in two files:

1. **internal/run/runner.go**
   - Line 14: ` + "`import \"example.com/x\"`" + `
   - Called from ` + "`Runner.Start()`" + ` at line 52

2. **internal/run/runner_test.go**
   - Line 9: ` + "`import \"example.com/x\"`" + `
`))

var analyzeRepoSystem = template.Must(template.New("analyze_repo").Funcs(funcs).Parse(
	`You write evidence-only repository analyses. Every factual claim must be
traceable to the data you were given.

Hard rules:
1. Tag every claim with [evidence: path:line] or [evidence: command_name].
2. Mention only files, symbols and dependencies that appear in the data.
3. Take test counts and coverage from the verification outputs. When a
   figure is missing write "Unknown - not verified".
4. Do not hedge. Avoid "likely", "probably", "appears to", "suggests", "may".
5. Cite line numbers for types and functions, for example
   [evidence: internal/run/runner.go:45].

Report layout:

## Overview
Five to eight bullets on what the repository does, each with an evidence tag.

## Structure
The top-level layout exactly as provided.

## Architecture
Key modules, entry points, types and functions with file:line references.

## Dependencies
Exact names and versions from the manifests.

## Capabilities
Each capability backed by a symbol and, where one exists, a test cited as
file::TestName.

## Quality Signals
Test count, test files and coverage, each tagged with the command it came from.

## Gaps
Anything you could not verify.
{{- if .HasReflection}}

## {{.Improved}}
Two or three concrete improvements made in response to the critique, each
with the evidence you added.
{{- end}}`))

var contentSystem = template.Must(template.New("content").Funcs(funcs).Parse(
	`You write a short professional social media post about an engineering project.
{{- with .Project}}

Project: {{if .Name}}{{.Name}}{{else}}the project{{end}}{{if .Organization}}, built for {{.Organization}}{{end}}.
{{- if .Description}}
Summary: {{.Description}}
{{- end}}
{{- if .Capabilities}}
Capabilities: {{join .Capabilities "; "}}
{{- end}}
{{- if .Technologies}}
Technologies: {{join .Technologies ", "}}
{{- end}}
{{- if .Hashtags}}
Hashtags to use: {{join .Hashtags " "}}
{{- end}}
{{- end}}

Structure:
1. Open with an enthusiastic hook that introduces the project.
2. Describe two to four key features using the capabilities above and any
   numbers from the repository data.
3. Name the technical stack.
4. Close by thanking the team and pointing readers to the repository.
5. End with the hashtags.
{{- if .HasReflection}}
6. Add a one-line P.S. explaining what the self-reflection critique asked
   for and how this version addressed it.
{{- end}}

Tone: professional and enthusiastic. Five to eight sentences plus hashtags.
A few tasteful emoji are fine.`))

var explainSystem = template.Must(template.New("explain").Funcs(funcs).Parse(
	`You explain technical systems clearly.

1. Start with a one-sentence definition.
2. Break the system into its components.
3. Show how the components work together.
4. Use a short example where it helps.
Use headings and bullet points.
{{- if .HasReflection}}
End with "### {{.Impact}}" describing one or two things you changed in
response to the critique.
{{- end}}`))

var generalSystem = template.Must(template.New("general").Funcs(funcs).Parse(
	`You are a helpful assistant. Answer the question directly and accurately.
- For arithmetic, give the result and the calculation.
- When asked how you know something about a repository, say the answer
  came from the repository analysis tools.
- Keep answers focused on what was asked.
{{- if .HasReflection}}
- End with "### {{.Impact}}" explaining one or two ways the critique
  changed this answer.
{{- end}}`))

func render(t *template.Template, hasReflection bool, p Project) string {
	var buf bytes.Buffer
	data := systemData{
		HasReflection: hasReflection,
		Project:       p,
		Improved:      ReflectionImprovedHeading,
		Impact:        ReflectionImpactHeading,
	}
	// The templates are static and their data is plain fields, so Execute
	// cannot fail.
	_ = t.Execute(&buf, data)
	return buf.String()
}

func userPrompt(s Summary, closing string) string {
	return s.Context + "\n" + closing
}

// CodeQuestionTemplate answers a question about specific code locations.
func CodeQuestionTemplate(hasReflection bool, s Summary) Pair {
	return Pair{
		System: render(codeQuestionSystem, hasReflection, s.Project),
		User:   userPrompt(s, "Answer the question above using the excerpts and symbols."),
	}
}

// AnalyzeRepoTemplate produces the evidence-tagged repository report.
func AnalyzeRepoTemplate(hasReflection bool, s Summary) Pair {
	return Pair{
		System: render(analyzeRepoSystem, hasReflection, s.Project),
		User:   userPrompt(s, "Write the repository analysis. Tag every claim with its evidence."),
	}
}

// ContentTemplate produces a social media post about the project.
func ContentTemplate(hasReflection bool, s Summary) Pair {
	return Pair{
		System: render(contentSystem, hasReflection, s.Project),
		User:   userPrompt(s, "Write the post."),
	}
}

// ExplainTemplate produces a structured explanation.
func ExplainTemplate(hasReflection bool, s Summary) Pair {
	return Pair{
		System: render(explainSystem, hasReflection, s.Project),
		User:   userPrompt(s, "Explain."),
	}
}

// GeneralTemplate answers anything else.
func GeneralTemplate(hasReflection bool, s Summary) Pair {
	return Pair{
		System: render(generalSystem, hasReflection, s.Project),
		User:   userPrompt(s, "Respond to the query."),
	}
}

// =============================================================================
// Registry
// =============================================================================

// Registry maps template kinds to templates.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[Kind]Template
}

// NewRegistry returns a registry holding the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[Kind]Template)}
	r.Register(KindCodeQuestion, CodeQuestionTemplate)
	r.Register(KindAnalyzeRepo, AnalyzeRepoTemplate)
	r.Register(KindContent, ContentTemplate)
	r.Register(KindExplain, ExplainTemplate)
	r.Register(KindGeneral, GeneralTemplate)
	return r
}

// Register sets the template for kind. A nil template is ignored.
func (r *Registry) Register(kind Kind, t Template) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[kind] = t
}

// Get returns the template for kind, falling back to the general one.
func (r *Registry) Get(kind Kind) Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.templates[kind]; ok {
		return t
	}
	if t, ok := r.templates[KindGeneral]; ok {
		return t
	}
	return GeneralTemplate
}

// Render looks up kind and renders it.
func (r *Registry) Render(kind Kind, hasReflection bool, s Summary) Pair {
	return r.Get(kind)(hasReflection, s)
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.templates))
	for k := range r.templates {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
