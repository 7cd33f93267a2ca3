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
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	evidenceTagRe = regexp.MustCompile(`\[evidence:\s*[^\]]+\]`)
	lineRefRe     = regexp.MustCompile(`:\d+(?:-\d+)?`)
	typeRefRe     = regexp.MustCompile("`[A-Z][a-zA-Z]+`")
	funcRefRe     = regexp.MustCompile("`[A-Za-z_][A-Za-z0-9_]*\\(\\)`")
	goVersionRe   = regexp.MustCompile(`\bv\d+\.\d+`)

	// Test files are matched as path-like tokens so command names such as
	// "test_collect" in evidence tags do not count.
	testFileRe     = regexp.MustCompile(`(?i)(?:\btests/|\btest_\w+\.py\b|\w_test\.(?:go|py)\b)`)
	testCitationRe = regexp.MustCompile(`\.(?:go|py)::\w*[Tt]est\w*`)
)

var (
	postOpenings  = []string{"excited", "thrilled", "introducing", "proud"}
	postTechnical = []string{"features", "stack", "technical", "capabilities"}
	postClosings  = []string{"thank", "check out", "available", "repo"}
	postEmoji     = []string{"🤖", "🎯", "✨", "🚀", "💡", "📊", "🔍"}

	reportSections = []string{"overview", "architecture", "dependencies", "structure", "capabilities"}
	commandWords   = []string{"test_collect", "coverage", "pytest", "go test", "command"}
	hedgeWords     = []string{"likely", "suggests", "appears to", "may ", "probably", "seems to", "possibly"}
)

// outputQuality dispatches on the output type. An empty output scores 0
// whatever the type.
func outputQuality(v view, outputType string, techTerms []string) (float64, []string) {
	if v.output == "" {
		return 0, []string{markMissing + " no output to judge (0/100)"}
	}
	switch outputType {
	case OutputCodeQuestion:
		return codeQuestionQuality(v.output)
	case OutputContent:
		return contentQuality(v.output, techTerms)
	case OutputRepositoryAnalysis:
		return repositoryQuality(v.output)
	default:
		return generalQuality(v.output)
	}
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func hasUpper(s string) bool {
	return strings.IndexFunc(s, unicode.IsUpper) >= 0
}

func codeQuestionQuality(out string) (float64, []string) {
	var e explainer
	lower := strings.ToLower(out)

	if strings.Contains(out, "/") || strings.Contains(lower, ".go") || strings.Contains(lower, ".py") || strings.Contains(lower, "file:") {
		e.add(10, 10, "names files")
	} else {
		e.add(0, 10, "no file references")
	}
	if strings.Contains(lower, "line") && hasDigit(out) {
		e.add(10, 10, "cites line numbers")
	} else {
		e.add(0, 10, "no line numbers")
	}
	if strings.Contains(out, "`") || containsAny(lower, []string{"import", "func ", "def ", "class", "type "}) {
		e.add(10, 10, "quotes code")
	} else {
		e.add(0, 10, "no code excerpts")
	}
	if hasUpper(out) || strings.Contains(out, "()") {
		e.add(10, 10, "names identifiers")
	} else {
		e.add(0, 10, "no identifiers")
	}

	switch n := len(out); {
	case n >= 500:
		e.add(15, 15, "comprehensive length (%d chars)", n)
	case n >= 200:
		e.add(12, 15, "adequate length (%d chars)", n)
	case n >= 100:
		e.add(8, 15, "minimal length (%d chars)", n)
	default:
		e.add(0, 15, "too short (%d chars)", n)
	}
	if len(out) >= 200 && containsAny(lower, []string{"used in", "function", "purpose"}) {
		e.add(15, 15, "explains context")
	} else {
		e.add(0, 15, "no surrounding context")
	}

	_, refl := reflectionIncorporated(out)
	e.add(refl, 30, "reflection incorporated")
	return e.result()
}

func contentQuality(out string, techTerms []string) (float64, []string) {
	var e explainer
	lower := strings.ToLower(out)

	if containsAny(headBytes(lower, 200), postOpenings) {
		e.add(10, 10, "engaging opening")
	} else {
		e.add(0, 10, "no opening hook")
	}
	if containsAny(lower, postTechnical) {
		e.add(10, 10, "technical section")
	} else {
		e.add(0, 10, "no technical section")
	}
	if containsAny(tailBytes(lower, 200), postClosings) {
		e.add(10, 10, "call to action")
	} else {
		e.add(0, 10, "no closing call to action")
	}

	switch n := strings.Count(out, "#"); {
	case n >= 5:
		e.add(10, 10, "%d hashtags", n)
	case n >= 3:
		e.add(7, 10, "%d hashtags", n)
	case n >= 1:
		e.add(4, 10, "%d hashtag(s)", n)
	default:
		e.add(0, 10, "no hashtags")
	}
	switch n := countAny(out, postEmoji); {
	case n >= 2:
		e.add(10, 10, "%d kinds of emoji", n)
	case n == 1:
		e.add(5, 10, "one kind of emoji")
	default:
		e.add(0, 10, "no emoji")
	}

	lowered := make([]string, len(techTerms))
	for i, t := range techTerms {
		lowered[i] = strings.ToLower(t)
	}
	switch n := countAny(lower, lowered); {
	case n >= 4:
		e.add(20, 20, "%d technologies named", n)
	case n >= 2:
		e.add(15, 20, "%d technologies named", n)
	case n == 1:
		e.add(10, 20, "one technology named")
	default:
		e.add(0, 20, "no technologies named")
	}

	if hasDigit(out) {
		e.add(15, 15, "cites concrete numbers")
	} else {
		e.add(0, 15, "no concrete numbers")
	}
	if strings.Contains(lower, "p.s.") || strings.Contains(lower, "self-reflection") {
		e.add(15, 15, "shows self-reflection")
	} else {
		e.add(0, 15, "no self-reflection note")
	}
	return e.result()
}

func repositoryQuality(out string) (float64, []string) {
	var e explainer
	lower := strings.ToLower(out)

	switch n := len(evidenceTagRe.FindAllString(out, -1)); {
	case n >= 15:
		e.add(30, 30, "%d evidence tags", n)
	case n >= 10:
		e.add(25, 30, "%d evidence tags", n)
	case n >= 5:
		e.add(15, 30, "%d evidence tags", n)
	case n >= 1:
		e.add(5, 30, "%d evidence tag(s)", n)
	default:
		e.penalty(20, "no evidence tags")
	}

	found := countAny(lower, reportSections)
	e.add(float64(found*5), 25, "%d of %d report sections", found, len(reportSections))

	lineRefs := lineRefRe.MatchString(out)
	typeRefs, funcRefs := typeRefRe.MatchString(out), funcRefRe.MatchString(out)
	switch {
	case lineRefs && (typeRefs || funcRefs):
		e.add(10, 10, "symbols cited with line numbers")
	case typeRefs && funcRefs:
		e.add(7, 10, "types and functions cited without lines")
	case typeRefs || funcRefs:
		e.add(4, 10, "some symbols cited")
	default:
		e.add(0, 10, "no symbol references")
	}

	testSyntax := testCitationRe.MatchString(out)
	testFiles := testFileRe.MatchString(out)
	switch {
	case testSyntax && testFiles:
		e.add(10, 10, "tests cited as file::name")
	case testFiles:
		e.add(4, 10, "test files named")
	default:
		e.add(0, 10, "no test citations")
	}

	if strings.Contains(out, "==") || strings.Contains(out, "~=") || goVersionRe.MatchString(out) {
		e.add(5, 5, "dependency versions")
	} else {
		e.add(0, 5, "no dependency versions")
	}
	if containsAny(lower, commandWords) {
		e.add(5, 5, "verification commands cited")
	} else {
		e.add(0, 5, "no verification commands")
	}

	switch n := countAny(lower, hedgeWords); {
	case n >= 5:
		e.penalty(15, "%d hedging phrases", n)
	case n >= 3:
		e.penalty(10, "%d hedging phrases", n)
	case n >= 1:
		e.penalty(5, "%d hedging phrase(s)", n)
	}

	if strings.Contains(headBytes(out, 100), "#") || strings.Contains(out, "##") {
		e.add(7, 7, "markdown headings")
	} else {
		e.add(0, 7, "no headings")
	}
	if strings.Contains(out, "- ") || strings.Contains(out, "* ") || strings.Count(out, "\n") >= 10 {
		e.add(8, 8, "lists")
	} else {
		e.add(0, 8, "no lists")
	}

	_, refl := reflectionIncorporated(out)
	e.add(min(refl, 10), 10, "reflection section")
	return e.result()
}

func generalQuality(out string) (float64, []string) {
	var e explainer
	e.add(40, 40, "output present")
	switch n := len(out); {
	case n >= 100 && n <= 2000:
		e.add(30, 30, "appropriate length (%d chars)", n)
	case n >= 50:
		e.add(20, 30, "length %d chars", n)
	default:
		e.add(0, 30, "very short (%d chars)", n)
	}
	if strings.Count(out, "\n") >= 2 || strings.Contains(out, ".") {
		e.add(20, 20, "structured")
	} else {
		e.add(0, 20, "unstructured")
	}
	if ok, _ := reflectionIncorporated(out); ok {
		e.add(10, 10, "reflection section")
	} else {
		e.add(0, 10, "no reflection section")
	}
	return e.result()
}

// headBytes and tailBytes cut on rune boundaries, so a window may be a
// few bytes shorter than n.
func headBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
