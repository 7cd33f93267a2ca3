// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fallback

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

var (
	// ErrNotArithmetic means the text holds no evaluable expression.
	ErrNotArithmetic = errors.New("no arithmetic expression")

	// ErrDivisionByZero is returned for x/0 and x%0.
	ErrDivisionByZero = errors.New("division by zero")
)

// exprRe finds runs of numbers joined by operators, e.g. "2 + 3*(4-1)".
// Only digits, operators and parentheses can match, so nothing reaching
// the evaluator can name a variable or call a builtin.
var exprRe = regexp.MustCompile(`[-(]*\s*\d+(?:\.\d+)?(?:\s*[)]*\s*[-+*/^%]\s*[(]*\s*-?\d+(?:\.\d+)?\s*[)]*)+`)

var zeroDivisorRe = regexp.MustCompile(`[/%]\s*\(?\s*0+(?:\.0+)?\s*\)?(?:[^\d.]|$)`)

// ExtractExpression returns the first arithmetic expression in text.
func ExtractExpression(text string) (string, bool) {
	m := strings.TrimSpace(exprRe.FindString(text))
	if m == "" {
		return "", false
	}
	// Drop parentheses the match left unbalanced at either end.
	open := strings.Count(m, "(") - strings.Count(m, ")")
	for ; open > 0 && strings.HasPrefix(m, "("); open-- {
		m = strings.TrimSpace(strings.TrimPrefix(m, "("))
	}
	for ; open < 0 && strings.HasSuffix(m, ")"); open++ {
		m = strings.TrimSpace(strings.TrimSuffix(m, ")"))
	}
	return m, true
}

// Evaluate computes an arithmetic expression of + - * / % ^ and
// parentheses. ^ is exponentiation and binds tighter than * and /.
func Evaluate(input string) (float64, error) {
	if zeroDivisorRe.MatchString(input) {
		return 0, ErrDivisionByZero
	}
	program, err := expr.Compile(input, expr.AsFloat64())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotArithmetic, err)
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", input, err)
	}
	v, ok := out.(float64)
	if !ok {
		return 0, ErrNotArithmetic
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, ErrDivisionByZero
	}
	return v, nil
}

// FormatNumber prints integers without a fractional part.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SolveArithmetic finds and evaluates an expression in text.
//
// Outputs:
//
//	string - The expression as found.
//	float64 - Its value.
//	error - ErrNotArithmetic when text holds none, or an evaluation error.
func SolveArithmetic(text string) (string, float64, error) {
	found, ok := ExtractExpression(text)
	if !ok {
		return "", 0, ErrNotArithmetic
	}
	v, err := Evaluate(found)
	if err != nil {
		return found, 0, err
	}
	return found, v, nil
}
