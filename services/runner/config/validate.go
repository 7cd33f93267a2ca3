// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// configValidate reports fields by their yaml names and carries the
// struct-level rules.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
	configValidate.RegisterTagNameFunc(yamlName)
	configValidate.RegisterStructValidation(validateWeightSum, ScoringConfig{})
}

func yamlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// validateWeightSum rejects weight sets that cannot normalize an overall score.
func validateWeightSum(sl validator.StructLevel) {
	s := sl.Current().Interface().(ScoringConfig)
	total := 0.0
	for _, w := range s.Weights {
		total += w
	}
	if total <= 0 {
		sl.ReportError(s.Weights, "weights", "Weights", "positive_sum", "")
	}
}

// describe renders a field error as "<yaml path> <problem>".
func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s %q must be one of %s", path, fmt.Sprint(fe.Value()), fe.Param())
	case "required":
		return path + " is required"
	case "gte":
		return fmt.Sprintf("%s must be >= %s", path, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", path, fe.Param())
	case "positive_sum":
		return path + " must sum to a positive value"
	}
	return fmt.Sprintf("%s failed %s", path, fe.Tag())
}
