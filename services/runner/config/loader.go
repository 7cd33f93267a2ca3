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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads the YAML file at path on top of DefaultConfig and applies env overrides.
//
// Description:
//
//	A missing file is not an error: defaults are returned. An empty path
//	skips the file entirely. Fields absent from the file keep their defaults.
//
// Inputs:
//
//	path - Path to the YAML file, or "".
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil if the file exists but cannot be read or parsed, or if
//	        the result fails validation.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteDefault writes DefaultConfig as YAML to path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides fields from environment variables.
//
// Description:
//
//	getenv is injected so tests don't touch the process environment.
//	Malformed numeric values are ignored and the current value is kept.
//
// Inputs:
//
//	getenv - Lookup function, typically os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("TASKRUNNER_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := getenv("TASKRUNNER_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := getenv("TASKRUNNER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("SKIP_COVERAGE"); v != "" {
		c.Collector.SkipCoverage = strings.EqualFold(v, "true") || v == "1"
	}
	if v := getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := getenv("LLM_MODEL_NAME"); v != "" {
		c.LLM.Model = v
	}
	if v := getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.LLM.Temperature = float32(f)
		}
	}
	if v := getenv("LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LLM.MaxTokens = n
		}
	}
	if v := getenv("LLM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LLM.MaxRetries = n
		}
	}
	if v := getenv("WEAVIATE_HOST"); v != "" {
		c.Retrieval.Host = v
	}
	if v := getenv("WEAVIATE_SCHEME"); v != "" {
		c.Retrieval.Scheme = v
	}
}

// Validate checks the configuration for values the runtime cannot honor.
//
// Description:
//
//	Field rules live in the validate struct tags; the weight sum is a
//	struct-level rule on ScoringConfig. Problems are reported by their
//	YAML path, e.g. "cache.backend".
//
// Outputs:
//
//	error - Wraps ErrInvalidConfig with every problem found, or nil.
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}
