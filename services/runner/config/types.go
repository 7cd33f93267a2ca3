// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the taskrunner configuration model.
//
// Configuration is read from a YAML file (missing file means defaults) and
// then overridden by environment variables. Every section has defaults in
// DefaultConfig, so a zero-length file yields a working configuration.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	LLM        LLMConfig        `yaml:"llm"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Cache      CacheConfig      `yaml:"cache"`
	Collector  CollectorConfig  `yaml:"collector"`
	Runner     RunnerConfig     `yaml:"runner"`
	Reflection ReflectionConfig `yaml:"reflection"`
	Context    ContextConfig    `yaml:"context"`
	Project    ProjectConfig    `yaml:"project"`
	Scoring    ScoringConfig    `yaml:"scoring"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level"`          // debug, info, warn, error
	Dir   string `yaml:"dir,omitempty"`  // enables JSON file logging
	JSON  bool   `yaml:"json,omitempty"` // JSON on stderr
}

// LLMConfig configures the completion backend and its retry policy.
type LLMConfig struct {
	// Provider is "openai" or "none". "none" forces the template fallback.
	Provider    string  `yaml:"provider" validate:"oneof=openai none"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// MaxRetries bounds attempts for rate-limited calls.
	MaxRetries int `yaml:"max_retries" validate:"gte=1"`

	// ConnectionRetries bounds retries for transient connection failures.
	ConnectionRetries int `yaml:"connection_retries" validate:"gte=0"`

	InitialRetryDelay time.Duration `yaml:"initial_retry_delay"`
	MaxRetryWait      time.Duration `yaml:"max_retry_wait"`

	// RequestsPerSecond paces outgoing calls. 0 disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Timeout bounds a single completion call.
	Timeout time.Duration `yaml:"timeout"`
}

// RetrievalConfig configures the knowledge store.
type RetrievalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Host      string        `yaml:"host"`
	Scheme    string        `yaml:"scheme"`
	ClassName string        `yaml:"class_name"`
	TopK      int           `yaml:"top_k"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CacheConfig configures the evidence cache.
type CacheConfig struct {
	// Backend is "file" or "badger".
	Backend string        `yaml:"backend" validate:"oneof=file badger"`
	Dir     string        `yaml:"dir" validate:"required"`
	TTL     time.Duration `yaml:"ttl" validate:"gt=0"`

	// SampleLimit is how many source files feed the cache key mtime.
	SampleLimit int `yaml:"sample_limit" validate:"gte=1"`
}

// CommandConfig describes one verification command.
type CommandConfig struct {
	Name    string        `yaml:"name"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// CollectorConfig configures evidence collection.
type CollectorConfig struct {
	MaxDepth       int  `yaml:"max_depth"`
	MaxSourceFiles int  `yaml:"max_source_files"`
	MaxSymbolFiles int  `yaml:"max_symbol_files"`
	SkipCoverage   bool `yaml:"skip_coverage"`

	CountTimeout time.Duration `yaml:"count_timeout"`

	// Commands replaces the ecosystem defaults when non-empty.
	Commands []CommandConfig `yaml:"commands,omitempty"`
}

// RunnerConfig configures the orchestrator.
type RunnerConfig struct {
	MaxIterationsAnalyze int           `yaml:"max_iterations_analyze" validate:"gte=1"`
	MaxIterationsDefault int           `yaml:"max_iterations_default" validate:"gte=1"`
	RunTimeout           time.Duration `yaml:"run_timeout"`
}

// ReflectionConfig configures the reflection loop.
type ReflectionConfig struct {
	MaxGenerations int     `yaml:"max_generations" validate:"gte=1"`
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
}

// ContextConfig bounds the generation context.
type ContextConfig struct {
	MaxSourceFiles    int `yaml:"max_source_files"`
	MaxImportLines    int `yaml:"max_import_lines"`
	MaxDefinitions    int `yaml:"max_definitions"`
	MaxDependencies   int `yaml:"max_dependencies"`
	MaxModules        int `yaml:"max_modules"`
	MaxClasses        int `yaml:"max_classes"`
	MaxFunctions      int `yaml:"max_functions"`
	MaxTests          int `yaml:"max_tests"`
	MaxReasoningSteps int `yaml:"max_reasoning_steps"`
}

// ProjectConfig is descriptive metadata used by content templates.
type ProjectConfig struct {
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Organization    string   `yaml:"organization"`
	KeyTechnologies []string `yaml:"key_technologies"`
	Capabilities    []string `yaml:"capabilities"`
	Hashtags        []string `yaml:"hashtags"`
}

// ScoringConfig holds the overall-score weights keyed by metric name.
// Weights must be non-negative and sum to a positive value.
type ScoringConfig struct {
	Weights map[string]float64 `yaml:"weights" validate:"dive,gte=0"`
}

// DefaultConfig returns the built-in configuration.
//
// Outputs:
//
//	Config - Fully populated defaults.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			Temperature:       0.7,
			MaxTokens:         2000,
			MaxRetries:        3,
			ConnectionRetries: 2,
			InitialRetryDelay: 2 * time.Second,
			MaxRetryWait:      30 * time.Second,
			RequestsPerSecond: 2,
			Timeout:           90 * time.Second,
		},
		Retrieval: RetrievalConfig{
			Enabled:   true,
			Host:      "localhost:8080",
			Scheme:    "http",
			ClassName: "Document",
			TopK:      3,
			Timeout:   10 * time.Second,
		},
		Cache: CacheConfig{
			Backend:     "file",
			Dir:         defaultCacheDir(),
			TTL:         24 * time.Hour,
			SampleLimit: 100,
		},
		Collector: CollectorConfig{
			MaxDepth:       3,
			MaxSourceFiles: 20,
			MaxSymbolFiles: 50,
			CountTimeout:   5 * time.Second,
		},
		Runner: RunnerConfig{
			MaxIterationsAnalyze: 3,
			MaxIterationsDefault: 1,
			RunTimeout:           10 * time.Minute,
		},
		Reflection: ReflectionConfig{
			MaxGenerations: 2,
			Temperature:    0.3,
			MaxTokens:      500,
		},
		Context: ContextConfig{
			MaxSourceFiles:    3,
			MaxImportLines:    10,
			MaxDefinitions:    5,
			MaxDependencies:   20,
			MaxModules:        12,
			MaxClasses:        15,
			MaxFunctions:      20,
			MaxTests:          15,
			MaxReasoningSteps: 5,
		},
		Project: ProjectConfig{
			Name:         "taskrunner",
			Description:  "a task-execution engine with planning, evidence gathering and self-reflection",
			Organization: "Aleutian AI",
			KeyTechnologies: []string{
				"Go", "OpenAI", "Weaviate", "BadgerDB", "tree-sitter",
			},
			Capabilities: []string{
				"Stage-based orchestration with a bounded reflection loop",
				"Evidence collection with a content-addressed cache",
				"Multi-step reasoning before generation",
				"Self-critique with regenerate and re-plan paths",
				"Multi-metric evaluation of every run",
			},
			Hashtags: []string{"#golang", "#AIEngineering", "#Agents"},
		},
		Scoring: ScoringConfig{
			Weights: DefaultWeights(),
		},
	}
}

// DefaultWeights returns the overall-score weights.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"task_completion":    0.35,
		"reasoning_quality":  0.25,
		"tool_effectiveness": 0.15,
		"reflection_quality": 0.10,
		"output_quality":     0.15,
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "taskrunner")
	}
	return ".taskrunner_cache"
}
