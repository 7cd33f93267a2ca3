// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/taskrunner/pkg/logging"
	"github.com/AleutianAI/taskrunner/services/runner/agent"
	"github.com/AleutianAI/taskrunner/services/runner/cache"
	"github.com/AleutianAI/taskrunner/services/runner/config"
	"github.com/AleutianAI/taskrunner/services/runner/eval"
	"github.com/AleutianAI/taskrunner/services/runner/evidence"
	"github.com/AleutianAI/taskrunner/services/runner/llm"
	"github.com/AleutianAI/taskrunner/services/runner/phases"
	"github.com/AleutianAI/taskrunner/services/runner/prompts"
	"github.com/AleutianAI/taskrunner/services/runner/retrieval"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// app holds the collaborators one command invocation needs.
//
// Backends that cannot be reached or are not configured are left nil and
// the pipeline takes its deterministic path instead. Only a broken cache
// directory or logger setup fails construction.
type app struct {
	cfg    config.Config
	log    *logging.Logger
	logger *slog.Logger

	store     cache.Store
	collector *evidence.Collector
	completer llm.Completer
	retriever retrieval.Retriever
	weaviate  *weaviate.Client
}

func newApp(cfg config.Config) (*app, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "taskrunner",
		JSON:    cfg.Log.JSON,
	})
	a := &app{cfg: cfg, log: log, logger: log.Slog()}

	store, err := cache.Open(cache.Config{
		Backend:     cfg.Cache.Backend,
		Dir:         cfg.Cache.Dir,
		TTL:         cfg.Cache.TTL,
		SampleLimit: cfg.Cache.SampleLimit,
	}, cache.WithLogger(a.logger))
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("open evidence cache: %w", err)
	}
	a.store = store
	a.collector = evidence.NewCollector(collectorConfig(cfg.Collector),
		evidence.WithStore(store),
		evidence.WithLogger(a.logger),
	)

	a.completer = a.newCompleter()
	a.retriever, a.weaviate = a.newRetriever()
	return a, nil
}

// newCompleter returns nil, never a typed nil, when no backend is usable.
func (a *app) newCompleter() llm.Completer {
	c := a.cfg.LLM
	if c.Provider == "none" {
		a.logger.Info("completion backend disabled, using templates")
		return nil
	}
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		Model:   c.Model,
		BaseURL: c.BaseURL,
		Timeout: c.Timeout,
	}, a.logger)
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			a.logger.Warn("completion backend not configured, using templates", slog.String("reason", err.Error()))
		} else {
			a.logger.Error("completion backend unavailable", slog.String("error", err.Error()))
		}
		return nil
	}
	return llm.NewRetryingCompleter(client, llm.RetryPolicy{
		MaxAttempts:       c.MaxRetries,
		ConnectionRetries: c.ConnectionRetries,
		InitialDelay:      c.InitialRetryDelay,
		MaxWait:           c.MaxRetryWait,
	}, llm.WithRateLimit(c.RequestsPerSecond), llm.WithRetryLogger(a.logger))
}

func (a *app) newRetriever() (retrieval.Retriever, *weaviate.Client) {
	c := a.cfg.Retrieval
	if !c.Enabled {
		return nil, nil
	}
	rc := retrievalConfig(c)
	client, err := retrieval.NewClient(rc)
	if err != nil {
		a.logger.Warn("knowledge store unavailable", slog.String("host", c.Host), slog.String("error", err.Error()))
		return nil, nil
	}
	return retrieval.NewWeaviateRetriever(client, rc, a.logger), client
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close evidence cache", slog.String("error", err.Error()))
		}
	}
	a.log.Close()
}

// runner builds a TaskRunner whose collect phase analyzes root.
func (a *app) runner(root string) *agent.TaskRunner {
	reg := agent.NewStageRegistry()
	var source phases.EvidenceSource
	if a.collector != nil {
		source = a.collector
	}
	phases.Register(reg, phases.Dependencies{
		Collector:  source,
		Root:       root,
		Retriever:  a.retriever,
		RetrieveK:  a.cfg.Retrieval.TopK,
		Completer:  a.completer,
		Project:    projectOf(a.cfg.Project),
		Limits:     prompts.Limits(a.cfg.Context),
		Generation: phases.Sampling{Temperature: a.cfg.LLM.Temperature, MaxTokens: a.cfg.LLM.MaxTokens},
		Reflection: phases.Sampling{Temperature: a.cfg.Reflection.Temperature, MaxTokens: a.cfg.Reflection.MaxTokens},
		Scoring:    eval.Options{Weights: a.cfg.Scoring.Weights},
		Logger:     a.logger,
	})
	return agent.NewTaskRunner(reg,
		agent.WithConfig(agent.Config{
			MaxIterationsAnalyze: a.cfg.Runner.MaxIterationsAnalyze,
			MaxIterationsDefault: a.cfg.Runner.MaxIterationsDefault,
			MaxGenerations:       a.cfg.Reflection.MaxGenerations,
			RunTimeout:           a.cfg.Runner.RunTimeout,
		}),
		agent.WithLogger(a.logger),
	)
}

// cachedEvidence returns the fresh cached bundle for root, if any.
func (a *app) cachedEvidence(ctx context.Context, root string) *evidence.Bundle {
	if a.store == nil {
		return nil
	}
	b, ok := a.store.Get(ctx, root)
	if !ok {
		return nil
	}
	return &b
}

func collectorConfig(c config.CollectorConfig) evidence.Config {
	cfg := evidence.Config{
		MaxDepth:       c.MaxDepth,
		MaxSourceFiles: c.MaxSourceFiles,
		MaxSymbolFiles: c.MaxSymbolFiles,
		SkipCoverage:   c.SkipCoverage,
		CountTimeout:   c.CountTimeout,
	}
	for _, cmd := range c.Commands {
		cfg.Commands = append(cfg.Commands, evidence.Command{Name: cmd.Name, Args: cmd.Args, Timeout: cmd.Timeout})
	}
	return cfg
}

func retrievalConfig(c config.RetrievalConfig) retrieval.Config {
	return retrieval.Config{Host: c.Host, Scheme: c.Scheme, ClassName: c.ClassName, Timeout: c.Timeout}
}

func projectOf(p config.ProjectConfig) prompts.Project {
	return prompts.Project{
		Name:         p.Name,
		Description:  p.Description,
		Organization: p.Organization,
		Technologies: p.KeyTechnologies,
		Capabilities: p.Capabilities,
		Hashtags:     p.Hashtags,
	}
}
