// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// DefaultSecretPath is where container deployments mount the API key.
const DefaultSecretPath = "/run/secrets/openai_api_key"

// DefaultModel is used when neither config nor OPENAI_MODEL names one.
const DefaultModel = "gpt-4o-mini"

var retryAfterRe = regexp.MustCompile(`(?i)(?:retry after|try again in)\s+(\d+(?:\.\d+)?)\s*(ms|s|seconds?)?`)

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	// APIKey overrides OPENAI_API_KEY and the secret file.
	APIKey string

	// Model overrides OPENAI_MODEL. Default: gpt-4o-mini
	Model string

	// BaseURL points at an OpenAI-compatible server.
	BaseURL string

	// Timeout bounds each HTTP request. Default: 90s
	Timeout time.Duration

	// SecretPath is read when no key is in the environment.
	SecretPath string
}

// OpenAIClient is a Completer backed by the chat completions API.
//
// Thread Safety: Safe for concurrent use.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient creates a client, resolving the key from config, the
// OPENAI_API_KEY variable, or the secret file in that order.
//
// Outputs:
//
//	*OpenAIClient - The client.
//	error - ErrNotConfigured if no key was found.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := cfg.SecretPath
		if secretPath == "" {
			secretPath = DefaultSecretPath
		}
		data, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY not set and %s unreadable", ErrNotConfigured, secretPath)
		}
		apiKey = strings.TrimSpace(string(data))
		logger.Info("read the OpenAI API key from secret file", slog.String("path", secretPath))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: empty API key", ErrNotConfigured)
	}

	model := cfg.Model
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = DefaultModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	logger.Info("initializing OpenAI client", slog.String("model", model))
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}, nil
}

// Model returns the configured model name.
func (o *OpenAIClient) Model() string {
	return o.model
}

// Complete sends one chat completion request.
//
// Outputs:
//
//	Response - Text of the first choice.
//	error - *RateLimitError, ErrConnectionFailed, ErrEmptyResponse, or the
//	        API error for anything else.
func (o *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, classifyError(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Response{}, ErrEmptyResponse
	}

	o.logger.Debug("received completion",
		slog.String("model", resp.Model),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return Response{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// classifyError maps client errors onto the package error taxonomy.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection", "timeout", "network", "eof"} {
		if strings.Contains(msg, hint) {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}
	return err
}

func classifyStatus(status int, message string, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: ParseRetryAfter(message), Err: err}
	case status >= 500:
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	default:
		return err
	}
}

// ParseRetryAfter extracts "retry after N seconds" or "try again in Ns"
// from an error message. Zero means no hint.
func ParseRetryAfter(message string) time.Duration {
	m := retryAfterRe.FindStringSubmatch(message)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	if strings.EqualFold(m[2], "ms") {
		return time.Duration(v * float64(time.Millisecond))
	}
	return time.Duration(v * float64(time.Second))
}
