// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the completion backend boundary.
//
// Callers depend on Completer. Backends report failures with the typed
// errors below so the retry layer can tell a rate limit from a dropped
// connection from a request that will never succeed.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request is one completion call.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Response is a successful completion.
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Completer produces text for a system/user prompt pair.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (Response, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

var (
	// ErrNotConfigured means no credentials were found.
	ErrNotConfigured = errors.New("completion backend not configured")

	// ErrConnectionFailed covers network errors, timeouts and 5xx responses.
	ErrConnectionFailed = errors.New("completion backend connection failed")

	// ErrEmptyResponse means the backend answered with no text.
	ErrEmptyResponse = errors.New("completion backend returned an empty response")
)

// RateLimitError is returned for HTTP 429.
type RateLimitError struct {
	// RetryAfter is the server's hint, or zero when none was given.
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}
