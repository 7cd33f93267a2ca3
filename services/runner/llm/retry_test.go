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
	"net/http"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns queued results in order and counts calls.
type scripted struct {
	results []error
	text    string
	calls   int
}

func (s *scripted) Complete(_ context.Context, _ Request) (Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.results) && s.results[i] != nil {
		return Response{}, s.results[i]
	}
	return Response{Text: s.text}, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func newTestRetrier(inner Completer, rec *sleepRecorder) *RetryingCompleter {
	return NewRetryingCompleter(inner, DefaultRetryPolicy(), WithSleeper(rec.sleep))
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	inner := &scripted{text: "hello"}
	rec := &sleepRecorder{}
	resp, err := newTestRetrier(inner, rec).Complete(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 1, inner.calls)
	assert.Empty(t, rec.waits)
}

func TestRetry_RateLimitBackoffSchedule(t *testing.T) {
	inner := &scripted{
		results: []error{
			&RateLimitError{RetryAfter: 5 * time.Second},
			&RateLimitError{},
		},
		text: "ok",
	}
	rec := &sleepRecorder{}
	resp, err := newTestRetrier(inner, rec).Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, inner.calls)
	// 5s × 1, then the 2s default × 2.
	assert.Equal(t, []time.Duration{5 * time.Second, 4 * time.Second}, rec.waits)
}

func TestRetry_RateLimitWaitCapped(t *testing.T) {
	inner := &scripted{
		results: []error{&RateLimitError{RetryAfter: 45 * time.Second}},
		text:    "ok",
	}
	rec := &sleepRecorder{}
	_, err := newTestRetrier(inner, rec).Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second}, rec.waits)
}

func TestRetry_RateLimitExhausted(t *testing.T) {
	rl := &RateLimitError{RetryAfter: time.Second}
	inner := &scripted{results: []error{rl, rl, rl, rl}}
	rec := &sleepRecorder{}
	_, err := newTestRetrier(inner, rec).Complete(context.Background(), Request{})

	var got *RateLimitError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 3, inner.calls)
	assert.Len(t, rec.waits, 2)
}

func TestRetry_ConnectionFailureBounded(t *testing.T) {
	conn := fmt.Errorf("%w: dial tcp: refused", ErrConnectionFailed)
	inner := &scripted{results: []error{conn, conn, conn, conn}}
	rec := &sleepRecorder{}
	_, err := newTestRetrier(inner, rec).Complete(context.Background(), Request{})

	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, 3, inner.calls, "one attempt plus two connection retries")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.waits)
}

func TestRetry_NonRetryableErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"empty response", ErrEmptyResponse},
		{"bad request", errors.New("invalid request")},
		{"not configured", ErrNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &scripted{results: []error{tt.err}}
			rec := &sleepRecorder{}
			_, err := newTestRetrier(inner, rec).Complete(context.Background(), Request{})
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, inner.calls)
			assert.Empty(t, rec.waits)
		})
	}
}

func TestRetry_BlankTextIsEmptyResponse(t *testing.T) {
	inner := &scripted{text: "  \n"}
	_, err := newTestRetrier(inner, &sleepRecorder{}).Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, 1, inner.calls)
}

func TestRetry_CanceledDuringWait(t *testing.T) {
	inner := &scripted{results: []error{&RateLimitError{}}}
	r := NewRetryingCompleter(inner, DefaultRetryPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Complete(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_RateLimiterPaces(t *testing.T) {
	inner := &scripted{text: "ok"}
	r := NewRetryingCompleter(inner, DefaultRetryPolicy(), WithRateLimit(20))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := r.Complete(context.Background(), Request{})
		require.NoError(t, err)
	}
	// Burst of one, then 50ms per token.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

// =============================================================================
// Error classification
// =============================================================================

func TestClassifyError(t *testing.T) {
	rateLimited := classifyError(&openai.APIError{
		HTTPStatusCode: http.StatusTooManyRequests,
		Message:        "Rate limit reached. Please try again in 7s.",
	})
	var rl *RateLimitError
	require.ErrorAs(t, rateLimited, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)

	assert.ErrorIs(t, classifyError(&openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}), ErrConnectionFailed)
	assert.ErrorIs(t, classifyError(context.DeadlineExceeded), ErrConnectionFailed)
	assert.ErrorIs(t, classifyError(errors.New("read: connection reset by peer")), ErrConnectionFailed)

	plain := &openai.APIError{HTTPStatusCode: 400, Message: "bad"}
	got := classifyError(plain)
	assert.NotErrorIs(t, got, ErrConnectionFailed)
	assert.False(t, errors.As(got, &rl))
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		msg  string
		want time.Duration
	}{
		{"Please retry after 12 seconds", 12 * time.Second},
		{"try again in 1.5s", 1500 * time.Millisecond},
		{"try again in 250ms", 250 * time.Millisecond},
		{"slow down", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRetryAfter(tt.msg), tt.msg)
	}
}

func TestNewOpenAIClient_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIClient(OpenAIConfig{SecretPath: t.TempDir() + "/missing"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewOpenAIClient_ModelResolution(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "")
	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())

	t.Setenv("OPENAI_MODEL", "gpt-4.1")
	c, err = NewOpenAIClient(OpenAIConfig{APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", c.Model())
}
