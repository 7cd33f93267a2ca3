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
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("aleutian.runner.llm")

var (
	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_completions_total",
		Help: "Completion calls by final result",
	}, []string{"result"})

	completionRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_completion_retries_total",
		Help: "Completion retries by reason",
	}, []string{"reason"})

	completionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_completion_duration_seconds",
		Help:    "Completion latency including retries",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// RetryPolicy bounds retries.
type RetryPolicy struct {
	// MaxAttempts bounds total attempts when rate limited. Default: 3
	MaxAttempts int

	// ConnectionRetries bounds retries after ErrConnectionFailed. Default: 2
	ConnectionRetries int

	// InitialDelay is the base wait, used when no Retry-After hint exists. Default: 2s
	InitialDelay time.Duration

	// MaxWait caps any single wait. Default: 30s
	MaxWait time.Duration
}

// DefaultRetryPolicy returns the standard policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		ConnectionRetries: 2,
		InitialDelay:      2 * time.Second,
		MaxWait:           30 * time.Second,
	}
}

// RetryingCompleter wraps a Completer with bounded retry and pacing.
//
// Description:
//
//	Rate-limited calls wait (RetryAfter or InitialDelay) × (attempt+1),
//	capped at MaxWait, up to MaxAttempts total. Connection failures wait
//	InitialDelay × (retry+1) for at most ConnectionRetries retries. Empty
//	responses and every other error return immediately. A rate.Limiter,
//	when set, paces every attempt.
//
// Thread Safety: Safe for concurrent use if the wrapped Completer is.
type RetryingCompleter struct {
	inner   Completer
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// RetryOption configures a RetryingCompleter.
type RetryOption func(*RetryingCompleter)

// WithRateLimit paces calls to rps requests per second. rps <= 0 disables pacing.
func WithRateLimit(rps float64) RetryOption {
	return func(r *RetryingCompleter) {
		if rps > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetryLogger sets the logger. Default: slog.Default()
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(r *RetryingCompleter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSleeper replaces the wait function, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *RetryingCompleter) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRetryingCompleter wraps inner. Zero policy fields take defaults.
func NewRetryingCompleter(inner Completer, policy RetryPolicy, opts ...RetryOption) *RetryingCompleter {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.ConnectionRetries < 0 {
		policy.ConnectionRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = def.InitialDelay
	}
	if policy.MaxWait <= 0 {
		policy.MaxWait = def.MaxWait
	}

	r := &RetryingCompleter{
		inner:  inner,
		policy: policy,
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Complete calls the wrapped Completer, retrying per the policy.
func (r *RetryingCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete",
		trace.WithAttributes(attribute.Int("max_tokens", req.MaxTokens)),
	)
	defer span.End()
	start := time.Now()
	defer func() { completionDuration.Observe(time.Since(start).Seconds()) }()

	rateAttempt, connRetries := 0, 0
	for {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return r.fail(span, "canceled", err)
			}
		}

		resp, err := r.inner.Complete(ctx, req)
		if err == nil && strings.TrimSpace(resp.Text) == "" {
			err = ErrEmptyResponse
		}
		if err == nil {
			completionsTotal.WithLabelValues("ok").Inc()
			span.SetAttributes(attribute.Int("retries", rateAttempt+connRetries))
			return resp, nil
		}

		var wait time.Duration
		var rl *RateLimitError
		switch {
		case errors.As(err, &rl):
			if rateAttempt+1 >= r.policy.MaxAttempts {
				return r.fail(span, "rate_limited", fmt.Errorf("rate limited after %d attempts: %w", rateAttempt+1, err))
			}
			base := rl.RetryAfter
			if base <= 0 {
				base = r.policy.InitialDelay
			}
			wait = base * time.Duration(rateAttempt+1)
			rateAttempt++
			completionRetriesTotal.WithLabelValues("rate_limited").Inc()

		case errors.Is(err, ErrConnectionFailed):
			if connRetries >= r.policy.ConnectionRetries {
				return r.fail(span, "connection_failed", err)
			}
			wait = r.policy.InitialDelay * time.Duration(connRetries+1)
			connRetries++
			completionRetriesTotal.WithLabelValues("connection").Inc()

		case errors.Is(err, ErrEmptyResponse):
			return r.fail(span, "empty", err)

		default:
			return r.fail(span, "error", err)
		}

		if wait > r.policy.MaxWait {
			wait = r.policy.MaxWait
		}
		r.logger.Warn("completion failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("wait", wait),
			slog.Int("rate_attempt", rateAttempt),
			slog.Int("connection_retry", connRetries),
		)
		if err := r.sleep(ctx, wait); err != nil {
			return r.fail(span, "canceled", err)
		}
	}
}

func (r *RetryingCompleter) fail(span trace.Span, result string, err error) (Response, error) {
	completionsTotal.WithLabelValues(result).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, result)
	return Response{}, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
