// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/telemetry"
)

// Policy governs one capability call.
type Policy struct {
	Kind     Kind
	Provider string
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	Retries int
	// Backoff is the wait before the first retry; it doubles per retry.
	Backoff time.Duration
	// RetryIf selects retryable errors. Nil retries timeouts only.
	RetryIf func(error) bool
	// Limiter, when set, paces calls to the provider.
	Limiter *rate.Limiter
}

// Policies holds the per-stage call policies of a pipeline session.
type Policies struct {
	ASR Policy
	LLM Policy
	TTS Policy
}

// NewLimiter returns a limiter for perSecond calls with the given burst, or
// nil when perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// IsTimeout reports whether err is a capability deadline failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

type result[T any] struct {
	val T
	err error
}

// Invoke runs fn under p. Each attempt gets its own deadline; the call
// returns as soon as the deadline passes or ctx is cancelled, even if fn
// ignores its context (its late result is discarded). Timeouts are reported
// as ErrTimeout, caller cancellation as ctx.Err().
func Invoke[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = IsTimeout
	}
	logger := log.WithComponentFromContext(ctx, "capability")
	tracer := telemetry.Tracer(telemetry.TracerName)

	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if attempt > 0 {
			wait := p.Backoff << (attempt - 1)
			logger.Info().
				Str(log.FieldEvent, "capability.retry").
				Str(log.FieldCapability, string(p.Kind)).
				Str(log.FieldProvider, p.Provider).
				Int(log.FieldAttempt, attempt+1).
				Dur("backoff", wait).
				Err(lastErr).
				Msg("retrying capability call")
			if err := sleep(ctx, wait); err != nil {
				return zero, err
			}
		}
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return zero, ctx.Err()
				}
				return zero, fmt.Errorf("%s %s: rate limit: %w", p.Kind, p.Provider, err)
			}
		}

		spanCtx, span := tracer.Start(ctx, string(p.Kind)+".perform")
		span.SetAttributes(telemetry.CapabilityAttributes(string(p.Kind), p.Provider, attempt+1)...)
		start := time.Now()
		val, err := attemptOnce(spanCtx, p, fn)
		elapsed := time.Since(start)

		outcome := outcomeOf(ctx, err)
		metrics.ObserveCapability(string(p.Kind), p.Provider, outcome, elapsed)
		span.SetAttributes(attribute.String(telemetry.OutcomeKey, outcome))
		telemetry.RecordError(span, outcome, err)
		span.End()

		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
		if !retryIf(err) {
			break
		}
	}
	return zero, lastErr
}

func attemptOnce[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	callCtx := ctx
	cancel := func() {}
	if p.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
	}
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%s %s after %s: %w", p.Kind, p.Provider, p.Timeout, ErrTimeout)
		}
		if r.err != nil {
			return zero, fmt.Errorf("%s %s: %w", p.Kind, p.Provider, r.err)
		}
		return r.val, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%s %s after %s: %w", p.Kind, p.Provider, p.Timeout, ErrTimeout)
	}
}

func outcomeOf(parent context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case parent.Err() != nil:
		return "cancelled"
	case IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
