package llm

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns sensible defaults for transient failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryProvider retries request opens that fail with a transient error.
// Once a stream is open its events are never replayed, so a consumer cannot
// see the same output twice.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WrapWithRetry wraps a provider with retry logic.
func WrapWithRetry(p Provider, config RetryConfig, logger *slog.Logger) Provider {
	if config.MaxAttempts <= 0 {
		return p
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryProvider{inner: p, config: config, logger: logger, sleep: sleepContext}
}

func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

func (r *RetryProvider) Capabilities() Capabilities {
	return r.inner.Capabilities()
}

func (r *RetryProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	var stream Stream
	err := r.do(ctx, func() error {
		var err error
		stream, err = r.inner.Stream(ctx, req)
		return err
	})
	return stream, err
}

func (r *RetryProvider) Generate(ctx context.Context, req Request) (Event, error) {
	var event Event
	err := r.do(ctx, func() error {
		var err error
		event, err = r.inner.Generate(ctx, req)
		return err
	})
	return event, err
}

func (r *RetryProvider) do(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil || attempt >= r.config.MaxAttempts {
			break
		}
		wait := r.calculateBackoff(attempt, lastErr)
		r.logger.Warn("retrying request", "provider", r.inner.Name(), "attempt", attempt, "wait", wait, "error", lastErr)
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
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

// isRetryable returns true if the error is a transient error worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	// Rate limits and overloaded upstreams
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "resource_exhausted") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "overloaded") {
		return true
	}

	// Connection errors
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "no such host")
}

// retryAfterRegex matches Retry-After values in error messages.
var retryAfterRegex = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// calculateBackoff computes the wait duration for a retry attempt.
func (r *RetryProvider) calculateBackoff(attempt int, err error) time.Duration {
	if matches := retryAfterRegex.FindStringSubmatch(err.Error()); len(matches) > 1 {
		if secs, parseErr := strconv.Atoi(matches[1]); parseErr == nil && secs > 0 {
			return min(time.Duration(secs)*time.Second, r.config.MaxBackoff)
		}
	}

	// Exponential backoff with +/- 25% jitter
	backoff := float64(r.config.BaseBackoff) * math.Pow(2, float64(attempt-1))
	backoff += (rand.Float64() - 0.5) * 0.5 * backoff
	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}
	return time.Duration(backoff)
}
