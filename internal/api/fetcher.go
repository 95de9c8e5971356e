package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/google/go-github/v57/github"
)

// Querier is the subset of *githubv4.Client the fetcher needs
type Querier interface {
	Query(ctx context.Context, q any, variables map[string]any) error
}

// RetryPolicy bounds how the fetcher retries a single request
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors GitHub's guidance for secondary limits
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		BaseDelay:   5 * time.Second,
		MaxDelay:    15 * time.Minute,
	}
}

// RetryExhaustedError is returned once every attempt of a request failed
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Fetcher issues one logical request at a time and retries rate-limit and
// transient failures with backoff driven by server hints
type Fetcher struct {
	client Querier
	hints  *RateLimitHints
	policy RetryPolicy
	logger *slog.Logger

	// Sleep waits between attempts; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher over a GraphQL client. hints may be nil.
func NewFetcher(client Querier, hints *RateLimitHints, policy RetryPolicy, logger *slog.Logger) *Fetcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: client,
		hints:  hints,
		policy: policy,
		logger: logger,
		Sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Query runs a GraphQL query with retries
func (f *Fetcher) Query(ctx context.Context, op string, q any, variables map[string]any) error {
	return f.Do(ctx, op, func(ctx context.Context) error {
		return f.client.Query(ctx, q, variables)
	})
}

// Do runs fn with retries. fn must be safe to repeat.
func (f *Fetcher) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		hint, retryable := classify(err)
		if !retryable {
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt >= f.policy.MaxAttempts {
			return &RetryExhaustedError{Op: op, Attempts: attempt, Err: err}
		}

		wait := f.backoff(attempt, hint)
		f.logger.Warn("Retrying GitHub request",
			"operation", op, "attempt", attempt, "max_attempts", f.policy.MaxAttempts,
			"wait", wait.String(), "error", truncate(err.Error(), 200))
		if err := f.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// backoff picks the wait before the next attempt: an explicit hint from the
// error, then one captured from response headers, then exponential.
func (f *Fetcher) backoff(attempt int, hint time.Duration) time.Duration {
	if hint <= 0 && f.hints != nil {
		hint = f.hints.Take()
	}
	wait := hint
	if wait <= 0 {
		wait = f.policy.BaseDelay << (attempt - 1)
	}
	if f.policy.MaxDelay > 0 && wait > f.policy.MaxDelay {
		wait = f.policy.MaxDelay
	}
	return wait
}

// classify reports whether err is worth retrying and any wait the error
// itself carries
func classify(err error) (time.Duration, bool) {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return time.Until(rateErr.Rate.Reset.Time), true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return abuseErr.GetRetryAfter(), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return 0, true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return 0, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "could not resolve to") {
		return 0, false
	}
	for _, s := range []string{
		"rate limit", "abuse detection", "429", "500 internal", "502 bad gateway", "503 service", "504 gateway",
		"timeout", "connection reset", "broken pipe", "eof",
	} {
		if strings.Contains(msg, s) {
			return 0, true
		}
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
