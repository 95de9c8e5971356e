package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedQuerier struct {
	errs  []error
	calls int
}

func (q *scriptedQuerier) Query(ctx context.Context, v any, variables map[string]any) error {
	q.calls++
	if len(q.errs) == 0 {
		return nil
	}
	err := q.errs[0]
	q.errs = q.errs[1:]
	return err
}

func testFetcher(q Querier, hints *RateLimitHints) (*Fetcher, *[]time.Duration) {
	f := NewFetcher(q, hints, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 3 * time.Second}, nil)
	var waits []time.Duration
	f.Sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return f, &waits
}

func TestFetcherRetriesTransientErrors(t *testing.T) {
	q := &scriptedQuerier{errs: []error{errors.New("502 Bad Gateway"), errors.New("unexpected EOF")}}
	f, waits := testFetcher(q, nil)

	require.NoError(t, f.Query(context.Background(), "issues", nil, nil))
	assert.Equal(t, 3, q.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestFetcherGivesUpAfterMaxAttempts(t *testing.T) {
	cause := errors.New("API rate limit exceeded")
	q := &scriptedQuerier{errs: []error{cause, cause, cause, cause}}
	f, waits := testFetcher(q, nil)

	err := f.Query(context.Background(), "issues", nil, nil)
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "issues", exhausted.Op)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, q.calls)
	assert.Len(t, *waits, 2)
}

func TestFetcherDoesNotRetryPermanentErrors(t *testing.T) {
	q := &scriptedQuerier{errs: []error{errors.New("Could not resolve to a Repository with the name 'acme/gone'.")}}
	f, waits := testFetcher(q, nil)

	err := f.Query(context.Background(), "repository", nil, nil)
	require.Error(t, err)
	var exhausted *RetryExhaustedError
	assert.False(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, q.calls)
	assert.Empty(t, *waits)
}

func TestFetcherPrefersHeaderHintAndCapsBackoff(t *testing.T) {
	hints := NewRateLimitHints()
	hints.wait = 90 * time.Second
	q := &scriptedQuerier{errs: []error{errors.New("secondary rate limit"), errors.New("secondary rate limit")}}
	f, waits := testFetcher(q, hints)

	require.NoError(t, f.Query(context.Background(), "comments", nil, nil))
	// The hint is capped by MaxDelay and consumed once
	assert.Equal(t, []time.Duration{3 * time.Second, 2 * time.Second}, *waits)
}

func TestFetcherStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &scriptedQuerier{errs: []error{errors.New("timeout")}}
	f, _ := testFetcher(q, nil)
	f.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := f.Query(ctx, "issues", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, q.calls)
}

func TestClassifyGitHubErrors(t *testing.T) {
	retryAfter := 42 * time.Second
	hint, ok := classify(&github.AbuseRateLimitError{RetryAfter: &retryAfter})
	assert.True(t, ok)
	assert.Equal(t, retryAfter, hint)

	hint, ok = classify(&github.RateLimitError{Rate: github.Rate{Reset: github.Timestamp{Time: time.Now().Add(time.Minute)}}})
	assert.True(t, ok)
	assert.InDelta(t, time.Minute.Seconds(), hint.Seconds(), 5)

	_, ok = classify(errors.New("Field 'nope' doesn't exist on type 'Issue'"))
	assert.False(t, ok)
}

func TestHintFromHeaders(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	h := http.Header{}
	h.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, hintFromHeaders(http.StatusForbidden, h, now))

	h = http.Header{}
	h.Set("Retry-After", now.Add(time.Minute).Format(http.TimeFormat))
	assert.Equal(t, time.Minute, hintFromHeaders(http.StatusTooManyRequests, h, now))

	h = http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "1709543100") // now + 5m
	assert.Equal(t, 5*time.Minute+time.Second, hintFromHeaders(http.StatusForbidden, h, now))

	// Only throttling responses carry hints
	assert.Zero(t, hintFromHeaders(http.StatusOK, h, now))
	assert.Zero(t, hintFromHeaders(http.StatusForbidden, http.Header{}, now))
}

func TestRateLimitHintsTakeClears(t *testing.T) {
	hints := NewRateLimitHints()
	hints.now = func() time.Time { return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) }

	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")
	hints.Observe(resp)
	hints.Observe(&http.Response{StatusCode: http.StatusOK, Header: http.Header{}})

	assert.Equal(t, 7*time.Second, hints.Take())
	assert.Zero(t, hints.Take())
}
