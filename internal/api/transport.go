package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// RateLimitHints holds the most recent wait advertised by GitHub in
// response headers. The fetcher consumes it on the next retry.
type RateLimitHints struct {
	mu   sync.Mutex
	wait time.Duration
	now  func() time.Time
}

// NewRateLimitHints creates an empty hint holder
func NewRateLimitHints() *RateLimitHints {
	return &RateLimitHints{now: time.Now}
}

// Observe records the retry hint carried by a response, if any
func (h *RateLimitHints) Observe(resp *http.Response) {
	if resp == nil {
		return
	}
	wait := hintFromHeaders(resp.StatusCode, resp.Header, h.now())
	if wait <= 0 {
		return
	}
	h.mu.Lock()
	h.wait = wait
	h.mu.Unlock()
}

// Take returns the pending hint and clears it
func (h *RateLimitHints) Take() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	wait := h.wait
	h.wait = 0
	return wait
}

func hintFromHeaders(status int, header http.Header, now time.Time) time.Duration {
	if status != http.StatusTooManyRequests && status != http.StatusForbidden {
		return 0
	}
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			return at.Sub(now)
		}
	}
	if header.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			// one extra second so the window has rolled over when we wake
			return time.Unix(reset, 0).Sub(now) + time.Second
		}
	}
	return 0
}

// Transport records rate-limit hints from every response it carries
type Transport struct {
	wrapped http.RoundTripper
	hints   *RateLimitHints
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.wrapped.RoundTrip(req)
	if err == nil {
		t.hints.Observe(resp)
	}
	return resp, err
}

// NewHTTPClient returns an authenticated client whose responses feed hints.
// An empty token yields an unauthenticated client.
func NewHTTPClient(ctx context.Context, token string, hints *RateLimitHints) *http.Client {
	base := &http.Client{Transport: &Transport{wrapped: http.DefaultTransport, hints: hints}}
	if token == "" {
		return base
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}
