// Package transport holds the HTTP plumbing shared by the external data
// clients: per-call timeouts, status errors and Retry-After parsing.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"niche-backend/internal/shared/metrics"
	"niche-backend/internal/shared/ratelimit"
)

// TimeoutError reports that an outbound call exceeded its deadline.
type TimeoutError struct {
	Provider string
	After    time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out after %s", e.Provider, e.After)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.StatusCode, truncate(e.Body, 200))
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Caller issues rate-limited, time-bounded requests for one provider.
type Caller struct {
	Provider string
	Client   *http.Client
	Limiter  ratelimit.Waiter
	Timeout  time.Duration
}

// Do waits on the limiter, sends req with the caller's timeout and reads the
// body. Non-2xx statuses return a *StatusError alongside the response.
func (c Caller) Do(ctx context.Context, req *http.Request) (Response, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return Response{}, err
		}
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	callCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	resp, err := client.Do(req.WithContext(callCtx))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			metrics.IncExternalCall(c.Provider, "timeout")
			return Response{}, &TimeoutError{Provider: c.Provider, After: c.Timeout, Err: err}
		}
		metrics.IncExternalCall(c.Provider, "error")
		return Response{}, fmt.Errorf("%s request: %w", c.Provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncExternalCall(c.Provider, "error")
		return Response{}, fmt.Errorf("%s read body: %w", c.Provider, err)
	}
	out := Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome := "http_error"
		if resp.StatusCode == http.StatusTooManyRequests {
			outcome = "rate_limited"
		}
		metrics.IncExternalCall(c.Provider, outcome)
		return out, &StatusError{
			Provider:   c.Provider,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: ParseRetryAfter(resp.Header),
		}
	}
	metrics.IncExternalCall(c.Provider, "ok")
	return out, nil
}

// JSONRequest builds a request with an optional JSON body.
func JSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// ParseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func ParseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// IsTransient reports whether err is worth retrying: timeouts, 429 and 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
