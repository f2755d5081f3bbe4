package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCallerReturnsStatusErrorWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"refillIn":7000}`))
	}))
	defer srv.Close()

	req, err := JSONRequest(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("JSONRequest: %v", err)
	}
	resp, err := Caller{Provider: "keepa"}.Do(context.Background(), req)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusTooManyRequests || se.RetryAfter != 7*time.Second {
		t.Fatalf("unexpected status error %+v", se)
	}
	if string(resp.Body) != `{"refillIn":7000}` {
		t.Fatalf("expected body to be returned, got %q", resp.Body)
	}
	if !IsTransient(err) {
		t.Fatalf("429 must be transient")
	}
}

func TestCallerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	req, _ := JSONRequest(context.Background(), http.MethodGet, srv.URL, nil)
	_, err := Caller{Provider: "apify", Timeout: 20 * time.Millisecond}.Do(context.Background(), req)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout must wrap context.DeadlineExceeded")
	}
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	if got := ParseRetryAfter(h); got != 0 {
		t.Fatalf("expected 0 for missing header, got %s", got)
	}
	h.Set("Retry-After", "3")
	if got := ParseRetryAfter(h); got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
	h.Set("Retry-After", "soon")
	if got := ParseRetryAfter(h); got != 0 {
		t.Fatalf("expected 0 for garbage, got %s", got)
	}
}
