package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCaller(policy Policy) *Caller {
	return NewCaller("test", 0, policy, zerolog.Nop())
}

func TestPostJSONSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": body["ping"]})
	}))
	t.Cleanup(server.Close)

	caller := newTestCaller(Policy{MaxAttempts: 1})

	var out map[string]string
	if err := caller.PostJSON(context.Background(), server.URL, map[string]string{"ping": "pong"}, &out); err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if out["echo"] != "pong" {
		t.Fatalf("response = %v", out)
	}
}

func TestRetriesAfterRetryableStatus(t *testing.T) {
	t.Parallel()

	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	t.Cleanup(server.Close)

	caller := newTestCaller(Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond})

	var out map[string]string
	if err := caller.GetJSON(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("GetJSON failed after retry: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestNonRetryableStatusFailsImmediately(t *testing.T) {
	t.Parallel()

	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	caller := newTestCaller(Policy{MaxAttempts: 4, InitialBackoff: time.Millisecond})

	err := caller.GetJSON(context.Background(), server.URL, nil)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	caller := newTestCaller(Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond})

	if err := caller.GetJSON(context.Background(), server.URL, nil); err == nil {
		t.Fatal("expected error after retry budget")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestSendsConfiguredHeaders(t *testing.T) {
	t.Parallel()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	t.Cleanup(server.Close)

	caller := newTestCaller(Policy{MaxAttempts: 1})
	caller.SetHeader("Authorization", "Bearer sk-test")

	if err := caller.GetJSON(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestBackendErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status           int
		wantRetryable    bool
		wantTimeoutClass bool
	}{
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadGateway, true, false},
		{http.StatusServiceUnavailable, true, false},
		{http.StatusGatewayTimeout, true, true},
		{http.StatusBadRequest, false, false},
		{http.StatusUnauthorized, false, false},
		{http.StatusInternalServerError, false, false},
	}
	for _, tc := range cases {
		err := &BackendError{Backend: "test", Status: tc.status}
		if got := err.Retryable(); got != tc.wantRetryable {
			t.Fatalf("Retryable for %d = %v, want %v", tc.status, got, tc.wantRetryable)
		}
		if got := err.TimeoutClass(); got != tc.wantTimeoutClass {
			t.Fatalf("TimeoutClass for %d = %v, want %v", tc.status, got, tc.wantTimeoutClass)
		}
	}
}

func TestBackoffDelayDoublesAndMultipliesForTimeouts(t *testing.T) {
	t.Parallel()

	caller := newTestCaller(Policy{
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           time.Minute,
		TimeoutBackoffFactor: 3,
	})

	if got := caller.backoffDelay(1, false); got != 100*time.Millisecond {
		t.Fatalf("attempt 1 delay = %v", got)
	}
	if got := caller.backoffDelay(3, false); got != 400*time.Millisecond {
		t.Fatalf("attempt 3 delay = %v", got)
	}
	if got := caller.backoffDelay(1, true); got != 300*time.Millisecond {
		t.Fatalf("attempt 1 timeout delay = %v", got)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	t.Parallel()

	caller := newTestCaller(Policy{
		InitialBackoff:       time.Second,
		MaxBackoff:           2 * time.Second,
		TimeoutBackoffFactor: 3,
	})

	if got := caller.backoffDelay(10, true); got != 2*time.Second {
		t.Fatalf("capped delay = %v, want 2s", got)
	}
}
