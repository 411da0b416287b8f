package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryDoSucceedsAfterTransient(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0

	got, err := RetryDo(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: 503, Body: "overloaded"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryDo: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestRetryDoStopsOnPermanentError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0

	_, err := RetryDo(context.Background(), cfg, func() (string, error) {
		calls++
		return "", &HTTPError{Status: 401, Body: "bad key"}
	})
	if err == nil {
		t.Fatal("want error")
	}
	if calls != 1 {
		t.Errorf("401 retried %d times, want 1 call", calls)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 401 {
		t.Errorf("error = %v, want HTTPError 401", err)
	}
}

func TestRetryDoExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}
	calls := 0

	_, err := RetryDo(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, &HTTPError{Status: 500, Body: "boom"}
	})
	if err == nil || calls != 2 {
		t.Fatalf("err=%v calls=%d, want failure after 2 attempts", err, calls)
	}
}

func TestRetryDoHonorsContext(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := RetryDo(ctx, cfg, func() (int, error) {
			return 0, &HTTPError{Status: 429, Body: "slow down"}
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RetryDo ignored context cancellation")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"not-a-number", 0},
		{"-3", 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
