package domain

import (
	"testing"
	"time"
)

// --- RetryPolicy Tests ---

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}

	tests := []struct {
		attempt int
		want    bool
	}{
		{0, true},
		{1, true},
		{2, true},
		{3, false},
		{4, false},
	}

	for _, tt := range tests {
		if got := p.ShouldRetry(tt.attempt); got != tt.want {
			t.Errorf("ShouldRetry(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_ShouldRetry_SingleAttempt(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 1}
	if p.ShouldRetry(1) {
		t.Error("maxAttempts=1 must not retry after the first attempt")
	}
}

func TestRetryPolicy_CalculateDelay(t *testing.T) {
	p := RetryPolicy{InitialDelayMs: 100, MaxDelayMs: 1000, BackoffMultiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1000 * time.Millisecond},
		{20, 1000 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := p.CalculateDelay(tt.attempt); got != tt.want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_CalculateDelay_MonotoneAndCapped(t *testing.T) {
	policies := []RetryPolicy{
		DefaultRetryPolicy,
		{InitialDelayMs: 1, MaxDelayMs: 50, BackoffMultiplier: 1.5},
		{InitialDelayMs: 500, MaxDelayMs: 500, BackoffMultiplier: 3},
		{InitialDelayMs: 10, MaxDelayMs: 10000, BackoffMultiplier: 0.5},
	}

	for _, p := range policies {
		var prev time.Duration
		for attempt := 0; attempt < 200; attempt++ {
			d := p.CalculateDelay(attempt)
			if d < prev {
				t.Fatalf("policy %+v: delay decreased at attempt %d: %v < %v", p, attempt, d, prev)
			}
			if d > time.Duration(p.MaxDelayMs)*time.Millisecond {
				t.Fatalf("policy %+v: delay %v exceeds max at attempt %d", p, d, attempt)
			}
			prev = d
		}
	}
}

func TestRetryPolicy_CalculateDelay_Uncapped(t *testing.T) {
	p := RetryPolicy{InitialDelayMs: 1000, BackoffMultiplier: 10}

	if got := p.CalculateDelay(2); got != 100*time.Second {
		t.Errorf("expected 100s, got %v", got)
	}
	if got := p.CalculateDelay(1000); got <= 0 {
		t.Errorf("expected saturated positive delay, got %v", got)
	}
}
