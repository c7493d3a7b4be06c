package internal

import (
	"testing"
	"time"

	"github.com/riverqueue/river/rivertype"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := NewRetryPolicy(&RetryConfig{MaxAttempts: 5, BaseDelay: 30 * time.Second, MaxDelay: 5 * time.Minute})
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 30 * time.Second},
		{attempt: 1, want: 30 * time.Second},
		{attempt: 2, want: time.Minute},
		{attempt: 3, want: 2 * time.Minute},
		{attempt: 4, want: 4 * time.Minute},
		{attempt: 5, want: 5 * time.Minute},
		{attempt: 60, want: 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyUncapped(t *testing.T) {
	p := &RetryPolicy{BaseDelay: time.Second}
	if got := p.Delay(4); got != 8*time.Second {
		t.Errorf("Delay(4) = %v", got)
	}
	for _, attempt := range []int{18, 38, 40, 64, 1000} {
		if got := p.Delay(attempt); got != retryDelayCeiling {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, retryDelayCeiling)
		}
	}
}

func TestRetryPolicyNeverSchedulesInThePast(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	for _, p := range []*RetryPolicy{
		{BaseDelay: 30 * time.Second},
		{BaseDelay: time.Hour, MaxDelay: 0},
		{BaseDelay: time.Second, MaxDelay: 365 * 24 * time.Hour},
	} {
		p.now = func() time.Time { return now }
		for attempt := 1; attempt <= 200; attempt++ {
			if next := p.NextRetry(&rivertype.JobRow{Attempt: attempt}); next.Before(now) {
				t.Fatalf("%+v attempt %d: retry scheduled at %v", p, attempt, next)
			}
		}
	}
}

func TestRetryPolicyZeroBaseDelay(t *testing.T) {
	if got := (&RetryPolicy{}).Delay(10); got != 0 {
		t.Errorf("Delay(10) = %v", got)
	}
}

func TestRetryPolicyNextRetry(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	p := NewRetryPolicy(&RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: time.Hour})
	p.now = func() time.Time { return now }

	got := p.NextRetry(&rivertype.JobRow{Attempt: 3})
	if want := now.Add(40 * time.Second); !got.Equal(want) {
		t.Errorf("NextRetry = %v, want %v", got, want)
	}
}
