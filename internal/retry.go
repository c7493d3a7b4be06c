package internal

import (
	"time"

	"github.com/riverqueue/river/rivertype"
)

// RetryPolicy is the explicit retry/backoff schedule for stream jobs. It is
// handed to River as the client retry policy and supplies MaxAttempts at
// insert time.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// now is replaced in tests.
	now func() time.Time
}

func NewRetryPolicy(cfg *RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
	}
}

// retryDelayCeiling caps Delay when no MaxDelay is configured.
const retryDelayCeiling = 24 * time.Hour

// Delay returns the wait before the given retry attempt (1-based):
// BaseDelay doubled per previous attempt, capped at MaxDelay, or at
// retryDelayCeiling when MaxDelay is not set.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = retryDelayCeiling
	}
	delay := p.BaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		if delay >= ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return min(delay, ceiling)
}

// NextRetry implements river.ClientRetryPolicy.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return now().Add(p.Delay(job.Attempt))
}
