// Package retry provides a small exponential-backoff helper used for
// connection establishment and remote fetches.
package retry

import (
	"context"
	"time"

	"github.com/Kelbie/georelay/logging"
)

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Default is the policy used for location-based connection attempts.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
	}
}

// Once runs the operation a single time with no backoff.
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

// Do runs fn until it succeeds, the policy is exhausted or ctx is cancelled.
// The delay between attempts starts at BaseDelay and is multiplied by
// Multiplier after each failure. Returns the last error seen, or ctx.Err()
// when cancelled while waiting.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}

		logging.Debug("Retry: attempt %d/%d failed: %v (retrying in %v)", attempt, p.MaxAttempts, err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if p.Multiplier > 0 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}
	return err
}
