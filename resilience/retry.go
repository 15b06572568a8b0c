// Package resilience wraps outbound exchange calls with bounded retry,
// short-TTL price caching, and rate limiting. It carries no trading logic
// so the engine stays deterministic and testable without network mocks.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is the sentinel returned once every retry attempt has
// failed. Callers must treat it as "skip this tick for this instrument",
// never as fatal.
var ErrExhausted = errors.New("resilience: retry attempts exhausted")

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultPolicy mirrors the conventional exchange-API settings: three
// attempts, one second initial delay, doubling.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2.0}
}

// Retry calls fn up to p.MaxAttempts times, sleeping p.BaseDelay scaled by
// p.Multiplier between attempts. It returns nil on the first success,
// ctx.Err() if cancelled while waiting, and an error wrapping both
// ErrExhausted and the last failure otherwise.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}

	var last error
	delay := p.BaseDelay

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn()
		if last == nil {
			return nil
		}

		// No sleep after the final failed attempt.
		if attempt < p.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}

	return fmt.Errorf("%w (%d attempts): %w", ErrExhausted, p.MaxAttempts, last)
}
