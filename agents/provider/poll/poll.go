/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package poll waits on asynchronous provider work such as an assistants
// run that has not yet reached a terminal status.
package poll

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrExhausted is returned when every attempt was spent without the
// condition being met.
var ErrExhausted = errors.New("polling attempts exhausted")

// Backoff grows the interval between attempts.
type Backoff struct {
	// Multiplier scales the interval after every attempt. Must be >= 1.
	Multiplier float64 `toml:"multiplier" validate:"gte=1"`
	// MaxInterval caps the grown interval. Zero means uncapped.
	MaxInterval time.Duration `toml:"max_interval" validate:"gte=0"`
}

// Config controls a polling loop.
type Config struct {
	// Interval is the wait between the first and second attempts.
	Interval time.Duration `toml:"interval" validate:"gt=0"`
	// MaxAttempts bounds the number of status checks.
	MaxAttempts int `toml:"max_attempts" validate:"gt=0"`
	// Backoff, when set, grows Interval after every attempt.
	Backoff *Backoff `toml:"backoff"`
}

// Default returns a fixed 500ms interval with 240 attempts.
func Default() Config {
	return Config{
		Interval:    500 * time.Millisecond,
		MaxAttempts: 240,
	}
}

// DefaultBackoff doubles the interval up to ten seconds.
func DefaultBackoff() *Backoff {
	return &Backoff{Multiplier: 2, MaxInterval: 10 * time.Second}
}

// Validate checks c.
func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("poll max attempts must be positive"))
	}
	if b := c.Backoff; b != nil {
		if b.Multiplier < 1 || math.IsInf(b.Multiplier, 0) || math.IsNaN(b.Multiplier) {
			errs = append(errs, fmt.Errorf("poll backoff multiplier must be >= 1, got %v", b.Multiplier))
		}
		if b.MaxInterval < 0 {
			errs = append(errs, errors.New("poll backoff max interval cannot be negative"))
		}
	}
	return errors.Join(errs...)
}

// IntervalAfter returns the wait after attempt n (zero based). The grown
// interval never exceeds MaxInterval, or the largest time.Duration when
// uncapped.
func (c Config) IntervalAfter(n int) time.Duration {
	if c.Backoff == nil {
		return c.Interval
	}
	limit := time.Duration(math.MaxInt64)
	if c.Backoff.MaxInterval > 0 {
		limit = c.Backoff.MaxInterval
	}
	d := float64(c.Interval)
	for i := 0; i < n; i++ {
		d *= c.Backoff.Multiplier
		// float64(MaxInt64) rounds up to 2^63, so compare before converting.
		if d >= float64(limit) {
			return limit
		}
	}
	return time.Duration(d)
}

// Until calls check until it reports done, returns an error, or the
// attempts run out. The first check happens immediately.
func Until[T any](ctx context.Context, cfg Config, check func(context.Context) (T, bool, error)) (T, error) {
	var zero T
	for n := 0; n < cfg.MaxAttempts; n++ {
		v, done, err := check(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return v, nil
		}
		if n == cfg.MaxAttempts-1 {
			break
		}

		t := time.NewTimer(cfg.IntervalAfter(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, fmt.Errorf("%w after %d attempts", ErrExhausted, cfg.MaxAttempts)
}
