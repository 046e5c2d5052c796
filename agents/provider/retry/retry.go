/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry retries model API calls that fail with rate limit or
// transient server errors.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config configures retries for one provider.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retries.
	MaxRetries int `toml:"max_retries" validate:"gte=0"`
	// BaseBackoff is the wait before the first retry. It doubles on each
	// subsequent retry.
	BaseBackoff time.Duration `toml:"base_backoff" validate:"gte=0"`
	// MaxBackoff caps the doubled backoff.
	MaxBackoff time.Duration `toml:"max_backoff" validate:"gte=0"`
	// MaxJitter bounds the random delay added to every backoff.
	MaxJitter time.Duration `toml:"max_jitter" validate:"gte=0"`
}

// Validate checks that c has no negative values.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.BaseBackoff < 0 {
		errs = append(errs, errors.New("base backoff cannot be negative"))
	}
	if c.MaxBackoff < 0 {
		errs = append(errs, errors.New("max backoff cannot be negative"))
	}
	if c.MaxJitter < 0 {
		errs = append(errs, errors.New("max jitter cannot be negative"))
	}
	return errors.Join(errs...)
}

// Default returns the configuration used when none is given. Quota based
// rate limits take a while to recover so the backoffs are long.
func Default() Config {
	return Config{
		MaxRetries:  5,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
		MaxJitter:   500 * time.Millisecond,
	}
}

// Backoff returns the wait before retry number attempt (zero based),
// without jitter.
func (c Config) Backoff(attempt int) time.Duration {
	if c.BaseBackoff <= 0 {
		return 0
	}
	d := c.BaseBackoff
	for i := 0; i < attempt; i++ {
		if c.MaxBackoff > 0 && d >= c.MaxBackoff/2 {
			return c.MaxBackoff
		}
		d *= 2
	}
	if c.MaxBackoff > 0 {
		d = min(d, c.MaxBackoff)
	}
	return d
}

func (c Config) jitter() time.Duration {
	if c.MaxJitter <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(c.MaxJitter)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

// Do calls fn until it succeeds, returns an error isRetryable rejects, or
// the retries are exhausted.
func Do[T any](ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) {
			return result, err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		wait := cfg.Backoff(attempt) + cfg.jitter()
		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", cfg.MaxRetries).
			With("backoff", wait).
			With("error", err.Error()).
			Warn("Retryable provider error, backing off")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return result, ctx.Err()
		case <-t.C:
		}
	}
	return result, fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, err)
}

// RetryableStatus reports whether an HTTP status code signals a rate limit
// or a transient server condition. 529 is Anthropic's overloaded status.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return true
	}
	return false
}
