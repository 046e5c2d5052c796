/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package poll_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"chainguard.dev/issueagent/agents/provider/poll"
)

func TestUntil(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		doneAt    int
		attempts  int
		wantErr   error
		wantCalls int
	}{{
		name:      "immediate",
		doneAt:    1,
		attempts:  5,
		wantCalls: 1,
	}, {
		name:      "third attempt",
		doneAt:    3,
		attempts:  5,
		wantCalls: 3,
	}, {
		name:      "last attempt",
		doneAt:    5,
		attempts:  5,
		wantCalls: 5,
	}, {
		name:      "exhausted",
		doneAt:    100,
		attempts:  4,
		wantErr:   poll.ErrExhausted,
		wantCalls: 4,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := poll.Config{Interval: time.Millisecond, MaxAttempts: tt.attempts}
			calls := 0
			got, err := poll.Until(context.Background(), cfg, func(context.Context) (string, bool, error) {
				calls++
				return "completed", calls >= tt.doneAt, nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Until() error = %v, wanted %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != "completed" {
				t.Errorf("Until() = %q, wanted %q", got, "completed")
			}
			if calls != tt.wantCalls {
				t.Errorf("calls: got %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestUntil_CheckError(t *testing.T) {
	t.Parallel()
	want := errors.New("run failed")
	calls := 0
	_, err := poll.Until(context.Background(), poll.Config{Interval: time.Millisecond, MaxAttempts: 10}, func(context.Context) (int, bool, error) {
		calls++
		return 0, false, want
	})
	if !errors.Is(err, want) {
		t.Errorf("Until() = %v, wanted %v", err, want)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestUntil_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := poll.Until(ctx, poll.Config{Interval: time.Hour, MaxAttempts: 10}, func(context.Context) (int, bool, error) {
		cancel()
		return 0, false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Until() = %v, wanted context.Canceled", err)
	}
}

func TestIntervalAfter(t *testing.T) {
	t.Parallel()

	fixed := poll.Config{Interval: 500 * time.Millisecond, MaxAttempts: 3}
	for n := range 5 {
		if got := fixed.IntervalAfter(n); got != 500*time.Millisecond {
			t.Errorf("fixed IntervalAfter(%d) = %v, wanted 500ms", n, got)
		}
	}

	grown := poll.Config{
		Interval:    time.Second,
		MaxAttempts: 3,
		Backoff:     &poll.Backoff{Multiplier: 2, MaxInterval: 5 * time.Second},
	}
	for n, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second} {
		if got := grown.IntervalAfter(n); got != want {
			t.Errorf("backoff IntervalAfter(%d) = %v, wanted %v", n, got, want)
		}
	}
}

func TestIntervalAfterHugeMultiplier(t *testing.T) {
	t.Parallel()

	capped := poll.Config{
		Interval:    time.Second,
		MaxAttempts: 10,
		Backoff:     &poll.Backoff{Multiplier: 1e20, MaxInterval: 30 * time.Second},
	}
	for n, want := range []time.Duration{time.Second, 30 * time.Second, 30 * time.Second} {
		if got := capped.IntervalAfter(n); got != want {
			t.Errorf("capped IntervalAfter(%d) = %v, wanted %v", n, got, want)
		}
	}

	uncapped := poll.Config{
		Interval:    time.Second,
		MaxAttempts: 10,
		Backoff:     &poll.Backoff{Multiplier: 1e20},
	}
	for n := 1; n < 4; n++ {
		if got := uncapped.IntervalAfter(n); got != time.Duration(math.MaxInt64) {
			t.Errorf("uncapped IntervalAfter(%d) = %v, wanted %v", n, got, time.Duration(math.MaxInt64))
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     poll.Config
		wantErr bool
	}{{
		name: "default",
		cfg:  poll.Default(),
	}, {
		name: "default with backoff",
		cfg:  poll.Config{Interval: time.Second, MaxAttempts: 1, Backoff: poll.DefaultBackoff()},
	}, {
		name:    "zero interval",
		cfg:     poll.Config{MaxAttempts: 1},
		wantErr: true,
	}, {
		name:    "zero attempts",
		cfg:     poll.Config{Interval: time.Second},
		wantErr: true,
	}, {
		name:    "shrinking backoff",
		cfg:     poll.Config{Interval: time.Second, MaxAttempts: 1, Backoff: &poll.Backoff{Multiplier: 0.5}},
		wantErr: true,
	}, {
		name:    "infinite backoff",
		cfg:     poll.Config{Interval: time.Second, MaxAttempts: 1, Backoff: &poll.Backoff{Multiplier: math.Inf(1)}},
		wantErr: true,
	}, {
		name:    "NaN backoff",
		cfg:     poll.Config{Interval: time.Second, MaxAttempts: 1, Backoff: &poll.Backoff{Multiplier: math.NaN()}},
		wantErr: true,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
