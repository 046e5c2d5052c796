/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package storetest holds the behavior every runregistry.Store must have.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chainguard.dev/issueagent/runregistry"
	"github.com/stretchr/testify/require"
)

// Factory opens an empty store with the given takeover window and clock.
type Factory func(t *testing.T, staleAfter time.Duration, now func() time.Time) runregistry.Store

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Run exercises a Store implementation.
func Run(t *testing.T, open Factory) {
	t.Run("start if absent", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, time.Hour, NewClock().Now)
		id := runregistry.RunID("acme", "widget", 7)

		ok, err := s.StartIfAbsent(ctx, id, 42)
		require.NoError(t, err)
		require.True(t, ok, "first start")

		ok, err = s.StartIfAbsent(ctx, id, 42)
		require.NoError(t, err)
		require.False(t, ok, "second start while in progress")

		r, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, runregistry.StatusInProgress, r.Status)
		require.Equal(t, int64(42), r.InstallationID)
		require.Equal(t, 0, r.Progress)
	})

	t.Run("restart after finish", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, time.Hour, NewClock().Now)
		id := runregistry.RunID("acme", "widget", 8)

		for _, status := range []runregistry.Status{runregistry.StatusCompleted, runregistry.StatusFailed, runregistry.StatusAborted} {
			ok, err := s.StartIfAbsent(ctx, id, 1)
			require.NoError(t, err)
			require.True(t, ok, "start before %s", status)
			require.NoError(t, s.Finish(ctx, id, status, "reason"))

			r, err := s.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, status, r.Status)
			require.Equal(t, "reason", r.Reason)
		}
	})

	t.Run("concurrent starts admit one", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, time.Hour, NewClock().Now)
		id := runregistry.RunID("acme", "widget", 9)

		var (
			wg      sync.WaitGroup
			started atomic.Int32
			errs    = make(chan error, 16)
		)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.StartIfAbsent(ctx, id, 1)
				if err != nil {
					errs <- err
					return
				}
				if ok {
					started.Add(1)
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		require.Equal(t, int32(1), started.Load())
	})

	t.Run("stale takeover", func(t *testing.T) {
		ctx := context.Background()
		clock := NewClock()
		s := open(t, 10*time.Minute, clock.Now)
		id := runregistry.RunID("acme", "widget", 10)

		ok, err := s.StartIfAbsent(ctx, id, 1)
		require.NoError(t, err)
		require.True(t, ok)

		clock.Advance(5 * time.Minute)
		require.NoError(t, s.SetProgress(ctx, id, 50))

		clock.Advance(9 * time.Minute)
		ok, err = s.StartIfAbsent(ctx, id, 1)
		require.NoError(t, err)
		require.False(t, ok, "progress refreshed the lease")

		clock.Advance(2 * time.Minute)
		ok, err = s.StartIfAbsent(ctx, id, 1)
		require.NoError(t, err)
		require.True(t, ok, "stale run taken over")

		r, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 0, r.Progress)
		require.Equal(t, clock.Now(), r.StartedAt)
	})

	t.Run("no takeover when disabled", func(t *testing.T) {
		ctx := context.Background()
		clock := NewClock()
		s := open(t, 0, clock.Now)
		id := runregistry.RunID("acme", "widget", 11)

		ok, err := s.StartIfAbsent(ctx, id, 1)
		require.NoError(t, err)
		require.True(t, ok)

		clock.Advance(24 * 365 * time.Hour)
		ok, err = s.StartIfAbsent(ctx, id, 1)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("progress and merge", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, time.Hour, NewClock().Now)
		id := runregistry.RunID("acme", "widget", 12)

		require.ErrorIs(t, s.SetProgress(ctx, id, 10), runregistry.ErrNotFound)
		require.ErrorIs(t, s.MarkMerged(ctx, id), runregistry.ErrNotFound)
		require.ErrorIs(t, s.Finish(ctx, id, runregistry.StatusFailed, ""), runregistry.ErrNotFound)
		_, err := s.Get(ctx, id)
		require.ErrorIs(t, err, runregistry.ErrNotFound)

		_, err = s.StartIfAbsent(ctx, id, 1)
		require.NoError(t, err)
		require.Error(t, s.SetProgress(ctx, id, 101))
		require.NoError(t, s.SetProgress(ctx, id, 50))
		require.ErrorIs(t, s.Finish(ctx, id, runregistry.StatusInProgress, ""), runregistry.ErrNotTerminal)
		require.NoError(t, s.Finish(ctx, id, runregistry.StatusCompleted, ""))
		require.Error(t, s.SetProgress(ctx, id, 60), "progress on a finished run")
		require.NoError(t, s.MarkMerged(ctx, id))

		r, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 100, r.Progress)
		require.True(t, r.Merged)
	})

	t.Run("list", func(t *testing.T) {
		ctx := context.Background()
		clock := NewClock()
		s := open(t, time.Hour, clock.Now)

		for i := 1; i <= 3; i++ {
			_, err := s.StartIfAbsent(ctx, runregistry.RunID("acme", "widget", i), 1)
			require.NoError(t, err)
			clock.Advance(time.Minute)
		}

		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, runregistry.RunID("acme", "widget", 3), all[0].ID)
		require.Equal(t, runregistry.RunID("acme", "widget", 1), all[2].ID)

		two, err := s.List(ctx, 2)
		require.NoError(t, err)
		require.Len(t, two, 2)
	})

	t.Run("usage and installations", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, time.Hour, NewClock().Now)

		u, err := s.Usage(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, runregistry.Usage{}, u)

		require.NoError(t, s.IncrementRequests(ctx, 7))
		require.NoError(t, s.IncrementRequests(ctx, 7))
		require.NoError(t, s.IncrementCompleted(ctx, 7))
		u, err = s.Usage(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, runregistry.Usage{Requests: 2, Completed: 1}, u)

		require.NoError(t, s.SaveInstallation(ctx, runregistry.Installation{ID: 7, Account: "acme"}))
		require.NoError(t, s.SaveInstallation(ctx, runregistry.Installation{ID: 7, Account: "acme-corp"}))
		inst, err := s.Installation(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, inst)
		require.Equal(t, "acme-corp", inst.Account)

		require.NoError(t, s.DeleteInstallation(ctx, 7))
		inst, err = s.Installation(ctx, 7)
		require.NoError(t, err)
		require.Nil(t, inst)

		u, err = s.Usage(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, int64(2), u.Requests, "usage survives uninstall")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s := open(t, time.Hour, NewClock().Now)
		_, err := s.StartIfAbsent(ctx, runregistry.RunID("acme", "widget", 13), 1)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("StartIfAbsent() = %v, wanted context.Canceled", err)
		}
	})
}
