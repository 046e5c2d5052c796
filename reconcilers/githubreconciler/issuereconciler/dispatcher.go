/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package issuereconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/semaphore"
)

// Resolver resolves one issue. *Reconciler implements it.
type Resolver interface {
	Resolve(ctx context.Context, issue Issue) (*Result, error)
}

var _ Resolver = (*Reconciler)(nil)

// Dispatcher resolves issues in the background, at most a fixed number at
// a time.
type Dispatcher struct {
	ctx      context.Context
	resolver Resolver
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

// NewDispatcher runs resolutions under ctx, which bounds the lifetime of
// every dispatched run, with at most maxConcurrent in flight.
func NewDispatcher(ctx context.Context, resolver Resolver, maxConcurrent int64) (*Dispatcher, error) {
	if resolver == nil {
		return nil, errors.New("resolver cannot be nil")
	}
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent runs must be positive, got %d", maxConcurrent)
	}
	return &Dispatcher{
		ctx:      ctx,
		resolver: resolver,
		sem:      semaphore.NewWeighted(maxConcurrent),
	}, nil
}

// Dispatch queues issue and returns immediately. Queued issues wait for a
// free slot; they are dropped if the dispatcher's context ends first.
func (d *Dispatcher) Dispatch(issue Issue) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		log := clog.FromContext(d.ctx).With("issue", fmt.Sprintf("%s/%s#%d", issue.Owner, issue.Repo, issue.Number))
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			log.With("error", err).Warn("Dropping queued issue")
			return
		}
		defer d.sem.Release(1)

		res, err := d.resolver.Resolve(clog.WithLogger(d.ctx, log), issue)
		switch {
		case errors.Is(err, ErrBusy):
			log.Info("Skipped issue with a run in progress")
		case err != nil:
			log.With("error", err).Error("Failed to resolve issue")
		default:
			log.With("pr", res.PullRequest.URL).Info("Resolved issue")
		}
	}()
}

// Wait blocks until every dispatched issue has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
