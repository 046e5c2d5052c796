/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runregistry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// DefaultStaleAfter is how long an in-progress run may go without an update
// before another delivery may take it over.
const DefaultStaleAfter = time.Hour

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// ErrNotTerminal is returned by Finish for a status that does not end a run.
var ErrNotTerminal = errors.New("status is not terminal")

// Run is the external record of one issue run.
type Run struct {
	ID             string    `json:"id"`
	InstallationID int64     `json:"installation_id"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	Reason         string    `json:"reason,omitempty"`
	Merged         bool      `json:"merged,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Stale reports whether an in-progress run has gone quiet for longer than
// staleAfter at now.
func (r Run) Stale(now time.Time, staleAfter time.Duration) bool {
	return r.Status == StatusInProgress && staleAfter > 0 && now.Sub(r.UpdatedAt) >= staleAfter
}

// Installation is a GitHub App installation that may trigger runs.
type Installation struct {
	ID        int64     `json:"id"`
	Account   string    `json:"account"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage counts the runs requested and completed for an installation.
type Usage struct {
	Requests  int64 `json:"requests"`
	Completed int64 `json:"completed"`
}

// Store persists runs, installations and usage counters.
type Store interface {
	// StartIfAbsent atomically marks runID in progress. It returns false
	// when a run with that ID is already in progress and not stale.
	StartIfAbsent(ctx context.Context, runID string, installationID int64) (bool, error)

	// SetProgress records the completion percentage of an in-progress run.
	SetProgress(ctx context.Context, runID string, percent int) error

	// Finish moves a run to a terminal status.
	Finish(ctx context.Context, runID string, status Status, reason string) error

	// MarkMerged records that the run's pull request was merged.
	MarkMerged(ctx context.Context, runID string) error

	// Get returns a run or ErrNotFound.
	Get(ctx context.Context, runID string) (*Run, error)

	// List returns runs, most recently started first. A limit of zero
	// returns every run.
	List(ctx context.Context, limit int) ([]Run, error)

	IncrementRequests(ctx context.Context, installationID int64) error
	IncrementCompleted(ctx context.Context, installationID int64) error
	Usage(ctx context.Context, installationID int64) (Usage, error)

	SaveInstallation(ctx context.Context, inst Installation) error
	DeleteInstallation(ctx context.Context, installationID int64) error
	// Installation returns a saved installation, or nil if there is none.
	Installation(ctx context.Context, installationID int64) (*Installation, error)

	Close() error
}

// RunID names the run for an issue.
func RunID(owner, repo string, issue int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, issue)
}

// ValidateProgress checks a completion percentage.
func ValidateProgress(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("progress %d out of range [0, 100]", percent)
	}
	return nil
}

// ValidateFinish checks the status passed to Finish.
func ValidateFinish(status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrNotTerminal, status)
	}
	return nil
}
