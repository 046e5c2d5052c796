/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package rundriver

import (
	"errors"
	"fmt"
	"time"
)

// Reason names the ceiling a run hit.
type Reason string

const (
	ReasonTurns    Reason = "turns"
	ReasonDuration Reason = "duration"
	ReasonTokens   Reason = "tokens"
)

// RunTimeoutError is returned when a run exceeds one of its ceilings. It is
// always fatal.
type RunTimeoutError struct {
	Reason  Reason
	Phase   Phase
	Turns   int
	Elapsed time.Duration
}

func (e *RunTimeoutError) Error() string {
	return fmt.Sprintf("run exceeded its %s ceiling in phase %s after %d turns (%s)", e.Reason, e.Phase, e.Turns, e.Elapsed.Round(time.Millisecond))
}

// errWallClock is the cancellation cause of the run context when
// MaxDuration elapses.
var errWallClock = errors.New("run wall clock ceiling reached")

// ErrNoChanges reports a run that finished without committing anything.
var ErrNoChanges = errors.New("the agent committed no changes")
