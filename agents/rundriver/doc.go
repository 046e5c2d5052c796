/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package rundriver drives a single issue run through its phases:
//
//	INIT -> EXPLORING -> GETTING_FILE* -> COMMITTING -> (COMMENTING) -> DONE
//
// Any non-terminal phase may move to FAILED. Turns are strictly
// sequential. Before every turn the driver checks the turn, wall clock and
// token ceilings; exceeding one ends the run with a *RunTimeoutError.
// Every failure is reported through Reporter.Failed on a context that
// survives cancellation of the caller's, so the external record never
// stays in progress.
package rundriver
