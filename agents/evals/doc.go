/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package evals runs checks against completed agent run traces.

A Check inspects an agenttrace.Trace after the run driver completes it and
reports to an Observer: Fail for a violated expectation, Grade for a score
between 0 and 1, Log for anything else. Checks are bound to observers with
Inject, and BuildTracer turns a named set of checks into an
agenttrace.Tracer that can be installed on a context:

	obs := evals.NewNamespacedObserver(evals.NewMetricsObserver[string])
	tracer := evals.BuildTracer(obs, map[string]evals.Check[string]{
		"commits":       evals.RequiredToolCalls[string]("commit_change"),
		"no-duplicates": evals.MaxRejections[string](0),
	})
	ctx = agenttrace.WithTracer(ctx, tracer)

Every run started under ctx is then checked when it finishes. Each check
gets its own child namespace, so MetricsObserver exports one series per
check. ResultCollector wraps any observer to keep the failures and grades
of a single evaluation so they can be reported once it is done.
*/
package evals
