/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"chainguard.dev/issueagent/agents/agenttrace"
	"chainguard.dev/issueagent/agents/evals"
	"chainguard.dev/issueagent/agents/rundriver"
	"chainguard.dev/issueagent/agents/toolcall"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupTelemetry exports otel metrics through the default prometheus
// registry and installs a tracer provider for run spans.
func setupTelemetry() (func(context.Context) error, error) {
	exporter, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}

// withRunChecks installs a tracer that evaluates every completed run,
// exports the outcome as metrics and logs the checks a run failed. Traces
// are still logged.
func withRunChecks(ctx context.Context, policy rundriver.Config) context.Context {
	checks := runChecks(policy)
	obs := evals.NewNamespacedObserver(evals.NewMetricsObserver[string])
	logged := agenttrace.NewDefaultTracer[string](ctx)
	return agenttrace.WithTracer(ctx, evals.BuildTracer(obs, checks,
		func(trace *agenttrace.Trace[string]) { checkRun(ctx, checks, trace) },
		logged.RecordTrace))
}

func runChecks(policy rundriver.Config) map[string]evals.Check[string] {
	checks := map[string]evals.Check[string]{
		"commits":       evals.RequiredToolCalls[string](toolcall.NameCommitChange),
		"no-duplicates": evals.MaxRejections[string](0),
		"no-errors":     evals.NoErrors[string](),
	}
	if policy.MaxTokens > 0 {
		checks["tokens"] = evals.TokenBudget[string](policy.MaxTokens)
	}
	return checks
}

// checkRun evaluates one trace with fresh collectors and returns the
// failures by check namespace.
func checkRun(ctx context.Context, checks map[string]evals.Check[string], trace *agenttrace.Trace[string]) map[string][]string {
	log := clog.FromContext(ctx).With("trace_id", trace.ID)
	obs := evals.NewNamespacedObserver(func(ns string) *evals.ResultCollector {
		return evals.NewResultCollector(&logObserver{log: log.With("check", ns)})
	})
	for _, cb := range evals.BuildCallbacks(obs, checks) {
		cb(trace)
	}

	failed := map[string][]string{}
	obs.Walk(func(ns string, rc *evals.ResultCollector) {
		if f := rc.Failures(); len(f) > 0 {
			failed[ns] = f
		}
		for _, g := range rc.Grades() {
			log.With("check", ns).With("score", g.Score).Info(g.Reasoning)
		}
	})
	if len(failed) > 0 {
		log.With("failures", failed).Warn("Run failed checks")
	}
	return failed
}

// logObserver writes check output to a run logger.
type logObserver struct {
	log   *clog.Logger
	total atomic.Int64
}

func (l *logObserver) Fail(msg string) { l.log.Warn(msg) }
func (l *logObserver) Log(msg string)  { l.log.Debug(msg) }
func (l *logObserver) Grade(score float64, reasoning string) {
	l.log.With("score", score).Debug(reasoning)
}
func (l *logObserver) Increment()   { l.total.Add(1) }
func (l *logObserver) Total() int64 { return l.total.Load() }
