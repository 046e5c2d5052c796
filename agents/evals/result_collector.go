/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package evals

import (
	"slices"
	"sync"
)

// Grade is a score with the reasoning behind it.
type Grade struct {
	Score     float64
	Reasoning string
}

// ResultCollector wraps an Observer and keeps every failure and grade it sees.
// Failures are forwarded to the inner observer as log lines.
type ResultCollector struct {
	inner Observer

	mu       sync.Mutex
	failures []string
	grades   []Grade
}

// NewResultCollector wraps inner.
func NewResultCollector(inner Observer) *ResultCollector {
	return &ResultCollector{inner: inner}
}

func (r *ResultCollector) Fail(msg string) {
	r.inner.Log(msg)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, msg)
}

func (r *ResultCollector) Log(msg string) { r.inner.Log(msg) }

func (r *ResultCollector) Grade(score float64, reasoning string) {
	r.inner.Grade(score, reasoning)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.grades = append(r.grades, Grade{Score: score, Reasoning: reasoning})
}

// Failures returns a copy of the collected failure messages.
func (r *ResultCollector) Failures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.failures)
}

// Grades returns a copy of the collected grades.
func (r *ResultCollector) Grades() []Grade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.grades)
}

func (r *ResultCollector) Increment() { r.inner.Increment() }

func (r *ResultCollector) Total() int64 { return r.inner.Total() }
