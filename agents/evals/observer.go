/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package evals

import (
	"path"
	"slices"
	"sync"

	"chainguard.dev/issueagent/agents/agenttrace"
)

// Observer receives the outcome of checks run against completed run traces.
type Observer interface {
	// Fail marks the current check as failed. Called at most once per trace.
	Fail(string)
	// Log records a message about the current check.
	Log(string)
	// Grade assigns a score between 0 and 1.
	Grade(score float64, reasoning string)
	// Increment is called once for every trace checked.
	Increment()
	// Total reports how many traces were checked.
	Total() int64
}

// Check inspects a completed trace and reports findings to the Observer.
type Check[T any] func(Observer, *agenttrace.Trace[T])

// Inject binds a check to an observer, producing a trace callback.
func Inject[T any](obs Observer, check Check[T]) agenttrace.TraceCallback[T] {
	return func(trace *agenttrace.Trace[T]) {
		obs.Increment()
		check(obs, trace)
	}
}

// NamespacedObserver arranges observers in a tree keyed by check name.
type NamespacedObserver[T Observer] struct {
	name    string
	inner   T
	factory func(string) T

	mu       sync.Mutex
	children map[string]*NamespacedObserver[T]
}

// NewNamespacedObserver creates the root of an observer tree. The factory
// is called with the full path of every namespace created beneath it.
func NewNamespacedObserver[T Observer](factory func(string) T) *NamespacedObserver[T] {
	return &NamespacedObserver[T]{
		name:     "/",
		inner:    factory("/"),
		factory:  factory,
		children: make(map[string]*NamespacedObserver[T]),
	}
}

func (n *NamespacedObserver[T]) Fail(msg string) { n.inner.Fail(msg) }
func (n *NamespacedObserver[T]) Log(msg string) { n.inner.Log(msg) }
func (n *NamespacedObserver[T]) Grade(score float64, why string) { n.inner.Grade(score, why) }
func (n *NamespacedObserver[T]) Increment() { n.inner.Increment() }
func (n *NamespacedObserver[T]) Total() int64 { return n.inner.Total() }

// Child returns the named child namespace, creating it on first use.
func (n *NamespacedObserver[T]) Child(name string) *NamespacedObserver[T] {
	n.mu.Lock()
	defer n.mu.Unlock()

	if child, ok := n.children[name]; ok {
		return child
	}
	p := path.Join(n.name, name)
	child := &NamespacedObserver[T]{
		name:     p,
		inner:    n.factory(p),
		factory:  n.factory,
		children: make(map[string]*NamespacedObserver[T]),
	}
	n.children[name] = child
	return child
}

// Walk visits this namespace and then its children depth first, in name order.
func (n *NamespacedObserver[T]) Walk(visit func(string, T)) {
	visit(n.name, n.inner)

	n.mu.Lock()
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	n.mu.Unlock()
	slices.Sort(names)

	for _, name := range names {
		n.mu.Lock()
		child := n.children[name]
		n.mu.Unlock()
		child.Walk(visit)
	}
}
