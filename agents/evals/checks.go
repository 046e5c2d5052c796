/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package evals

import (
	"fmt"
	"maps"
	"slices"

	"chainguard.dev/issueagent/agents/agenttrace"
)

// MinimumNToolCalls fails traces with fewer than n executed tool calls.
func MinimumNToolCalls[T any](n int) Check[T] {
	return func(o Observer, trace *agenttrace.Trace[T]) {
		if got := len(trace.ToolCalls); got < n {
			o.Fail(fmt.Sprintf("tool call count: got = %d, wanted >= %d", got, n))
		}
	}
}

// MaximumNToolCalls fails traces with more than n executed tool calls.
func MaximumNToolCalls[T any](n int) Check[T] {
	return func(o Observer, trace *agenttrace.Trace[T]) {
		if got := len(trace.ToolCalls); got > n {
			o.Fail(fmt.Sprintf("tool call count: got = %d, wanted <= %d", got, n))
		}
	}
}

// OnlyToolCalls fails traces that executed a tool outside the given set.
func OnlyToolCalls[T any](names ...string) Check[T] {
	return func(o Observer, trace *agenttrace.Trace[T]) {
		for _, tc := range trace.ToolCalls {
			if !slices.Contains(names, tc.Name) {
				o.Fail(fmt.Sprintf("unexpected tool call %q, only allowed: %v", tc.Name, names))
				return
			}
		}
	}
}

// RequiredToolCalls fails traces that never executed one of the given tools.
func RequiredToolCalls[T any](names ...string) Check[T] {
	base := make(map[string]struct{}, len(names))
	for _, name := range names {
		base[name] = struct{}{}
	}
	return func(o Observer, trace *agenttrace.Trace[T]) {
		missing := maps.Clone(base)
		for _, tc := range trace.ToolCalls {
			delete(missing, tc.Name)
		}
		if len(missing) > 0 {
			o.Fail(fmt.Sprintf("missing required tool calls: %v", slices.Sorted(maps.Keys(missing))))
		}
	}
}

// ToolCallNamed validates every executed call of the named tool, failing
// when none was made.
func ToolCallNamed[T any](name string, validate func(*agenttrace.ToolCall[T]) error) Check[T] {
	return func(o Observer, trace *agenttrace.Trace[T]) {
		found := false
		for _, tc := range trace.ToolCalls {
			if tc.Name != name {
				continue
			}
			found = true
			if err := validate(tc); err != nil {
				o.Fail(fmt.Sprintf("tool call %s validation failed: %v", name, err))
				return
			}
		}
		if !found {
			o.Fail(fmt.Sprintf("tool call named %q: got = not found, wanted = found", name))
		}
	}
}

// NoErrors fails traces whose run or any tool call ended in an error.
func NoErrors[T any]() Check[T] {
	return func(o Observer, trace *agenttrace.Trace[T]) {
		if trace.Error != nil {
			o.Fail(fmt.Sprintf("trace error: got = %v, wanted = nil", trace.Error))
			return
		}
		for _, tc := range trace.ToolCalls {
			if tc.Error != nil {
				o.Fail(fmt.Sprintf("tool call %s error: got = %v, wanted = nil", tc.Name, tc.Error))
				return
			}
		}
	}
}

// MaxRejections fails traces where the model repeated an already executed
// call more than n times.
func MaxRejections[T any](n int) Check[T] {
	return func(o Observer, trace *agenttrace.Trace[T]) {
		if got := len(trace.Rejected); got > n {
			o.Fail(fmt.Sprintf("duplicate tool calls: got = %d, wanted <= %d", got, n))
		}
	}
}

// TokenBudget fails traces whose combined input and output tokens exceed limit.
// Traces at or under budget are graded by the share of the budget left.
func TokenBudget[T any](limit int64) Check[T] {
	return func(o Observer, trace *agenttrace.Trace[T]) {
		in, out := trace.Tokens()
		used := in + out
		if used > limit {
			o.Fail(fmt.Sprintf("token usage: got = %d, wanted <= %d", used, limit))
			return
		}
		o.Grade(1-float64(used)/float64(limit), fmt.Sprintf("used %d of %d tokens", used, limit))
	}
}

// BuildCallbacks injects every named check with its own child observer.
func BuildCallbacks[T any, O Observer](observer *NamespacedObserver[O], checks map[string]Check[T]) []agenttrace.TraceCallback[T] {
	callbacks := make([]agenttrace.TraceCallback[T], 0, len(checks))
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		callbacks = append(callbacks, Inject(observer.Child(name), checks[name]))
	}
	return callbacks
}

// BuildTracer returns a tracer that runs the checks on every recorded trace
// alongside any extra callbacks.
func BuildTracer[T any, O Observer](observer *NamespacedObserver[O], checks map[string]Check[T], extra ...agenttrace.TraceCallback[T]) agenttrace.Tracer[T] {
	return agenttrace.ByCode(append(BuildCallbacks(observer, checks), extra...)...)
}
