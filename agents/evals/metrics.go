/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package evals

import (
	"reflect"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issueagent_run_checks_total",
			Help: "Number of completed runs evaluated by a check.",
		},
		[]string{"result_type", "check"},
	)

	checkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issueagent_run_check_failures_total",
			Help: "Number of completed runs that failed a check.",
		},
		[]string{"result_type", "check"},
	)

	checkGrade = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "issueagent_run_check_grade",
			Help: "Most recent grade (0.0-1.0) assigned by a check.",
		},
		[]string{"result_type", "check"},
	)
)

// MetricsObserver exports check outcomes as Prometheus metrics.
type MetricsObserver struct {
	total atomic.Int64

	evaluated prometheus.Counter
	failed    prometheus.Counter
	grade     prometheus.Gauge
}

// NewMetricsObserver creates an observer labelled with the trace result type
// and the check namespace. It matches the factory shape NewNamespacedObserver
// expects.
func NewMetricsObserver[T any](namespace string) *MetricsObserver {
	labels := prometheus.Labels{
		"result_type": reflect.TypeFor[T]().String(),
		"check":       namespace,
	}
	return &MetricsObserver{
		evaluated: checkCounter.With(labels),
		failed:    checkFailures.With(labels),
		grade:     checkGrade.With(labels),
	}
}

func (m *MetricsObserver) Increment() {
	m.total.Add(1)
	m.evaluated.Inc()
}

func (m *MetricsObserver) Fail(string) { m.failed.Inc() }

func (m *MetricsObserver) Grade(score float64, _ string) { m.grade.Set(score) }

// Log is a no-op; metrics carry no messages.
func (m *MetricsObserver) Log(string) {}

func (m *MetricsObserver) Total() int64 { return m.total.Load() }
