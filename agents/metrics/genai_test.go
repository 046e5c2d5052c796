/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics_test

import (
	"context"
	"testing"

	"chainguard.dev/issueagent/agents/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func sums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() = %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestGenAI(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	var enriched int
	m := metrics.NewGenAI("test.agents")
	m.SetAttributeEnricher(func(_ context.Context, base []attribute.KeyValue) []attribute.KeyValue {
		enriched++
		return append(base, attribute.String("repository", "octo/hello"))
	})

	ctx := context.Background()
	m.RecordTokens(ctx, "gpt-4o", 100, 20)
	m.RecordToolCall(ctx, "gpt-4o", "get_file_content")
	m.RecordToolCall(ctx, "gpt-4o", "commit_change")
	m.RecordDuplicate(ctx, "gpt-4o", "get_file_content")
	m.RecordTruncated(ctx, "gpt-4o", 2)
	m.RecordTurn(ctx, "gpt-4o", "explore")
	m.RecordRun(ctx, "completed", 1.5)

	got := sums(t, reader)
	want := map[string]int64{
		"genai.token.prompt":     100,
		"genai.token.completion": 20,
		"genai.tool.calls":       2,
		"genai.tool.duplicates":  1,
		"genai.tool.truncated":   1,
		"genai.turns":            1,
		"genai.runs":             1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s: got = %d, wanted = %d", name, got[name], v)
		}
	}
	if enriched != 7 {
		t.Errorf("enricher calls: got = %d, wanted = 7", enriched)
	}
}
