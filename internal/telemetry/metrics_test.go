package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestMetricsRecordOnProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newMetrics(provider.Meter(instrumentationName))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	ctx := context.Background()
	m.EscalationsFired.Add(ctx, 2, metric.WithAttributes(attribute.String("rule_id", "r1")))
	m.RecalcDuration.Record(ctx, 0.25)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	found := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, inst := range scope.Metrics {
			found[inst.Name] = true
		}
	}
	if !found["escalation.executions.fired"] || !found["scheduler.pass.duration"] {
		t.Fatalf("expected instruments to be exported, got %v", found)
	}
}

func TestNopMetricsAreUsable(t *testing.T) {
	m := NopMetrics()
	m.DispatchFailures.Add(context.Background(), 1)
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown := Setup(context.Background(), Config{ServiceName: "test"}, zap.NewNop())
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
