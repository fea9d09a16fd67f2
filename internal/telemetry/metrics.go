package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "compliance/engine-service"

type Metrics struct {
	EscalationsFired  metric.Int64Counter
	DispatchFailures  metric.Int64Counter
	DispatchDropped   metric.Int64Counter
	Recalculations    metric.Int64Counter
	RecalcFailures    metric.Int64Counter
	SkippedTicks      metric.Int64Counter
	RecalcDuration    metric.Float64Histogram
	BreachesOpened    metric.Int64Counter
	TransitionsFailed metric.Int64Counter
}

// NewMetrics registers instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(instrumentationName))
}

// NopMetrics returns instruments that record nothing.
func NopMetrics() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.EscalationsFired, "escalation.executions.fired", "Escalation tiers fired"},
		{&m.DispatchFailures, "escalation.dispatch.failures", "Escalation side effects that failed"},
		{&m.DispatchDropped, "escalation.dispatch.dropped", "Escalation side effects dropped on a full queue"},
		{&m.Recalculations, "compliance.recalculations", "Entity recalculations completed"},
		{&m.RecalcFailures, "compliance.recalculation.failures", "Entity recalculations that failed"},
		{&m.SkippedTicks, "scheduler.ticks.skipped", "Scheduler ticks skipped while a pass was running"},
		{&m.BreachesOpened, "sla.breaches.opened", "SLA breaches opened"},
		{&m.TransitionsFailed, "request.transitions.rejected", "Status transitions rejected"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}
	m.RecalcDuration, err = meter.Float64Histogram("scheduler.pass.duration",
		metric.WithDescription("Recalculation pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
