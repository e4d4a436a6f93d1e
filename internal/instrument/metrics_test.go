package instrument

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/routedev/internal/domain"
)

func counterValue(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "routedev_handler_invocations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Observe(domain.Event{RouteID: "root", Kind: domain.KindLoader, Status: 200, ExecutionTimeMS: 4})
	m.Observe(domain.Event{RouteID: "root", Kind: domain.KindLoader, Failed: true, ExecutionTimeMS: 2})
	m.Observe(domain.Event{RouteID: "root", Kind: domain.KindLoader, Failed: true, ExecutionTimeMS: 1})

	if got := counterValue(t, reg, "ok"); got != 1 {
		t.Fatalf("expected 1 ok invocation, got %v", got)
	}
	if got := counterValue(t, reg, "error"); got != 2 {
		t.Fatalf("expected 2 failed invocations, got %v", got)
	}

	again := NewMetrics(reg)
	if again.invocations != m.invocations {
		t.Fatalf("expected the registered collector to be reused")
	}

	var nilMetrics *Metrics
	nilMetrics.Observe(domain.Event{})
}
