package instrument

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/routedev/internal/domain"
)

var histogramBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Metrics records handler invocations as Prometheus series.
type Metrics struct {
	once        sync.Once
	registerer  prometheus.Registerer
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	initialized bool
}

// NewMetrics builds handler metrics registered on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{registerer: reg}
	m.init()
	return m
}

func (m *Metrics) init() {
	m.once.Do(func() {
		m.invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routedev",
			Subsystem: "handler",
			Name:      "invocations_total",
			Help:      "Count of instrumented loader and action invocations",
		}, []string{"route", "kind", "outcome", "status"})

		m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "routedev",
			Subsystem: "handler",
			Name:      "duration_seconds",
			Help:      "Execution time of instrumented loaders and actions",
			Buckets:   histogramBuckets,
		}, []string{"route", "kind"})

		collectors := []prometheus.Collector{m.invocations, m.duration}
		for _, collector := range collectors {
			if err := m.registerer.Register(collector); err != nil {
				if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch existing := already.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						m.invocations = existing
					case *prometheus.HistogramVec:
						m.duration = existing
					}
				}
			}
		}
		m.initialized = true
	})
}

// Observe records ev.
func (m *Metrics) Observe(ev domain.Event) {
	if m == nil || !m.initialized {
		return
	}
	outcome := "ok"
	if ev.Failed {
		outcome = "error"
	}
	m.invocations.With(prometheus.Labels{
		"route":   ev.RouteID,
		"kind":    string(ev.Kind),
		"outcome": outcome,
		"status":  strconv.Itoa(ev.Status),
	}).Inc()
	seconds := time.Duration(ev.ExecutionTimeMS * float64(time.Millisecond)).Seconds()
	m.duration.With(prometheus.Labels{"route": ev.RouteID, "kind": string(ev.Kind)}).Observe(seconds)
}
