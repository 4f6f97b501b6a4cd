package pipeline

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
)

const metricsNamespace = "azhlf"

// Metrics counts pipeline outcomes and records per-phase latency.
type Metrics struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	aborts   prometheus.Counter
	latency  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "transactions_total",
				Help:      "Transactions driven through the pipeline, by operation and final state.",
			},
			[]string{"operation", "state"},
		),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "aborted_total",
			Help:      "Transactions that failed or timed out.",
		}),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "phase_duration_seconds",
				Help:      "Time spent in each pipeline phase.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "phase"},
		),
	}
	m.registry.MustRegister(m.outcomes, m.aborts, m.latency)
	return m
}

// Aborted returns the number of failed or timed out runs.
func (m *Metrics) Aborted() int {
	metric := &dto.Metric{}
	if err := m.aborts.Write(metric); err != nil {
		return 0
	}
	return int(metric.GetCounter().GetValue())
}

func (m *Metrics) observeOutcome(operation string, state State) {
	m.outcomes.WithLabelValues(operation, state.String()).Inc()
	if state == StateFailed || state == StateTimedOut {
		m.aborts.Inc()
	}
}

func (m *Metrics) observePhase(operation, phase string, seconds float64) {
	m.latency.WithLabelValues(operation, phase).Observe(seconds)
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends the collected metrics to a Prometheus push gateway.
func (m *Metrics) Push(url, job string) error {
	if url == "" {
		return nil
	}
	err := push.New(url, job).Gatherer(m.registry).Push()
	return errors.Wrapf(err, "failed to push metrics to %s", url)
}
