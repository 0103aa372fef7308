// Package metrics exports posting pipeline metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ledgerbridge/internal/core/numerator"
	"ledgerbridge/internal/domain/posting"
)

const namespace = "ledgerbridge"

// PostingMetrics implements posting.Observer and numerator.Observer.
// A nil *PostingMetrics is a valid no-op.
type PostingMetrics struct {
	outcomes    *prometheus.CounterVec
	allocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	breaker     prometheus.Gauge
	polled      *prometheus.CounterVec
}

var (
	_ posting.Observer   = (*PostingMetrics)(nil)
	_ numerator.Observer = (*PostingMetrics)(nil)
)

// NewPostingMetrics registers the metrics on reg.
func NewPostingMetrics(reg prometheus.Registerer) *PostingMetrics {
	if reg == nil {
		return &PostingMetrics{}
	}
	m := &PostingMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posting_outcomes_total",
			Help:      "Posting attempts by outcome code.",
		}, []string{"code"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_attempts_total",
			Help:      "Consecutive number allocation attempts by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "posting_duration_seconds",
			Help:      "Duration of posting attempts in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code"}),
		breaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_tripped",
			Help:      "1 while the posting circuit breaker is tripped.",
		}),
		polled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_messages_total",
			Help:      "Queue messages handled by the poller by disposition.",
		}, []string{"disposition"}),
	}
	reg.MustRegister(m.outcomes, m.allocations, m.duration, m.breaker, m.polled)
	return m
}

// ObservePost implements posting.Observer.
func (m *PostingMetrics) ObservePost(code string, elapsed time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	code = normalizeLabel(code)
	m.outcomes.WithLabelValues(code).Inc()
	m.duration.WithLabelValues(code).Observe(elapsed.Seconds())
}

// ObserveBreaker implements posting.Observer.
func (m *PostingMetrics) ObserveBreaker(tripped bool) {
	if m == nil || m.breaker == nil {
		return
	}
	if tripped {
		m.breaker.Set(1)
		return
	}
	m.breaker.Set(0)
}

// ObserveAllocation implements numerator.Observer.
func (m *PostingMetrics) ObserveAllocation(result string) {
	if m == nil || m.allocations == nil {
		return
	}
	m.allocations.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObservePoll counts a queue message by what the poller did with it.
func (m *PostingMetrics) ObservePoll(disposition string) {
	if m == nil || m.polled == nil {
		return
	}
	m.polled.WithLabelValues(normalizeLabel(disposition)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
