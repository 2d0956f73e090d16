package core

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// EventCounter counts domain events (norms created, cases solved, ...).
type EventCounter interface {
	CountEvent(event string, n int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) CountEvent(string, int)                               {}

// PrometheusRecorder exports operation latencies and event counts.
type PrometheusRecorder struct {
	durations *prometheus.HistogramVec
	events    *prometheus.CounterVec
}

// NewPrometheusRecorder registers the service collectors with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "optimus",
			Name:      "operation_duration_seconds",
			Help:      "Latency of society service operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"operation", "status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "optimus",
			Name:      "events_total",
			Help:      "Domain events emitted by the society.",
		}, []string{"event"}),
	}
	if err := reg.Register(r.durations); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, err
		}
		r.durations = existing
	}
	if err := reg.Register(r.events); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		r.events = existing
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// CountEvent implements EventCounter.
func (r *PrometheusRecorder) CountEvent(event string, n int) {
	if n <= 0 {
		return
	}
	r.events.WithLabelValues(event).Add(float64(n))
}
