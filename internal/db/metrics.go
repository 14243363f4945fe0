package db

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts and times gateway calls.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamsync",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Persistence gateway calls by collection, operation and result.",
		}, []string{"collection", "op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "teamsync",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Persistence gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection", "op"}),
	}
	reg.MustRegister(m.calls, m.duration)
	return m
}

func (m *Metrics) observe(coll, op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrExists):
		result = "exists"
	default:
		result = "error"
	}
	m.calls.WithLabelValues(coll, op, result).Inc()
	m.duration.WithLabelValues(coll, op).Observe(time.Since(start).Seconds())
}

type instrumentedCollection[T Entity] struct {
	next Collection[T]
	name string
	m    *Metrics
}

func instrument[T Entity](c Collection[T], name string, m *Metrics) Collection[T] {
	return &instrumentedCollection[T]{next: c, name: name, m: m}
}

func (c *instrumentedCollection[T]) List(ctx context.Context) ([]T, error) {
	start := time.Now()
	items, err := c.next.List(ctx)
	c.m.observe(c.name, "list", start, err)
	return items, err
}

func (c *instrumentedCollection[T]) Create(ctx context.Context, v T) (T, error) {
	start := time.Now()
	out, err := c.next.Create(ctx, v)
	c.m.observe(c.name, "create", start, err)
	return out, err
}

func (c *instrumentedCollection[T]) Update(ctx context.Context, v T) error {
	start := time.Now()
	err := c.next.Update(ctx, v)
	c.m.observe(c.name, "update", start, err)
	return err
}

func (c *instrumentedCollection[T]) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := c.next.Delete(ctx, id)
	c.m.observe(c.name, "delete", start, err)
	return err
}
