// Package metrics exports storage operation counters and latencies in the
// Prometheus format.
package metrics

import (
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

const namespace = "mqtt_storage"

// Collector implements storage.MetricsHook on a private registry.
type Collector struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	ops      *prometheus.CounterVec
}

var _ storage.MetricsHook = (*Collector)(nil)

// New builds a collector whose series carry the node label.
func New(node string) *Collector {
	labels := prometheus.Labels{"node": node}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "operation_duration_seconds",
			Help:        "Latency of storage operations.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "operations_total",
			Help:        "Storage operations by outcome.",
			ConstLabels: labels,
		}, []string{"op", "result"}),
	}
	c.registry.MustRegister(c.duration, c.ops, collectors.NewGoCollector())
	return c
}

// Result classifies an operation outcome for the result label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrWrongType):
		return "wrong_type"
	case errors.Is(err, storage.ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, storage.ErrClosed):
		return "closed"
	case errors.Is(err, storage.ErrUnavailable):
		return "unavailable"
	}
	return "error"
}

func (c *Collector) ObserveOp(op string, elapsed time.Duration, err error) {
	c.duration.WithLabelValues(op).Observe(elapsed.Seconds())
	c.ops.WithLabelValues(op, Result(err)).Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteText dumps every gathered family in the text exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
