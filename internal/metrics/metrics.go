// Package metrics records per-opcode request counts, latencies, and
// error counts for the FUSE operations a Filesystem dispatches.
package metrics

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Handle is the instrumentation surface Dispatch calls on every
// request: one count, one latency observation, and an error count when
// the op replies with a non-zero errno.
type Handle interface {
	OpsCount(ctx context.Context, op string)
	OpsLatency(ctx context.Context, op string, latency time.Duration)
	OpsErrorCount(ctx context.Context, op string, errno int32)
}

var opsMeter = otel.Meter("ovfs/fs_ops")

type otelPromHandle struct {
	otelOpsCount      metric.Int64Counter
	otelOpsLatency    metric.Float64Histogram
	otelOpsErrorCount metric.Int64Counter

	promOpsCount      *prometheus.CounterVec
	promOpsLatency    *prometheus.HistogramVec
	promOpsErrorCount *prometheus.CounterVec
}

// New builds a Handle that records to both an OTel meter (for whatever
// exporter the process wires up) and a Prometheus registry, mirroring
// the dual-reporting shape gcsfuse uses during its OpenCensus->OTel
// migration — except here there is no legacy side, just two live
// consumers the operator may want (a /metrics scrape endpoint and an
// OTel collector pipeline).
func New(reg prometheus.Registerer) (Handle, error) {
	otelOpsCount, err := opsMeter.Int64Counter("fs/ops_count",
		metric.WithDescription("cumulative number of FUSE ops dispatched"))
	if err != nil {
		return nil, err
	}
	otelOpsLatency, err := opsMeter.Float64Histogram("fs/ops_latency",
		metric.WithDescription("distribution of FUSE op latencies"),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50,
			65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000,
			20000, 50000, 100000))
	if err != nil {
		return nil, err
	}
	otelOpsErrorCount, err := opsMeter.Int64Counter("fs/ops_error_count",
		metric.WithDescription("cumulative number of FUSE ops that replied with an errno"))
	if err != nil {
		return nil, err
	}

	factory := promauto.With(reg)
	return &otelPromHandle{
		otelOpsCount:      otelOpsCount,
		otelOpsLatency:    otelOpsLatency,
		otelOpsErrorCount: otelOpsErrorCount,
		promOpsCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ovfs", Subsystem: "fs", Name: "ops_total",
			Help: "Cumulative number of FUSE ops dispatched, by op name.",
		}, []string{"op"}),
		promOpsLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ovfs", Subsystem: "fs", Name: "ops_latency_seconds",
			Help:    "FUSE op latency in seconds, by op name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		promOpsErrorCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ovfs", Subsystem: "fs", Name: "ops_errors_total",
			Help: "Cumulative number of FUSE ops that replied with an errno, by op name and errno.",
		}, []string{"op", "errno"}),
	}, nil
}

func (h *otelPromHandle) OpsCount(ctx context.Context, op string) {
	h.otelOpsCount.Add(ctx, 1, metric.WithAttributes(attribute.String("fs_op", op)))
	h.promOpsCount.WithLabelValues(op).Inc()
}

func (h *otelPromHandle) OpsLatency(ctx context.Context, op string, latency time.Duration) {
	h.otelOpsLatency.Record(ctx, float64(latency.Microseconds()), metric.WithAttributes(attribute.String("fs_op", op)))
	h.promOpsLatency.WithLabelValues(op).Observe(latency.Seconds())
}

func (h *otelPromHandle) OpsErrorCount(ctx context.Context, op string, errno int32) {
	attrs := []attribute.KeyValue{attribute.String("fs_op", op), attribute.Int("errno", int(errno))}
	h.otelOpsErrorCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	h.promOpsErrorCount.WithLabelValues(op, strconv.Itoa(int(errno))).Inc()
}
