// Package stats provides the stats instrumentation module. Its tracer
// factory sits first in a server's instrumentation pipeline and records
// per-method call counters, message counters, and latency.
package stats

import (
	"context"
	"time"

	"github.com/kart-io/chassis/pkg/metrics"
	"github.com/kart-io/chassis/pkg/tracer"
)

// Metric names emitted by the module.
const (
	MetricCallsStarted   = "chassis_server_calls_started_total"
	MetricCallsCompleted = "chassis_server_calls_completed_total"
	MetricCallsFailed    = "chassis_server_calls_failed_total"
	MetricCallLatency    = "chassis_server_call_latency_seconds"
	MetricInboundMsgs    = "chassis_server_inbound_messages_total"
	MetricOutboundMsgs   = "chassis_server_outbound_messages_total"
	MetricCallsInflight  = "chassis_server_calls_inflight"
)

// Module wires call lifecycle events into a metrics registry. One Module is
// created per Build, against either the override registry the caller injected
// or the process-wide default.
type Module struct {
	record bool

	started   metrics.CounterVec
	completed metrics.CounterVec
	failed    metrics.CounterVec
	latency   metrics.HistogramVec
	inbound   metrics.CounterVec
	outbound  metrics.CounterVec
	inflight  metrics.Gauge
}

// NewModule creates a stats module recording into registry; nil means the
// process-wide default registry. When record is false the module still
// participates in the pipeline but emits nothing, mirroring the record-stats
// toggle.
func NewModule(registry *metrics.Registry, record bool) *Module {
	if registry == nil {
		registry = metrics.Default()
	}

	m := &Module{
		record:    record,
		started:   vec(registry, MetricCallsStarted, "Calls started, by method"),
		completed: vec(registry, MetricCallsCompleted, "Calls completed successfully, by method"),
		failed:    vec(registry, MetricCallsFailed, "Calls completed with an error, by method"),
		inbound:   vec(registry, MetricInboundMsgs, "Inbound messages, by method"),
		outbound:  vec(registry, MetricOutboundMsgs, "Outbound messages, by method"),
	}

	m.latency = registry.GetOrRegister(MetricCallLatency, func() metrics.Metric {
		return metrics.NewHistogramVec(MetricCallLatency, "Call latency, by method", nil)
	}).(metrics.HistogramVec)
	m.inflight = registry.GetOrRegister(MetricCallsInflight, func() metrics.Metric {
		return metrics.NewGauge(MetricCallsInflight, "Calls currently in flight")
	}).(metrics.Gauge)

	return m
}

func vec(registry *metrics.Registry, name, help string) metrics.CounterVec {
	return registry.GetOrRegister(name, func() metrics.Metric {
		return metrics.NewCounterVec(name, help)
	}).(metrics.CounterVec)
}

// TracerFactory returns the pipeline factory for this module.
func (m *Module) TracerFactory() tracer.Factory {
	return tracer.FactoryFunc(func(ctx context.Context, info *tracer.CallInfo) (context.Context, tracer.Tracer) {
		if !m.record {
			return ctx, tracer.Noop()
		}
		labels := map[string]string{"method": info.FullMethod}
		m.started.With(labels).Inc()
		m.inflight.Inc()
		return ctx, &callTracer{
			module: m,
			labels: labels,
			start:  info.Start,
		}
	})
}

type callTracer struct {
	module *Module
	labels map[string]string
	start  time.Time
}

func (t *callTracer) InboundMessage() {
	t.module.inbound.With(t.labels).Inc()
}

func (t *callTracer) OutboundMessage() {
	t.module.outbound.With(t.labels).Inc()
}

func (t *callTracer) CallEnded(err error) {
	t.module.inflight.Dec()
	if err != nil {
		t.module.failed.With(t.labels).Inc()
	} else {
		t.module.completed.With(t.labels).Inc()
	}
	if !t.start.IsZero() {
		t.module.latency.With(t.labels).Observe(time.Since(t.start).Seconds())
	}
}
