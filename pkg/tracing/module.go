package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/chassis/pkg/registry"
	"github.com/kart-io/chassis/pkg/tracer"
)

// TracerName is the instrumentation scope name for server call spans.
const TracerName = "github.com/kart-io/chassis/pkg/tracing"

// Module is the tracing instrumentation module. Its factory sits after the
// stats factory in the pipeline and opens one server span per call.
type Module struct {
	tracer trace.Tracer
}

// NewModule creates a tracing module against tp; nil means the process-wide
// global provider, resolved at module construction.
func NewModule(tp trace.TracerProvider) *Module {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Module{tracer: tp.Tracer(TracerName)}
}

// TracerFactory returns the pipeline factory for this module.
func (m *Module) TracerFactory() tracer.Factory {
	return tracer.FactoryFunc(func(ctx context.Context, info *tracer.CallInfo) (context.Context, tracer.Tracer) {
		service, method := registry.SplitFullMethodName(info.FullMethod)
		ctx, span := m.tracer.Start(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.RPCService(service),
				semconv.RPCMethod(method),
				attribute.String("rpc.transport", info.Transport),
			),
		)
		return ctx, &spanTracer{span: span}
	})
}

type spanTracer struct {
	span trace.Span
}

func (t *spanTracer) InboundMessage() {
	t.span.AddEvent("message.received")
}

func (t *spanTracer) OutboundMessage() {
	t.span.AddEvent("message.sent")
}

func (t *spanTracer) CallEnded(err error) {
	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	} else {
		t.span.SetStatus(codes.Ok, "")
	}
	t.span.End()
}
