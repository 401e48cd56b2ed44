// Package tracer defines the call-lifecycle observation interfaces that make
// up a server's instrumentation pipeline.
//
// A Factory is consulted once per call, before dispatch; the Tracer it
// returns observes that call until CallEnded. The assembled pipeline is an
// ordered factory list: the stats factory (when enabled), then the tracing
// factory (when enabled), then every user-supplied factory in the order it
// was added.
package tracer

import (
	"context"
	"time"
)

// CallInfo describes the call a Tracer observes. Immutable for the lifetime
// of the call.
type CallInfo struct {
	// FullMethod is the "<service>/<method>" name being invoked.
	FullMethod string
	// Transport is the name of the transport carrying the call.
	Transport string
	// Start is when the server accepted the call.
	Start time.Time
}

// Factory creates a Tracer per call.
type Factory interface {
	// NewTracer is invoked before dispatch. It may derive a new context
	// (e.g. to open a span) which flows into interceptors and the handler.
	NewTracer(ctx context.Context, info *CallInfo) (context.Context, Tracer)
}

// Tracer observes the lifecycle of a single call.
type Tracer interface {
	// InboundMessage is invoked when a request message arrives.
	InboundMessage()
	// OutboundMessage is invoked when a response message is produced.
	OutboundMessage()
	// CallEnded is invoked exactly once when the call finishes; err is nil
	// on success.
	CallEnded(err error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, info *CallInfo) (context.Context, Tracer)

// NewTracer implements Factory.
func (f FactoryFunc) NewTracer(ctx context.Context, info *CallInfo) (context.Context, Tracer) {
	return f(ctx, info)
}

// Noop returns a Tracer that ignores every event.
func Noop() Tracer { return noopTracer{} }

type noopTracer struct{}

func (noopTracer) InboundMessage()  {}
func (noopTracer) OutboundMessage() {}
func (noopTracer) CallEnded(error)  {}
