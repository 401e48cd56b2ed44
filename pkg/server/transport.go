package server

import (
	"context"
)

// Attributes carries transport-scoped key/value pairs through the transport
// filter chain.
type Attributes map[string]any

// TransportFilter observes transport lifecycle transitions. Filters run in
// registration order on ready and in reverse order on termination.
type TransportFilter interface {
	// TransportReady is invoked when the transport becomes ready. The
	// returned attributes replace attrs for downstream filters.
	TransportReady(attrs Attributes) Attributes
	// TransportTerminated is invoked after the transport shut down, with
	// the attributes produced by the ready chain.
	TransportTerminated(attrs Attributes)
}

// Dispatcher is the call surface a transport drives. The assembled Server
// implements it.
type Dispatcher interface {
	// Invoke dispatches one unary call through the server's
	// instrumentation pipeline, interceptor chain, and method handler.
	Invoke(ctx context.Context, fullMethod string, req any) (any, error)
}

// Transport is a transport-bound server handle, produced once per Build by
// the TransportFactory extension point.
type Transport interface {
	// Start makes the transport serve calls against dispatcher.
	Start(ctx context.Context, dispatcher Dispatcher) error
	// Stop shuts the transport down gracefully.
	Stop(ctx context.Context) error
	// Name returns the transport name (e.g. "inprocess").
	Name() string
}

// TransportFactory is the single extension point into transport-specific
// code. Build invokes it exactly once, passing the immutable instrumentation
// pipeline; everything else the transport needs arrives through Start.
type TransportFactory interface {
	NewTransport(factories []TracerFactory) (Transport, error)
}

// TransportFactoryFunc adapts a function to the TransportFactory interface.
type TransportFactoryFunc func(factories []TracerFactory) (Transport, error)

// NewTransport implements TransportFactory.
func (f TransportFactoryFunc) NewTransport(factories []TracerFactory) (Transport, error) {
	return f(factories)
}
