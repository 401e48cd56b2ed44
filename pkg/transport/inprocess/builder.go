package inprocess

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/chassis/pkg/executor"
	"github.com/kart-io/chassis/pkg/metrics"
	"github.com/kart-io/chassis/pkg/registry"
	"github.com/kart-io/chassis/pkg/server"
)

// Builder assembles a server listening on an in-process name. It wraps the
// base server builder with a fixed transport factory; all configuration
// delegates to the base.
type Builder struct {
	base *server.Builder
}

// NewBuilder returns a builder whose servers listen on name.
func NewBuilder(name string) *Builder {
	return &Builder{base: server.NewBuilder(NewFactory(name))}
}

// AddService registers every method of desc.
func (b *Builder) AddService(desc *registry.ServiceDesc) error {
	return b.base.AddService(desc)
}

// AddBindableService registers the service produced by svc.BindService.
func (b *Builder) AddBindableService(svc registry.BindableService) error {
	return b.base.AddBindableService(svc)
}

// Executor installs a caller-owned executor; nil restores the shared
// default.
func (b *Builder) Executor(exec executor.Executor) *Builder {
	b.base.Executor(exec)
	return b
}

// DirectExecutor runs handlers inline on the calling goroutine. The usual
// choice for in-process servers, where there is no transport thread to
// protect.
func (b *Builder) DirectExecutor() *Builder {
	b.base.DirectExecutor()
	return b
}

// Intercept appends an interceptor to the chain.
func (b *Builder) Intercept(interceptor server.Interceptor) *Builder {
	b.base.Intercept(interceptor)
	return b
}

// AddTracerFactory appends a user instrumentation factory.
func (b *Builder) AddTracerFactory(factory server.TracerFactory) *Builder {
	b.base.AddTracerFactory(factory)
	return b
}

// AddTransportFilter appends a transport lifecycle filter.
func (b *Builder) AddTransportFilter(filter server.TransportFilter) *Builder {
	b.base.AddTransportFilter(filter)
	return b
}

// AddBuildListener appends a build listener.
func (b *Builder) AddBuildListener(listener server.BuildListener) *Builder {
	b.base.AddBuildListener(listener)
	return b
}

// FallbackRegistry installs the lookup consulted on registry misses.
func (b *Builder) FallbackRegistry(lookup registry.Lookup) *Builder {
	b.base.FallbackRegistry(lookup)
	return b
}

// StatsRegistry directs call metrics at r.
func (b *Builder) StatsRegistry(r *metrics.Registry) *Builder {
	b.base.StatsRegistry(r)
	return b
}

// TracerProvider installs the OpenTelemetry provider used for call spans.
func (b *Builder) TracerProvider(tp trace.TracerProvider) *Builder {
	b.base.TracerProvider(tp)
	return b
}

// SetStatsEnabled toggles the stats stage of the pipeline.
func (b *Builder) SetStatsEnabled(enabled bool) *Builder {
	b.base.SetStatsEnabled(enabled)
	return b
}

// SetTracingEnabled toggles the tracing stage of the pipeline.
func (b *Builder) SetTracingEnabled(enabled bool) *Builder {
	b.base.SetTracingEnabled(enabled)
	return b
}

// Build assembles the server. See server.Builder.Build for the failure
// contract.
func (b *Builder) Build() (*server.Server, error) {
	return b.base.Build()
}
