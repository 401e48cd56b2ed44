// Package server assembles user configuration into an immutable, runnable
// Server. The Builder accumulates services, interceptors, executors, and
// instrumentation toggles; Build freezes the method registry, composes the
// instrumentation pipeline, acquires the executor resource, crosses into the
// transport through a single extension point, and notifies build listeners
// exactly once.
package server

import (
	"context"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/chassis/pkg/encoding"
	apierrors "github.com/kart-io/chassis/pkg/errors"
	"github.com/kart-io/chassis/pkg/executor"
	"github.com/kart-io/chassis/pkg/metrics"
	"github.com/kart-io/chassis/pkg/pool"
	"github.com/kart-io/chassis/pkg/registry"
	"github.com/kart-io/chassis/pkg/stats"
	"github.com/kart-io/chassis/pkg/tracer"
	"github.com/kart-io/chassis/pkg/tracing"
)

// Re-export the pipeline types for convenience.
type (
	// TracerFactory creates a call tracer per dispatched call.
	TracerFactory = tracer.Factory
	// CallTracer observes one call's lifecycle.
	CallTracer = tracer.Tracer
)

// Interceptor wraps the invocation of a method handler. Interceptors run in
// registration order, each receiving the next element of the chain.
type Interceptor func(ctx context.Context, req any, info *CallInfo, handler registry.Handler) (any, error)

// CallInfo describes the call an interceptor is wrapping.
type CallInfo struct {
	// FullMethod is the "<service>/<method>" name being invoked.
	FullMethod string
	// Server is the server the call arrived on.
	Server *Server
}

// BuildListener is notified exactly once, synchronously, with the finished
// server after construction completes and before Build returns. A listener
// error aborts the build.
type BuildListener interface {
	OnServerBuilt(srv *Server) error
}

// Builder accumulates server configuration. Not safe for concurrent use; the
// caller owns it until Build, after which ownership of the accumulated state
// transfers to the Server.
type Builder struct {
	transportFactory TransportFactory

	registryBuilder  *registry.Builder
	transportFilters []TransportFilter
	interceptors     []Interceptor
	tracerFactories  []TracerFactory
	buildListeners   []BuildListener

	fallback      registry.Lookup
	executorPool  pool.ObjectPool[executor.Executor]
	compressors   *encoding.Registry
	decompressors *encoding.Registry

	statsEnabled   bool
	recordStats    bool
	tracingEnabled bool
	statsRegistry  *metrics.Registry    // nil means the process-wide default
	tracerProvider trace.TracerProvider // nil means the global otel provider

	built bool
}

// NewBuilder creates a Builder bound to the given transport extension point.
func NewBuilder(factory TransportFactory) *Builder {
	if factory == nil {
		panic("server: nil transport factory")
	}
	return &Builder{
		transportFactory: factory,
		registryBuilder:  registry.NewBuilder(),
		fallback:         registry.Empty,
		executorPool:     executor.SharedDefaultPool(),
		compressors:      encoding.DefaultCompressors(),
		decompressors:    encoding.DefaultDecompressors(),
		statsEnabled:     true,
		recordStats:      true,
		tracingEnabled:   true,
	}
}

// Executor installs a fixed, caller-owned executor. The framework never
// controls its lifecycle. Passing nil restores the shared default executor
// pool.
func (b *Builder) Executor(exec executor.Executor) *Builder {
	if exec != nil {
		b.executorPool = pool.Fixed[executor.Executor](exec)
	} else {
		b.executorPool = executor.SharedDefaultPool()
	}
	return b
}

// DirectExecutor runs handlers inline on the transport's goroutine. Shorthand
// for Executor(executor.Direct()).
func (b *Builder) DirectExecutor() *Builder {
	return b.Executor(executor.Direct())
}

// AddService registers all methods of desc. Duplicate full method names and
// empty names fail here, at the offending call, leaving the builder unchanged.
func (b *Builder) AddService(desc *registry.ServiceDesc) error {
	return b.registryBuilder.AddService(desc)
}

// AddBindableService registers the service definition bound by svc. If svc
// also implements BuildListener it is enrolled for build notification.
func (b *Builder) AddBindableService(svc registry.BindableService) error {
	if svc == nil {
		return apierrors.ErrInvalidArgument.WithMessage("nil bindable service")
	}
	if err := b.registryBuilder.AddService(svc.BindService()); err != nil {
		return err
	}
	if l, ok := svc.(BuildListener); ok {
		b.buildListeners = append(b.buildListeners, l)
	}
	return nil
}

// AddTransportFilter appends filter to the ordered transport filter list.
func (b *Builder) AddTransportFilter(filter TransportFilter) *Builder {
	if filter == nil {
		panic("server: nil transport filter")
	}
	b.transportFilters = append(b.transportFilters, filter)
	return b
}

// Intercept appends interceptor to the ordered interceptor chain.
func (b *Builder) Intercept(interceptor Interceptor) *Builder {
	if interceptor == nil {
		panic("server: nil interceptor")
	}
	b.interceptors = append(b.interceptors, interceptor)
	return b
}

// AddTracerFactory appends a user tracer factory. User factories run after
// the stats and tracing factories, in the order they were added.
func (b *Builder) AddTracerFactory(factory TracerFactory) *Builder {
	if factory == nil {
		panic("server: nil tracer factory")
	}
	b.tracerFactories = append(b.tracerFactories, factory)
	return b
}

// FallbackRegistry installs the lookup consulted on primary registry misses.
// Passing nil restores the empty fallback, which resolves nothing.
func (b *Builder) FallbackRegistry(lookup registry.Lookup) *Builder {
	if lookup != nil {
		b.fallback = lookup
	} else {
		b.fallback = registry.Empty
	}
	return b
}

// CompressorRegistry installs the compressor registry. Passing nil restores
// the process-wide default.
func (b *Builder) CompressorRegistry(r *encoding.Registry) *Builder {
	if r != nil {
		b.compressors = r
	} else {
		b.compressors = encoding.DefaultCompressors()
	}
	return b
}

// DecompressorRegistry installs the decompressor registry. Passing nil
// restores the process-wide default.
func (b *Builder) DecompressorRegistry(r *encoding.Registry) *Builder {
	if r != nil {
		b.decompressors = r
	} else {
		b.decompressors = encoding.DefaultDecompressors()
	}
	return b
}

// StatsRegistry overrides the metrics registry backing the stats module.
// Passing nil restores the process-wide default registry.
func (b *Builder) StatsRegistry(r *metrics.Registry) *Builder {
	b.statsRegistry = r
	return b
}

// TracerProvider overrides the OpenTelemetry provider backing the tracing
// module. Passing nil restores the global provider.
func (b *Builder) TracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// SetStatsEnabled toggles the stats factory. Enabled by default.
func (b *Builder) SetStatsEnabled(enabled bool) *Builder {
	b.statsEnabled = enabled
	return b
}

// SetRecordStats toggles stats recording. Effective only while stats are
// enabled. Enabled by default.
func (b *Builder) SetRecordStats(record bool) *Builder {
	b.recordStats = record
	return b
}

// SetTracingEnabled toggles the tracing factory. Enabled by default.
func (b *Builder) SetTracingEnabled(enabled bool) *Builder {
	b.tracingEnabled = enabled
	return b
}

// AddBuildListener enrolls listener for exactly-once notification with the
// finished server.
func (b *Builder) AddBuildListener(listener BuildListener) *Builder {
	if listener == nil {
		panic("server: nil build listener")
	}
	b.buildListeners = append(b.buildListeners, listener)
	return b
}

// composeTracerFactories builds the ordered instrumentation pipeline:
// stats factory (if enabled), tracing factory (if enabled), then user
// factories in insertion order. The order is a contract: stats counters see
// the call before trace spans, which see it before user observers, whatever
// the call outcome.
func (b *Builder) composeTracerFactories() []TracerFactory {
	factories := make([]TracerFactory, 0, len(b.tracerFactories)+2)
	if b.statsEnabled {
		factories = append(factories, stats.NewModule(b.statsRegistry, b.recordStats).TracerFactory())
	}
	if b.tracingEnabled {
		factories = append(factories, tracing.NewModule(b.tracerProvider).TracerFactory())
	}
	factories = append(factories, b.tracerFactories...)
	return factories
}

// Build is the terminal operation. It freezes the registry, composes the
// instrumentation pipeline, acquires the executor, crosses into the transport
// extension point, constructs the immutable Server, and notifies build
// listeners in registration order. Any failure releases the acquired executor
// before the error propagates; a second Build fails with ErrAlreadyBuilt.
func (b *Builder) Build() (*Server, error) {
	if b.built {
		return nil, apierrors.ErrAlreadyBuilt
	}

	reg := b.registryBuilder.Build(b.fallback)
	factories := b.composeTracerFactories()

	exec, err := b.executorPool.Acquire()
	if err != nil {
		return nil, apierrors.ErrResourceAcquisition.WithCause(err)
	}

	transport, err := b.transportFactory.NewTransport(factories)
	if err != nil {
		b.executorPool.Release(exec)
		return nil, apierrors.ErrTransportConstruction.WithCause(err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		id:               ulid.Make().String(),
		registry:         reg,
		transport:        transport,
		transportFilters: append([]TransportFilter(nil), b.transportFilters...),
		interceptor:      chainInterceptors(b.interceptors),
		tracerFactories:  factories,
		executorPool:     b.executorPool,
		executor:         exec,
		compressors:      b.compressors,
		decompressors:    b.decompressors,
		rootCtx:          rootCtx,
		cancel:           cancel,
	}
	b.built = true

	for _, listener := range b.buildListeners {
		if err := listener.OnServerBuilt(srv); err != nil {
			srv.releaseResources()
			return nil, apierrors.ErrBuildListener.WithCause(err)
		}
	}

	logger.Infow("Server assembled",
		"server_id", srv.id,
		"transport", transport.Name(),
		"services", len(reg.Services()),
		"tracer_factories", len(factories),
	)
	return srv, nil
}

// chainInterceptors folds the ordered interceptor list into one. The first
// registered interceptor is outermost, matching registration order.
func chainInterceptors(interceptors []Interceptor) Interceptor {
	switch len(interceptors) {
	case 0:
		return nil
	case 1:
		return interceptors[0]
	}
	return func(ctx context.Context, req any, info *CallInfo, handler registry.Handler) (any, error) {
		chained := handler
		for i := len(interceptors) - 1; i > 0; i-- {
			interceptor, next := interceptors[i], chained
			chained = func(ctx context.Context, req any) (any, error) {
				return interceptor(ctx, req, info, next)
			}
		}
		return interceptors[0](ctx, req, info, chained)
	}
}
