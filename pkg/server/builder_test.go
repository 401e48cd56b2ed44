package server

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	apierrors "github.com/kart-io/chassis/pkg/errors"
	"github.com/kart-io/chassis/pkg/executor"
	"github.com/kart-io/chassis/pkg/metrics"
	"github.com/kart-io/chassis/pkg/pool"
	"github.com/kart-io/chassis/pkg/registry"
	"github.com/kart-io/chassis/pkg/stats"
	"github.com/kart-io/chassis/pkg/tracer"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu          sync.Mutex
	startCalled bool
	stopCalled  bool
	dispatcher  Dispatcher
	startErr    error
	stopErr     error
}

func (t *mockTransport) Name() string { return "mock" }

func (t *mockTransport) Start(ctx context.Context, d Dispatcher) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startCalled = true
	t.dispatcher = d
	return t.startErr
}

func (t *mockTransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCalled = true
	return t.stopErr
}

// mockFactory implements TransportFactory, recording the pipeline it got.
type mockFactory struct {
	transport *mockTransport
	factories []TracerFactory
	err       error
}

func (f *mockFactory) NewTransport(factories []TracerFactory) (Transport, error) {
	f.factories = factories
	if f.err != nil {
		return nil, f.err
	}
	if f.transport == nil {
		f.transport = &mockTransport{}
	}
	return f.transport, nil
}

// mockExecPool implements pool.ObjectPool[executor.Executor] with counters.
type mockExecPool struct {
	mu       sync.Mutex
	acquires int
	releases int
	err      error
}

func (p *mockExecPool) Acquire() (executor.Executor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.acquires++
	return executor.Direct(), nil
}

func (p *mockExecPool) Release(executor.Executor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
}

var _ pool.ObjectPool[executor.Executor] = (*mockExecPool)(nil)

// recordingFactory is a user tracer factory that logs its own activation.
type recordingFactory struct {
	name string
	log  *[]string
}

func (f *recordingFactory) NewTracer(ctx context.Context, info *tracer.CallInfo) (context.Context, tracer.Tracer) {
	*f.log = append(*f.log, f.name)
	return ctx, tracer.Noop()
}

// mockListener implements BuildListener.
type mockListener struct {
	name string
	log  *[]string
	got  *Server
	err  error
}

func (l *mockListener) OnServerBuilt(srv *Server) error {
	if l.log != nil {
		*l.log = append(*l.log, l.name)
	}
	l.got = srv
	return l.err
}

func echoService(name string, methods ...string) *registry.ServiceDesc {
	desc := &registry.ServiceDesc{Name: name}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, registry.MethodDesc{
			MethodName: m,
			Handler:    func(ctx context.Context, req any) (any, error) { return req, nil },
		})
	}
	return desc
}

func TestNewBuilderNilFactoryPanics(t *testing.T) {
	assert.Panics(t, func() { NewBuilder(nil) })
}

func TestBuildProducesServer(t *testing.T) {
	f := &mockFactory{}
	b := NewBuilder(f)
	b.executorPool = &mockExecPool{}
	require.NoError(t, b.AddService(echoService("greeter", "Hello")))

	srv, err := b.Build()
	require.NoError(t, err)
	require.NotNil(t, srv)

	assert.NotEmpty(t, srv.ID())
	assert.Len(t, srv.Services(), 1)
	assert.NotNil(t, srv.Context())
	require.NoError(t, srv.Context().Err(), "root context must be live after build")

	_, ok := srv.LookupMethod("greeter/Hello")
	assert.True(t, ok)
}

func TestBuildSecondCallFails(t *testing.T) {
	b := NewBuilder(&mockFactory{})
	b.executorPool = &mockExecPool{}

	_, err := b.Build()
	require.NoError(t, err)

	_, err = b.Build()
	assert.ErrorIs(t, err, apierrors.ErrAlreadyBuilt)
}

func TestComposePipelineOrder(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	statsReg := metrics.NewRegistry()

	var log []string
	b := NewBuilder(&mockFactory{}).
		AddTracerFactory(&recordingFactory{name: "A", log: &log}).
		AddTracerFactory(&recordingFactory{name: "B", log: &log}).
		StatsRegistry(statsReg).
		TracerProvider(tp)

	factories := b.composeTracerFactories()
	require.Len(t, factories, 4)

	ctx := context.Background()
	info := &tracer.CallInfo{FullMethod: "greeter/Hello", Transport: "mock"}

	// Position 0 is the stats factory: activating it bumps the started
	// counter in the override registry.
	ctx, _ = factories[0].NewTracer(ctx, info)
	started, ok := statsReg.Get(stats.MetricCallsStarted)
	require.True(t, ok)
	assert.Equal(t, 1.0, started.(metrics.CounterVec).With(map[string]string{"method": "greeter/Hello"}).Get())

	// Position 1 is the tracing factory: it opens a span on the context.
	ctx, _ = factories[1].NewTracer(ctx, info)
	assert.True(t, trace.SpanFromContext(ctx).SpanContext().IsValid())

	// Positions 2 and 3 are the user factories, in insertion order.
	_, _ = factories[2].NewTracer(ctx, info)
	_, _ = factories[3].NewTracer(ctx, info)
	assert.Equal(t, []string{"A", "B"}, log)
}

func TestComposePipelineStatsDisabledTracingDisabled(t *testing.T) {
	var log []string
	b := NewBuilder(&mockFactory{}).
		SetStatsEnabled(false).
		SetTracingEnabled(false).
		AddTracerFactory(&recordingFactory{name: "A", log: &log})

	factories := b.composeTracerFactories()
	assert.Len(t, factories, 1, "pipeline must hold only the user factory")
}

func TestComposePipelineStatsOnTracingOff(t *testing.T) {
	// Toggles applied after the user factories were added; the order
	// contract holds regardless.
	statsReg := metrics.NewRegistry()
	var log []string
	b := NewBuilder(&mockFactory{}).
		AddTracerFactory(&recordingFactory{name: "A", log: &log}).
		AddTracerFactory(&recordingFactory{name: "B", log: &log}).
		SetTracingEnabled(false).
		StatsRegistry(statsReg)

	factories := b.composeTracerFactories()
	require.Len(t, factories, 3)

	ctx := context.Background()
	info := &tracer.CallInfo{FullMethod: "svc/M", Transport: "mock"}
	for _, f := range factories {
		ctx, _ = f.NewTracer(ctx, info)
	}
	assert.Equal(t, []string{"A", "B"}, log, "user factories keep insertion order after the stats factory")
}

func TestBuildHandsPipelineToTransport(t *testing.T) {
	f := &mockFactory{}
	b := NewBuilder(f)
	b.executorPool = &mockExecPool{}
	b.AddTracerFactory(tracer.FactoryFunc(func(ctx context.Context, info *tracer.CallInfo) (context.Context, tracer.Tracer) {
		return ctx, tracer.Noop()
	}))

	srv, err := b.Build()
	require.NoError(t, err)

	assert.Len(t, f.factories, 3, "transport must receive stats, tracing, and the user factory")
	assert.Len(t, srv.TracerFactories(), 3)
}

func TestBuildExecutorAcquisitionFailure(t *testing.T) {
	p := &mockExecPool{err: errors.New("no threads left")}
	b := NewBuilder(&mockFactory{})
	b.executorPool = p

	_, err := b.Build()
	assert.ErrorIs(t, err, apierrors.ErrResourceAcquisition)
	assert.Equal(t, 0, p.releases, "nothing to release when acquisition failed")
}

func TestBuildTransportFailureReleasesExecutor(t *testing.T) {
	p := &mockExecPool{}
	b := NewBuilder(&mockFactory{err: errors.New("bind failed")})
	b.executorPool = p

	_, err := b.Build()
	assert.ErrorIs(t, err, apierrors.ErrTransportConstruction)
	assert.Equal(t, 1, p.acquires)
	assert.Equal(t, 1, p.releases, "failed builds must not leak pool references")
}

func TestBuildNotifiesListenersInOrder(t *testing.T) {
	var log []string
	first := &mockListener{name: "first", log: &log}
	second := &mockListener{name: "second", log: &log}

	b := NewBuilder(&mockFactory{}).
		AddBuildListener(first).
		AddBuildListener(second)
	b.executorPool = &mockExecPool{}

	srv, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, log)
	assert.Same(t, srv, first.got, "listeners must receive the finished server")
	assert.Same(t, srv, second.got)
}

func TestBuildListenerFailurePropagatesAndReleases(t *testing.T) {
	p := &mockExecPool{}
	var log []string
	failing := &mockListener{name: "failing", log: &log, err: errors.New("listener broke")}
	never := &mockListener{name: "never", log: &log}

	b := NewBuilder(&mockFactory{}).
		AddBuildListener(failing).
		AddBuildListener(never)
	b.executorPool = p

	srv, err := b.Build()
	assert.Nil(t, srv)
	assert.ErrorIs(t, err, apierrors.ErrBuildListener)
	assert.Equal(t, []string{"failing"}, log, "notification aborts at the failing listener")
	assert.Equal(t, 1, p.releases, "listener failure must still release the executor")
}

// bindableWithListener implements registry.BindableService and BuildListener.
type bindableWithListener struct {
	desc *registry.ServiceDesc
	got  *Server
}

func (s *bindableWithListener) BindService() *registry.ServiceDesc { return s.desc }
func (s *bindableWithListener) OnServerBuilt(srv *Server) error {
	s.got = srv
	return nil
}

func TestAddBindableServiceEnrollsListener(t *testing.T) {
	svc := &bindableWithListener{desc: echoService("greeter", "Hello")}
	b := NewBuilder(&mockFactory{})
	b.executorPool = &mockExecPool{}
	require.NoError(t, b.AddBindableService(svc))

	srv, err := b.Build()
	require.NoError(t, err)

	assert.Same(t, srv, svc.got, "bindable service must get its back-reference on build")
	_, ok := srv.LookupMethod("greeter/Hello")
	assert.True(t, ok)
}

func TestAddServiceNilHandlerRejected(t *testing.T) {
	// A method with no handler must never reach the dispatch path; the
	// registration call is where it fails.
	b := NewBuilder(&mockFactory{})
	b.executorPool = &mockExecPool{}

	err := b.AddService(&registry.ServiceDesc{
		Name:    "greeter",
		Methods: []registry.MethodDesc{{MethodName: "Hello", Handler: nil}},
	})
	require.ErrorIs(t, err, apierrors.ErrInvalidArgument)

	srv, err := b.Build()
	require.NoError(t, err)
	_, ok := srv.LookupMethod("greeter/Hello")
	assert.False(t, ok)
}

func TestAddBindableServiceNil(t *testing.T) {
	b := NewBuilder(&mockFactory{})
	assert.ErrorIs(t, b.AddBindableService(nil), apierrors.ErrInvalidArgument)
}

func TestAddServiceDuplicateLeavesBuilderUsable(t *testing.T) {
	b := NewBuilder(&mockFactory{})
	b.executorPool = &mockExecPool{}
	require.NoError(t, b.AddService(echoService("greeter", "Hello")))

	err := b.AddService(echoService("greeter", "Hello"))
	require.ErrorIs(t, err, apierrors.ErrDuplicateMethod)

	// The caller caught the duplicate; Build still succeeds with the
	// original single definition.
	srv, err := b.Build()
	require.NoError(t, err)
	assert.Len(t, srv.Services(), 1)
}

func TestExecutorResetRestoresSharedDefault(t *testing.T) {
	custom := executor.Direct()
	b := NewBuilder(&mockFactory{}).
		Executor(custom).
		Executor(nil)

	// Executor(nil) must restore the shared default pool, not keep the
	// previously set custom executor.
	assert.Equal(t, executor.SharedDefaultPool(), b.executorPool)
}

func TestNilAppendsPanic(t *testing.T) {
	b := NewBuilder(&mockFactory{})
	assert.Panics(t, func() { b.AddTransportFilter(nil) })
	assert.Panics(t, func() { b.Intercept(nil) })
	assert.Panics(t, func() { b.AddTracerFactory(nil) })
	assert.Panics(t, func() { b.AddBuildListener(nil) })
}

func TestFallbackRegistryReset(t *testing.T) {
	fb := registry.NewBuilder()
	require.NoError(t, fb.AddService(echoService("fallback", "Handle")))
	lookup := fb.Build(nil)

	b := NewBuilder(&mockFactory{}).FallbackRegistry(lookup).FallbackRegistry(nil)
	b.executorPool = &mockExecPool{}

	srv, err := b.Build()
	require.NoError(t, err)

	_, ok := srv.LookupMethod("fallback/Handle")
	assert.False(t, ok, "reset fallback must resolve nothing")
}

// fakeExecResource is a shared executor resource with lifecycle counters.
type fakeExecResource struct {
	mu        sync.Mutex
	created   int
	destroyed int
}

func (r *fakeExecResource) Name() string { return "test-executor" }

func (r *fakeExecResource) Create() (executor.Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
	return executor.Direct(), nil
}

func (r *fakeExecResource) Close(executor.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed++
}

func TestTwoBuildersShareExecutorResource(t *testing.T) {
	res := &fakeExecResource{}
	shared := pool.Shared[executor.Executor](res)

	build := func() *Server {
		b := NewBuilder(&mockFactory{})
		b.executorPool = shared
		srv, err := b.Build()
		require.NoError(t, err)
		return srv
	}

	var wg sync.WaitGroup
	servers := make([]*Server, 2)
	for i := range servers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			servers[i] = build()
		}(i)
	}
	wg.Wait()

	res.mu.Lock()
	assert.Equal(t, 1, res.created, "both builders must share one executor instance")
	assert.Equal(t, 0, res.destroyed)
	res.mu.Unlock()

	require.NoError(t, servers[0].Stop(context.Background()))
	res.mu.Lock()
	assert.Equal(t, 0, res.destroyed, "executor must survive while a server still holds it")
	res.mu.Unlock()

	require.NoError(t, servers[1].Stop(context.Background()))
	res.mu.Lock()
	assert.Equal(t, 1, res.destroyed, "executor destroyed exactly once, after the last release")
	res.mu.Unlock()
}
