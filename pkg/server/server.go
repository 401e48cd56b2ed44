package server

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/chassis/pkg/encoding"
	apierrors "github.com/kart-io/chassis/pkg/errors"
	"github.com/kart-io/chassis/pkg/executor"
	"github.com/kart-io/chassis/pkg/pool"
	"github.com/kart-io/chassis/pkg/registry"
	"github.com/kart-io/chassis/pkg/tracer"
)

// Server is the immutable result of Build. It owns the frozen registry, the
// transport-bound handle, the acquired executor, and the root execution
// context. Configuration cannot change after construction; the only state
// transitions are Start and Stop.
type Server struct {
	id               string
	registry         *registry.Registry
	transport        Transport
	transportFilters []TransportFilter
	interceptor      Interceptor
	tracerFactories  []TracerFactory
	executorPool     pool.ObjectPool[executor.Executor]
	executor         executor.Executor
	compressors      *encoding.Registry
	decompressors    *encoding.Registry
	rootCtx          context.Context
	cancel           context.CancelFunc

	mu             sync.Mutex
	started        bool
	stopped        bool
	transportAttrs Attributes
}

// ID returns the server's unique identifier, minted at build time.
func (s *Server) ID() string { return s.id }

// Services lists the registered services in registration order.
func (s *Server) Services() []*registry.ServiceDesc {
	return s.registry.Services()
}

// LookupMethod resolves a full method name, consulting the fallback registry
// on a primary miss.
func (s *Server) LookupMethod(fullName string) (*registry.MethodDesc, bool) {
	return s.registry.LookupMethod(fullName)
}

// Compressors returns the compressor registry the server advertises.
func (s *Server) Compressors() *encoding.Registry { return s.compressors }

// Decompressors returns the decompressor registry the server advertises.
func (s *Server) Decompressors() *encoding.Registry { return s.decompressors }

// TracerFactories returns a copy of the instrumentation pipeline.
func (s *Server) TracerFactories() []TracerFactory {
	return append([]TracerFactory(nil), s.tracerFactories...)
}

// Context returns the root execution context, cancelled when the server
// stops.
func (s *Server) Context() context.Context { return s.rootCtx }

// Start runs the transport filter chain and starts the transport.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return apierrors.ErrServerStopped
	}
	if s.started {
		s.mu.Unlock()
		return apierrors.ErrIllegalState.WithMessage("server already started")
	}
	s.started = true

	attrs := Attributes{}
	for _, f := range s.transportFilters {
		attrs = f.TransportReady(attrs)
	}
	s.transportAttrs = attrs
	s.mu.Unlock()

	if err := s.transport.Start(ctx, s); err != nil {
		return err
	}
	logger.Infow("Server started", "server_id", s.id, "transport", s.transport.Name())
	return nil
}

// Stop shuts the transport down, notifies transport filters, releases the
// executor back to its pool, and cancels the root context. Safe to call more
// than once; only the first call does the work.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	wasStarted := s.started
	attrs := s.transportAttrs
	s.mu.Unlock()

	var err error
	if wasStarted {
		err = s.transport.Stop(ctx)
		for i := len(s.transportFilters) - 1; i >= 0; i-- {
			s.transportFilters[i].TransportTerminated(attrs)
		}
	}

	s.releaseResources()
	logger.Infow("Server stopped", "server_id", s.id)
	return err
}

// releaseResources returns the executor to its pool and cancels the root
// context. Guarded so a failed build listener and a later Stop cannot
// double-release.
func (s *Server) releaseResources() {
	s.cancel()
	s.mu.Lock()
	exec := s.executor
	s.executor = nil
	s.mu.Unlock()
	if exec != nil {
		s.executorPool.Release(exec)
	}
}

// Invoke dispatches one unary call: the instrumentation pipeline observes
// it, the interceptor chain wraps it, and the method handler runs on the
// server's executor. Transports drive this as the server's Dispatcher.
func (s *Server) Invoke(ctx context.Context, fullMethod string, req any) (resp any, err error) {
	s.mu.Lock()
	exec := s.executor
	s.mu.Unlock()
	if exec == nil {
		return nil, apierrors.ErrServerStopped
	}

	md, ok := s.registry.LookupMethod(fullMethod)
	if !ok {
		return nil, apierrors.ErrMethodNotFound.WithMessagef("method %q is not registered", fullMethod)
	}

	info := &tracer.CallInfo{
		FullMethod: fullMethod,
		Transport:  s.transport.Name(),
		Start:      time.Now(),
	}
	tracers := make([]CallTracer, 0, len(s.tracerFactories))
	for _, f := range s.tracerFactories {
		var t CallTracer
		ctx, t = f.NewTracer(ctx, info)
		tracers = append(tracers, t)
	}
	defer func() {
		for i := len(tracers) - 1; i >= 0; i-- {
			tracers[i].CallEnded(err)
		}
	}()

	for _, t := range tracers {
		t.InboundMessage()
	}

	resp, err = s.run(ctx, exec, md, req, fullMethod)
	if err != nil {
		return nil, err
	}

	for _, t := range tracers {
		t.OutboundMessage()
	}
	return resp, nil
}

type callResult struct {
	resp any
	err  error
}

// run executes the interceptor chain and handler on exec, waiting for either
// completion or context cancellation.
func (s *Server) run(ctx context.Context, exec executor.Executor, md *registry.MethodDesc, req any, fullMethod string) (any, error) {
	done := make(chan callResult, 1)
	task := func() {
		var out callResult
		if s.interceptor != nil {
			info := &CallInfo{FullMethod: fullMethod, Server: s}
			out.resp, out.err = s.interceptor(ctx, req, info, md.Handler)
		} else {
			out.resp, out.err = md.Handler(ctx, req)
		}
		done <- out
	}
	if err := exec.Submit(task); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.resp, out.err
	}
}

var _ Dispatcher = (*Server)(nil)
