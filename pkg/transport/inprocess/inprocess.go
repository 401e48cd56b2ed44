// Package inprocess provides a transport that serves calls inside the
// current process. Servers register under a process-wide name; clients dial
// that name and invoke methods without any wire encoding. It is the
// reference transport for tests and embedded deployments.
package inprocess

import (
	"context"
	"sync"

	"github.com/kart-io/logger"

	apierrors "github.com/kart-io/chassis/pkg/errors"
	"github.com/kart-io/chassis/pkg/server"
)

var (
	tableMu sync.Mutex
	table   = make(map[string]*Transport)
)

// Factory builds in-process transports bound to a fixed name.
type Factory struct {
	name string
}

// NewFactory returns a transport factory for the given in-process name.
func NewFactory(name string) *Factory {
	return &Factory{name: name}
}

// NewTransport implements server.TransportFactory.
func (f *Factory) NewTransport(factories []server.TracerFactory) (server.Transport, error) {
	if f.name == "" {
		return nil, apierrors.ErrInvalidArgument.WithMessage("in-process name must not be empty")
	}
	return &Transport{name: f.name, factories: factories}, nil
}

var _ server.TransportFactory = (*Factory)(nil)

// Transport is one in-process listener. Start publishes it in the process
// table; Stop withdraws it.
type Transport struct {
	name      string
	factories []server.TracerFactory

	mu         sync.Mutex
	dispatcher server.Dispatcher
}

// Name implements server.Transport.
func (t *Transport) Name() string { return "inprocess" }

// Start registers the transport under its name. A second server listening on
// the same name is rejected.
func (t *Transport) Start(ctx context.Context, d server.Dispatcher) error {
	tableMu.Lock()
	defer tableMu.Unlock()
	if _, ok := table[t.name]; ok {
		return apierrors.ErrInvalidArgument.WithMessagef("in-process name %q already in use", t.name)
	}
	t.mu.Lock()
	t.dispatcher = d
	t.mu.Unlock()
	table[t.name] = t
	logger.Debugw("In-process transport listening", "name", t.name)
	return nil
}

// Stop withdraws the transport from the process table. Pending invocations
// on already-dialed connections fail once the dispatcher is cleared.
func (t *Transport) Stop(ctx context.Context) error {
	tableMu.Lock()
	if table[t.name] == t {
		delete(table, t.name)
	}
	tableMu.Unlock()

	t.mu.Lock()
	t.dispatcher = nil
	t.mu.Unlock()
	logger.Debugw("In-process transport closed", "name", t.name)
	return nil
}

func (t *Transport) invoke(ctx context.Context, fullMethod string, req any) (any, error) {
	t.mu.Lock()
	d := t.dispatcher
	t.mu.Unlock()
	if d == nil {
		return nil, apierrors.ErrServerStopped
	}
	return d.Invoke(ctx, fullMethod, req)
}

var _ server.Transport = (*Transport)(nil)

// ClientConn is a client handle to an in-process server.
type ClientConn struct {
	transport *Transport
}

// Dial connects to the in-process server listening on name.
func Dial(name string) (*ClientConn, error) {
	tableMu.Lock()
	t, ok := table[name]
	tableMu.Unlock()
	if !ok {
		return nil, apierrors.ErrInvalidArgument.WithMessagef("no in-process server listening on %q", name)
	}
	return &ClientConn{transport: t}, nil
}

// Invoke performs one unary call against the connected server.
func (c *ClientConn) Invoke(ctx context.Context, fullMethod string, req any) (any, error) {
	return c.transport.invoke(ctx, fullMethod, req)
}
