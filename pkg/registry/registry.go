// Package registry compiles service definitions into an immutable method
// registry with O(1) lookup by full method name.
//
// A full method name is "<service>/<method>" and must be unique within one
// registry. Lookups that miss the primary table are delegated to a fallback
// Lookup, never merged with it.
package registry

import (
	"context"
	"strings"

	apierrors "github.com/kart-io/chassis/pkg/errors"
)

// Handler is the generic unary handler bound to a method.
type Handler func(ctx context.Context, req any) (any, error)

// MethodDesc describes one method of a service. Immutable once registered.
type MethodDesc struct {
	// ServiceName is the owning service name.
	ServiceName string
	// MethodName is the bare method name, without the service prefix.
	MethodName string
	// Handler handles calls dispatched to this method.
	Handler Handler
}

// FullName returns the "<service>/<method>" name identifying this method.
func (m *MethodDesc) FullName() string {
	return FullMethodName(m.ServiceName, m.MethodName)
}

// FullMethodName joins a service and method name into a full method name.
func FullMethodName(service, method string) string {
	return service + "/" + method
}

// SplitFullMethodName splits a full method name into service and method. The
// second return is empty when name carries no separator.
func SplitFullMethodName(name string) (service, method string) {
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// ServiceDesc is an ordered set of methods sharing a service name.
type ServiceDesc struct {
	// Name is the service name.
	Name string
	// Methods lists the service methods in declaration order.
	Methods []MethodDesc
}

// BindableService is implemented by objects that can produce their own
// service definition for registration.
type BindableService interface {
	BindService() *ServiceDesc
}

// Lookup resolves full method names. The fallback registry installed on a
// server implements this.
type Lookup interface {
	// LookupMethod resolves a full method name.
	LookupMethod(fullName string) (*MethodDesc, bool)
	// Services lists the known services in registration order.
	Services() []*ServiceDesc
}

// Empty is the default fallback: it lists no services and resolves nothing.
var Empty Lookup = emptyLookup{}

type emptyLookup struct{}

func (emptyLookup) LookupMethod(string) (*MethodDesc, bool) { return nil, false }
func (emptyLookup) Services() []*ServiceDesc                { return nil }

// Builder accumulates service definitions for one registry.
type Builder struct {
	services []*ServiceDesc
	methods  map[string]*MethodDesc
}

// NewBuilder creates an empty registry builder.
func NewBuilder() *Builder {
	return &Builder{methods: make(map[string]*MethodDesc)}
}

// AddService registers all methods of desc. Validation happens here, at the
// point of registration: an empty service or method name and a nil handler
// fail with ErrInvalidArgument, a full-name collision with anything added so
// far fails with ErrDuplicateMethod. On error the builder and the caller's
// descriptor are left unchanged; the builder stages its own copies.
func (b *Builder) AddService(desc *ServiceDesc) error {
	if desc == nil {
		return apierrors.ErrInvalidArgument.WithMessage("nil service definition")
	}
	if desc.Name == "" {
		return apierrors.ErrInvalidArgument.WithMessage("empty service name")
	}

	staged := make([]MethodDesc, 0, len(desc.Methods))
	seen := make(map[string]struct{}, len(desc.Methods))
	for i := range desc.Methods {
		md := desc.Methods[i]
		if md.MethodName == "" {
			return apierrors.ErrInvalidArgument.WithMessagef("service %q: empty method name", desc.Name)
		}
		if md.Handler == nil {
			return apierrors.ErrInvalidArgument.WithMessagef("service %q: method %q has a nil handler", desc.Name, md.MethodName)
		}
		if md.ServiceName == "" {
			md.ServiceName = desc.Name
		}
		full := md.FullName()
		if _, ok := b.methods[full]; ok {
			return apierrors.ErrDuplicateMethod.WithMessagef("method %q already registered", full)
		}
		if _, ok := seen[full]; ok {
			return apierrors.ErrDuplicateMethod.WithMessagef("method %q appears twice in service %q", full, desc.Name)
		}
		seen[full] = struct{}{}
		staged = append(staged, md)
	}

	svc := &ServiceDesc{Name: desc.Name, Methods: staged}
	for i := range staged {
		b.methods[staged[i].FullName()] = &staged[i]
	}
	b.services = append(b.services, svc)
	return nil
}

// Build compiles an immutable registry snapshot. Misses delegate to fallback;
// nil means the empty fallback.
func (b *Builder) Build(fallback Lookup) *Registry {
	if fallback == nil {
		fallback = Empty
	}
	methods := make(map[string]*MethodDesc, len(b.methods))
	for k, v := range b.methods {
		methods[k] = v
	}
	services := make([]*ServiceDesc, len(b.services))
	copy(services, b.services)
	return &Registry{
		services: services,
		methods:  methods,
		fallback: fallback,
	}
}

// Registry is the immutable compiled lookup table.
type Registry struct {
	services []*ServiceDesc
	methods  map[string]*MethodDesc
	fallback Lookup
}

// LookupMethod resolves fullName against the primary table, consulting the
// fallback only on a miss.
func (r *Registry) LookupMethod(fullName string) (*MethodDesc, bool) {
	if md, ok := r.methods[fullName]; ok {
		return md, true
	}
	return r.fallback.LookupMethod(fullName)
}

// Services returns the registered services in the order they were added.
// Fallback services are not included.
func (r *Registry) Services() []*ServiceDesc {
	out := make([]*ServiceDesc, len(r.services))
	copy(out, r.services)
	return out
}

var _ Lookup = (*Registry)(nil)
