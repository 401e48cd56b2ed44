// Package pool provides reference-counted sharing of process-wide resources.
//
// A Resource describes how to create and tear down one kind of shared object,
// for example the default executor. Shared returns a pool whose Acquire and
// Release calls reference-count a single process-wide instance per Resource
// value: the instance is created lazily on the first acquisition and closed
// exactly once when the count returns to zero. Fixed wraps a caller-owned
// instance whose lifecycle the framework never controls.
package pool

import (
	"sync"

	"github.com/kart-io/logger"
)

// ObjectPool hands out a resource instance with reference-counted lifecycle.
type ObjectPool[T any] interface {
	// Acquire returns the resource instance, creating it if needed, and
	// increments its reference count. A creation failure propagates to the
	// caller and leaves the count untouched.
	Acquire() (T, error)

	// Release decrements the reference count for instance. Calling Release
	// without a matching prior Acquire is a programmer error and panics.
	Release(instance T)
}

// Resource describes one kind of shared resource. Implementations must be
// comparable values (typically a pointer or an empty struct) because the
// Resource itself keys the process-wide holder table.
type Resource[T any] interface {
	// Name identifies the resource kind in logs.
	Name() string

	// Create builds a fresh instance. Called at most once per lifecycle,
	// under the holder table lock.
	Create() (T, error)

	// Close tears the instance down. Called exactly once, when the
	// reference count returns to zero.
	Close(instance T)
}

// holder tracks one live shared instance and its reference count.
type holder struct {
	instance any
	refs     int
}

// holderMu serializes every acquire/create/release/destroy transition so a
// teardown and a concurrent acquisition can never interleave.
var (
	holderMu sync.Mutex
	holders  = make(map[any]*holder)
)

type sharedPool[T any] struct {
	res Resource[T]
}

// Shared returns a pool backed by the process-wide holder for res. All pools
// built from the same Resource value share one instance while the reference
// count is non-zero.
func Shared[T any](res Resource[T]) ObjectPool[T] {
	if res == nil {
		panic("pool: nil resource")
	}
	return sharedPool[T]{res: res}
}

func (p sharedPool[T]) Acquire() (T, error) {
	holderMu.Lock()
	defer holderMu.Unlock()

	h, ok := holders[p.res]
	if !ok {
		instance, err := p.res.Create()
		if err != nil {
			var zero T
			return zero, err
		}
		h = &holder{instance: instance}
		holders[p.res] = h
		logger.Debugw("Shared resource created", "resource", p.res.Name())
	}
	h.refs++
	return h.instance.(T), nil
}

func (p sharedPool[T]) Release(instance T) {
	holderMu.Lock()
	defer holderMu.Unlock()

	h, ok := holders[p.res]
	if !ok || h.refs == 0 {
		panic("pool: release without matching acquire for resource " + p.res.Name())
	}
	if h.instance != any(instance) {
		panic("pool: released instance does not belong to resource " + p.res.Name())
	}
	h.refs--
	if h.refs == 0 {
		delete(holders, p.res)
		p.res.Close(instance)
		logger.Debugw("Shared resource destroyed", "resource", p.res.Name())
	}
}

type fixedPool[T any] struct {
	mu       sync.Mutex
	instance T
	refs     int
}

// Fixed wraps a caller-owned instance. Acquire always returns the wrapped
// instance and the pool never initiates teardown; ownership stays with the
// caller that supplied it. Unmatched releases still panic so accounting bugs
// surface instead of being swallowed.
func Fixed[T any](instance T) ObjectPool[T] {
	return &fixedPool[T]{instance: instance}
}

func (p *fixedPool[T]) Acquire() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs++
	return p.instance, nil
}

func (p *fixedPool[T]) Release(instance T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == 0 {
		panic("pool: release without matching acquire on fixed pool")
	}
	p.refs--
}
