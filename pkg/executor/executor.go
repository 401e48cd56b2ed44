// Package executor provides the task executors servers run handlers on.
//
// The default is an ants-backed worker pool shared process-wide through
// pkg/pool; callers that want full control supply their own Executor and keep
// ownership of its lifecycle.
package executor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"

	apierrors "github.com/kart-io/chassis/pkg/errors"
	execopts "github.com/kart-io/chassis/pkg/options/executor"
	"github.com/kart-io/chassis/pkg/pool"
)

// Executor runs tasks on behalf of a server.
type Executor interface {
	// Submit schedules task for execution.
	Submit(task func()) error
	// Release shuts the executor down and reclaims its workers.
	Release()
}

// Stats contains cumulative executor counters.
type Stats struct {
	SubmittedTasks int64
	CompletedTasks int64
	RejectedTasks  int64
	PanicRecovered int64
}

// Pool is an ants-backed Executor.
type Pool struct {
	name   string
	pool   *ants.Pool
	opts   *execopts.Options
	closed atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// New creates a worker-pool executor with the given options.
func New(name string, opts *execopts.Options) (*Pool, error) {
	if opts == nil {
		opts = execopts.NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{name: name, opts: opts}

	antsPool, err := ants.NewPool(opts.Capacity,
		ants.WithExpiryDuration(opts.ExpiryDuration),
		ants.WithPreAlloc(opts.PreAlloc),
		ants.WithNonblocking(opts.Nonblocking),
		ants.WithMaxBlockingTasks(opts.MaxBlockingTasks),
		ants.WithPanicHandler(func(r interface{}) {
			p.panics.Add(1)
			logger.Errorw("Executor worker panic recovered", "executor", name, "panic", r)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ants pool: %w", err)
	}
	p.pool = antsPool

	logger.Infow("Executor created", "executor", name, "capacity", opts.Capacity)
	return p, nil
}

// Name returns the executor name.
func (p *Pool) Name() string { return p.name }

// Cap returns the worker capacity.
func (p *Pool) Cap() int { return p.pool.Cap() }

// Running returns the number of busy workers.
func (p *Pool) Running() int { return p.pool.Running() }

// Submit schedules task on the pool.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return apierrors.ErrExecutorClosed
	}

	p.submitted.Add(1)
	err := p.pool.Submit(func() {
		defer p.completed.Add(1)
		task()
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			p.rejected.Add(1)
			return apierrors.ErrExecutorOverload.WithCause(err)
		}
		if errors.Is(err, ants.ErrPoolClosed) {
			return apierrors.ErrExecutorClosed.WithCause(err)
		}
		return err
	}
	return nil
}

// Release shuts the pool down. Safe to call more than once.
func (p *Pool) Release() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.pool.Release()
	logger.Infow("Executor released", "executor", p.name)
}

// Stats returns a snapshot of the executor counters.
func (p *Pool) Stats() Stats {
	return Stats{
		SubmittedTasks: p.submitted.Load(),
		CompletedTasks: p.completed.Load(),
		RejectedTasks:  p.rejected.Load(),
		PanicRecovered: p.panics.Load(),
	}
}

// direct runs tasks inline on the caller's goroutine.
type direct struct{}

func (direct) Submit(task func()) error {
	task()
	return nil
}

func (direct) Release() {}

// Direct returns an executor that runs each task synchronously on the
// submitting goroutine. Useful in tests and latency-sensitive callers that
// manage their own concurrency.
func Direct() Executor { return direct{} }

// sharedResource is the pool.Resource behind the process-wide default
// executor. A single value keys the holder table for the whole process.
type sharedResource struct{}

func (sharedResource) Name() string { return "default-executor" }

func (sharedResource) Create() (Executor, error) {
	return New("default", execopts.NewOptions())
}

func (sharedResource) Close(instance Executor) {
	instance.Release()
}

var (
	sharedOnce sync.Once
	sharedPool pool.ObjectPool[Executor]
)

// SharedDefaultPool returns the reference-counted pool for the process-wide
// default executor. The executor is created on the first acquisition and torn
// down when the last holder releases it.
func SharedDefaultPool() pool.ObjectPool[Executor] {
	sharedOnce.Do(func() {
		sharedPool = pool.Shared[Executor](sharedResource{})
	})
	return sharedPool
}
