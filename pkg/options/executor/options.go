// Package executor provides executor configuration options for chassis.
package executor

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/chassis/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains worker-pool executor configuration.
type Options struct {
	// Capacity is the maximum number of concurrent workers.
	Capacity int `json:"capacity" mapstructure:"capacity"`
	// ExpiryDuration is how long an idle worker lives before being reclaimed.
	ExpiryDuration time.Duration `json:"expiry-duration" mapstructure:"expiry-duration"`
	// PreAlloc preallocates worker memory at the cost of initial footprint.
	PreAlloc bool `json:"pre-alloc" mapstructure:"pre-alloc"`
	// Nonblocking makes Submit return an error instead of waiting when the
	// pool is full.
	Nonblocking bool `json:"nonblocking" mapstructure:"nonblocking"`
	// MaxBlockingTasks bounds the number of waiting submissions when
	// Nonblocking is false. Zero means unbounded.
	MaxBlockingTasks int `json:"max-blocking-tasks" mapstructure:"max-blocking-tasks"`
}

// Option is a function that configures Options.
type Option func(*Options)

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		Capacity:         1000,
		ExpiryDuration:   10 * time.Second,
		PreAlloc:         false,
		Nonblocking:      false,
		MaxBlockingTasks: 0,
	}
}

// AddFlags adds flags for executor options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	prefix := options.Join(prefixes...)
	fs.IntVar(&o.Capacity, prefix+"executor.capacity", o.Capacity, "Maximum number of concurrent executor workers")
	fs.DurationVar(&o.ExpiryDuration, prefix+"executor.expiry-duration", o.ExpiryDuration, "Idle worker expiry duration")
	fs.BoolVar(&o.PreAlloc, prefix+"executor.pre-alloc", o.PreAlloc, "Preallocate executor worker memory")
	fs.BoolVar(&o.Nonblocking, prefix+"executor.nonblocking", o.Nonblocking, "Reject tasks instead of blocking when the executor is full")
	fs.IntVar(&o.MaxBlockingTasks, prefix+"executor.max-blocking-tasks", o.MaxBlockingTasks, "Maximum queued submissions when blocking (0 = unbounded)")
}

// Validate validates the executor options.
func (o *Options) Validate() error {
	if o.Capacity <= 0 {
		return fmt.Errorf("executor.capacity must be positive")
	}
	if o.ExpiryDuration <= 0 {
		return fmt.Errorf("executor.expiry-duration must be positive")
	}
	if o.MaxBlockingTasks < 0 {
		return fmt.Errorf("executor.max-blocking-tasks cannot be negative")
	}
	return nil
}

// WithCapacity sets the worker capacity.
func WithCapacity(n int) Option {
	return func(o *Options) {
		o.Capacity = n
	}
}

// WithExpiryDuration sets the idle worker expiry duration.
func WithExpiryDuration(d time.Duration) Option {
	return func(o *Options) {
		o.ExpiryDuration = d
	}
}

// WithPreAlloc enables or disables worker preallocation.
func WithPreAlloc(enable bool) Option {
	return func(o *Options) {
		o.PreAlloc = enable
	}
}

// WithNonblocking enables or disables nonblocking submission.
func WithNonblocking(enable bool) Option {
	return func(o *Options) {
		o.Nonblocking = enable
	}
}

// WithMaxBlockingTasks sets the blocking submission bound.
func WithMaxBlockingTasks(n int) Option {
	return func(o *Options) {
		o.MaxBlockingTasks = n
	}
}

// ApplyOptions applies the given options to the Options.
func (o *Options) ApplyOptions(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}
