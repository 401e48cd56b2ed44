package executor

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	assert.Equal(t, 1000, opts.Capacity)
	assert.Equal(t, 10*time.Second, opts.ExpiryDuration)
	assert.False(t, opts.PreAlloc)
	assert.False(t, opts.Nonblocking)
	assert.Equal(t, 0, opts.MaxBlockingTasks)
	require.NoError(t, opts.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(*Options) {}, false},
		{"zero capacity", func(o *Options) { o.Capacity = 0 }, true},
		{"negative capacity", func(o *Options) { o.Capacity = -3 }, true},
		{"zero expiry", func(o *Options) { o.ExpiryDuration = 0 }, true},
		{"negative blocking bound", func(o *Options) { o.MaxBlockingTasks = -1 }, true},
		{"nonblocking with bound", func(o *Options) { o.Nonblocking = true; o.MaxBlockingTasks = 8 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.mutate(opts)
			err := opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAddFlags(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--executor.capacity=64",
		"--executor.nonblocking=true",
	}))
	assert.Equal(t, 64, opts.Capacity)
	assert.True(t, opts.Nonblocking)
}

func TestAddFlagsWithPrefix(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs, "server")

	assert.NotNil(t, fs.Lookup("server.executor.capacity"))
	assert.Nil(t, fs.Lookup("executor.capacity"))
}

func TestApplyOptions(t *testing.T) {
	opts := NewOptions()
	opts.ApplyOptions(
		WithCapacity(32),
		WithExpiryDuration(time.Minute),
		WithPreAlloc(true),
		WithNonblocking(true),
		WithMaxBlockingTasks(4),
	)

	assert.Equal(t, 32, opts.Capacity)
	assert.Equal(t, time.Minute, opts.ExpiryDuration)
	assert.True(t, opts.PreAlloc)
	assert.True(t, opts.Nonblocking)
	assert.Equal(t, 4, opts.MaxBlockingTasks)
}
