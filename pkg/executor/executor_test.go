package executor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/kart-io/chassis/pkg/errors"
	execopts "github.com/kart-io/chassis/pkg/options/executor"
)

func TestPoolSubmit(t *testing.T) {
	p, err := New("test", nil)
	require.NoError(t, err)
	defer p.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, 10, ran)
	stats := p.Stats()
	assert.EqualValues(t, 10, stats.SubmittedTasks)
	assert.EqualValues(t, 10, stats.CompletedTasks)
}

func TestPoolSubmitAfterRelease(t *testing.T) {
	p, err := New("test", nil)
	require.NoError(t, err)

	p.Release()
	err = p.Submit(func() {})
	assert.ErrorIs(t, err, apierrors.ErrExecutorClosed)

	// Release is idempotent.
	p.Release()
}

func TestPoolNonblockingOverload(t *testing.T) {
	opts := execopts.NewOptions()
	opts.ApplyOptions(
		execopts.WithCapacity(1),
		execopts.WithNonblocking(true),
	)
	p, err := New("tiny", opts)
	require.NoError(t, err)
	defer p.Release()

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))

	// Give the single worker time to pick the task up.
	deadline := time.Now().Add(time.Second)
	for p.Running() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	err = p.Submit(func() {})
	assert.ErrorIs(t, err, apierrors.ErrExecutorOverload)

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.RejectedTasks)
	// Submissions are counted when they arrive, not when a worker picks
	// them up, so the rejected one is in SubmittedTasks too.
	assert.EqualValues(t, 2, stats.SubmittedTasks)
	assert.GreaterOrEqual(t, stats.SubmittedTasks, stats.CompletedTasks+stats.RejectedTasks)

	close(block)
}

func TestPoolValidatesOptions(t *testing.T) {
	opts := execopts.NewOptions()
	opts.Capacity = -5
	_, err := New("bad", opts)
	assert.Error(t, err)
}

func TestDirect(t *testing.T) {
	ran := false
	require.NoError(t, Direct().Submit(func() { ran = true }))
	assert.True(t, ran, "direct executor must run the task inline")
	Direct().Release()
}

func TestSharedDefaultPool(t *testing.T) {
	p := SharedDefaultPool()

	first, err := p.Acquire()
	require.NoError(t, err)
	second, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, first.(*Pool), second.(*Pool))

	done := make(chan struct{})
	require.NoError(t, first.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran on shared executor")
	}

	p.Release(first)
	p.Release(second)

	// Teardown happened; submitting on the released instance fails.
	err = first.Submit(func() {})
	assert.ErrorIs(t, err, apierrors.ErrExecutorClosed)
}
