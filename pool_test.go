package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/yolo-overlay-service/detections"
)

// countingFactory hands out bare sessions; Destroy is a no-op on them.
type countingFactory struct {
	opened atomic.Int32
	fail   atomic.Bool
}

func (f *countingFactory) open() (*detections.ModelSession, error) {
	if f.fail.Load() {
		return nil, errors.New("model file vanished")
	}
	f.opened.Add(1)
	return &detections.ModelSession{Config: detections.DefaultSessionConfig("model.onnx")}, nil
}

func TestPoolAcquireRelease(t *testing.T) {
	f := &countingFactory{}
	pool, err := NewModelSessionPool(f.open, 2, nil)
	require.NoError(t, err)
	defer pool.Destroy()
	assert.EqualValues(t, 2, f.opened.Load())

	s1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	s2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)

	stats := pool.GetMetrics()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 2, stats.InUse)
	assert.Equal(t, 0, stats.Idle)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(s1)
	pool.Release(s2)
	stats = pool.GetMetrics()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 2, stats.Idle)
	assert.EqualValues(t, 2, stats.TotalAcquired)
	assert.EqualValues(t, 2, stats.TotalReleased)
}

func TestPoolDefaultSize(t *testing.T) {
	f := &countingFactory{}
	pool, err := NewModelSessionPool(f.open, 0, nil)
	require.NoError(t, err)
	defer pool.Destroy()
	assert.Equal(t, DefaultPoolSize, pool.GetMetrics().Size)
}

func TestPoolFactoryFailure(t *testing.T) {
	f := &countingFactory{}
	f.fail.Store(true)
	_, err := NewModelSessionPool(f.open, 2, nil)
	assert.ErrorContains(t, err, "failed to initialize session 0")
}

func (p *ModelSessionPool) errorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lastErrors)
}

func TestPoolDiscardAndReplenish(t *testing.T) {
	f := &countingFactory{}
	pool, err := NewModelSessionPool(f.open, 1, nil)
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	// The replacement attempt triggered by Discard fails.
	f.fail.Store(true)
	pool.Discard(s)
	require.Eventually(t, func() bool { return pool.errorCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, pool.GetMetrics().Idle)

	f.fail.Store(false)
	pool.replenishSessions()
	assert.Equal(t, 1, pool.GetMetrics().Idle)
	assert.EqualValues(t, 2, f.opened.Load())

	// Nothing left to replace.
	pool.replenishSessions()
	assert.EqualValues(t, 2, f.opened.Load())
}

func TestPoolClosed(t *testing.T) {
	f := &countingFactory{}
	pool, err := NewModelSessionPool(f.open, 1, nil)
	require.NoError(t, err)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Destroy()
	pool.Destroy()

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NotPanics(t, func() { pool.Release(s) })
}

func TestPoolReplacesDiscardedSessionPromptly(t *testing.T) {
	f := &countingFactory{}
	pool, err := NewModelSessionPool(f.open, 1, nil)
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Discard(s)

	// Well inside HealthCheckPeriod.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	replacement, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, s, replacement)
	assert.EqualValues(t, 2, f.opened.Load())
	pool.Release(replacement)
}
