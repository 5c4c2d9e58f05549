package server

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundedDispatcher_RunsAll(t *testing.T) {
	d := NewUnboundedDispatcher()
	var count atomic.Int32
	for i := 0; i < 50; i++ {
		d.Dispatch(func() { count.Add(1) })
	}
	d.Wait()
	assert.Equal(t, int32(50), count.Load())
}

func TestPoolDispatcher_LimitsConcurrency(t *testing.T) {
	const limit = 3
	d, err := NewPoolDispatcher(limit)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	for i := 0; i < 12; i++ {
		d.Dispatch(func() {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
		})
	}
	d.Wait()
	assert.LessOrEqual(t, peak, limit)
	assert.Equal(t, 0, running)
}

func TestPoolDispatcher_BlocksWhenSaturated(t *testing.T) {
	d, err := NewPoolDispatcher(1)
	require.NoError(t, err)

	release := make(chan struct{})
	d.Dispatch(func() { <-release })

	dispatched := make(chan struct{})
	go func() {
		d.Dispatch(func() {})
		close(dispatched)
	}()

	select {
	case <-dispatched:
		t.Fatal("Dispatch returned while the pool was full")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-dispatched:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch did not proceed after a slot was freed")
	}
	d.Wait()
}

func TestNewDispatcher(t *testing.T) {
	d, err := NewDispatcher("", 0)
	require.NoError(t, err)
	assert.IsType(t, &unboundedDispatcher{}, d)

	d, err = NewDispatcher("unbounded", 0)
	require.NoError(t, err)
	assert.IsType(t, &unboundedDispatcher{}, d)

	d, err = NewDispatcher("pool", 4)
	require.NoError(t, err)
	assert.IsType(t, &poolDispatcher{}, d)

	_, err = NewDispatcher("pool", 0)
	assert.ErrorContains(t, err, "at least 1")

	_, err = NewDispatcher("fork", 1)
	assert.ErrorContains(t, err, `unknown dispatcher "fork"`)
}
