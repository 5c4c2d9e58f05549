package server

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"example.com/minihttpd/internal/config"
)

// Dispatcher runs connection tasks. Wait blocks until every dispatched task
// has returned.
type Dispatcher interface {
	Dispatch(task func())
	Wait()
}

// unboundedDispatcher starts one goroutine per task.
type unboundedDispatcher struct {
	wg sync.WaitGroup
}

// NewUnboundedDispatcher returns a Dispatcher with no concurrency limit.
func NewUnboundedDispatcher() Dispatcher {
	return &unboundedDispatcher{}
}

func (d *unboundedDispatcher) Dispatch(task func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		task()
	}()
}

func (d *unboundedDispatcher) Wait() {
	d.wg.Wait()
}

// poolDispatcher runs at most limit tasks at once. Dispatch blocks while the
// pool is saturated, which stalls the accept loop.
type poolDispatcher struct {
	g errgroup.Group
}

// NewPoolDispatcher returns a Dispatcher bounded to limit concurrent tasks.
func NewPoolDispatcher(limit int) (Dispatcher, error) {
	if limit < 1 {
		return nil, fmt.Errorf("pool dispatcher limit must be at least 1, got %d", limit)
	}
	d := &poolDispatcher{}
	d.g.SetLimit(limit)
	return d, nil
}

func (d *poolDispatcher) Dispatch(task func()) {
	d.g.Go(func() error {
		task()
		return nil
	})
}

func (d *poolDispatcher) Wait() {
	_ = d.g.Wait()
}

// NewDispatcher builds the dispatcher named by kind.
func NewDispatcher(kind string, maxThreads int) (Dispatcher, error) {
	switch kind {
	case "", config.DispatcherUnbounded:
		return NewUnboundedDispatcher(), nil
	case config.DispatcherPool:
		return NewPoolDispatcher(maxThreads)
	default:
		return nil, fmt.Errorf("unknown dispatcher %q", kind)
	}
}
