package fetch

import (
	"context"
	"sync"
)

// Future is the handle for a submitted request. It settles exactly once.
// Its Done channel makes it directly awaitable from a scheduler task.
type Future struct {
	done chan struct{}

	mu   sync.Mutex
	resp *Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done returns a channel closed once the request has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Outcome returns the settled result without blocking. Both values are zero
// until Done is closed.
func (f *Future) Outcome() (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resp, f.err
}

// Wait blocks until the request settles or ctx ends.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.Outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle publishes the outcome. Later calls are ignored.
func (f *Future) settle(resp *Response, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	f.resp = resp
	f.err = err
	close(f.done)
}
