package client

import (
	"context"
	"sync"
)

// Call is an in-flight request. It completes exactly once, either with the
// matching response or with a transport error.
type Call struct {
	ID     uint64
	Method string

	resp *Response
	err  error
	done chan struct{}
	once sync.Once
}

func newCall(id uint64, method string) *Call {
	return &Call{ID: id, Method: method, done: make(chan struct{})}
}

// Done is closed once the call has completed.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes or ctx is done. Giving up on ctx does not
// withdraw the request: a later response is still consumed by its handler.
func (c *Call) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) finish(resp *Response, err error) {
	c.once.Do(func() {
		c.resp = resp
		c.err = err
		close(c.done)
	})
}
