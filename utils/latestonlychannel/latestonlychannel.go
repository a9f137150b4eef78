package latestonlychannel

import "sync"

// Channel is a single slot channel where a send never blocks: a value that
// has not been received yet is replaced by the newer one.  Receivers always
// observe the most recent value.
type Channel[T any] struct {
	lock   sync.Mutex
	ch     chan T
	closed bool
}

func New[T any]() *Channel[T] {
	return &Channel[T]{
		ch: make(chan T, 1),
	}
}

// C returns the receive side.  It is closed by Close.
func (c *Channel[T]) C() <-chan T {
	return c.ch
}

// Send publishes v, discarding any value still waiting to be received.
// Sending on a closed Channel is a no-op.
func (c *Channel[T]) Send(v T) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return
	}

	select {
	case <-c.ch:
	default:
	}
	c.ch <- v
}

func (c *Channel[T]) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
