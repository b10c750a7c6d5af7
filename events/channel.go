// Package events carries lifecycle events from the substrate to a single
// consumer in emission order and dispatches each one to the station
// supervisor or the access-point host.
package events

import (
	"context"
	"log/slog"
	"sync"

	"apsta"
)

// Channel is an unbounded FIFO of lifecycle events with one consumer.
// Deliver never blocks, so substrate callbacks return immediately.
type Channel struct {
	mu     sync.Mutex
	queue  []apsta.Event
	closed bool
	// ready holds at most one token: "the queue may be non-empty".
	ready chan struct{}
	done  chan struct{}
}

// NewChannel creates an open channel.
func NewChannel() *Channel {
	return &Channel{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Deliver enqueues ev. It is the substrate's event callback. Events delivered
// after Close are dropped.
func (c *Channel) Deliver(ev apsta.Event) {
	if ev == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		slog.Debug("event dropped after close", "event", ev)
		return
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
		// Token already pending.
	}
}

// Next blocks until an event is available and returns it. It returns false
// when ctx is done or the channel is closed and drained.
func (c *Channel) Next(ctx context.Context) (apsta.Event, bool) {
	for {
		if ev, ok := c.pop(); ok {
			return ev, true
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-c.done:
		case <-c.ready:
		}
	}
}

// TryNext returns the next queued event without blocking.
func (c *Channel) TryNext() (apsta.Event, bool) {
	return c.pop()
}

func (c *Channel) pop() (apsta.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	ev := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		// Release the backing array once drained.
		c.queue = nil
	}
	return ev, true
}

// Len returns the number of queued events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close stops accepting events. Queued events remain available to Next.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
