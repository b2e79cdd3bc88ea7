package session

import (
	"sync"
	"sync/atomic"

	"github.com/tangkapin/dashfeed/internal/events"
)

// ConnState tracks the live transport's health for a session. It exists
// before the transport does, so its Listener can be handed to the transport
// at construction.
type ConnState struct {
	stale atomic.Bool

	mu      sync.Mutex
	lastErr *events.ConnectionError

	changed     chan struct{}
	reconnected chan struct{}
}

// NewConnState returns a healthy ConnState.
func NewConnState() *ConnState {
	return &ConnState{
		changed:     make(chan struct{}, 1),
		reconnected: make(chan struct{}, 1),
	}
}

// Listener returns a transport listener feeding this state.
func (c *ConnState) Listener() events.ConnListener {
	return events.ConnListener{
		OnDisconnect: c.Disconnected,
		OnReconnect:  c.Reconnected,
	}
}

// Disconnected marks the transport down. It never blocks.
func (c *ConnState) Disconnected(err *events.ConnectionError) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.stale.Store(true)
	signal(c.changed)
}

// Reconnected marks the transport up and requests an immediate resync. It
// never blocks.
func (c *ConnState) Reconnected() {
	c.stale.Store(false)
	signal(c.reconnected)
	signal(c.changed)
}

// Stale reports whether the transport is currently down.
func (c *ConnState) Stale() bool {
	return c.stale.Load()
}

// LastError returns the most recent disconnect cause, if any.
func (c *ConnState) LastError() *events.ConnectionError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// signal does a coalescing, non-blocking send.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
