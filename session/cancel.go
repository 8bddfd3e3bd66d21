package session

import "sync"

// CancelSignal is a rearmable interrupt flag. Trigger closes the armed
// channel; Clear rearms it for the next turn. A trigger while no turn is
// waiting stays latched until cleared, matching the REST cancel endpoint
// racing the websocket loop.
type CancelSignal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewCancelSignal returns an armed, untriggered signal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{ch: make(chan struct{})}
}

// Trigger fires the signal. Safe to call repeatedly.
func (c *CancelSignal) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ch:
	default:
		close(c.ch)
	}
}

// Clear rearms the signal.
func (c *CancelSignal) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ch:
		c.ch = make(chan struct{})
	default:
	}
}

// Armed returns the channel closed by Trigger.
func (c *CancelSignal) Armed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

// Triggered reports whether the signal has fired and not been cleared.
func (c *CancelSignal) Triggered() bool {
	select {
	case <-c.Armed():
		return true
	default:
		return false
	}
}
