package ratelimit

import (
	"golang.org/x/sync/semaphore"
)

// Caps holds the fleet-wide concurrency semaphores. A request hitting a
// ceiling is rejected immediately (429 or close), never queued.
type Caps struct {
	ws      *semaphore.Weighted
	chat    *semaphore.Weighted
	uploads *semaphore.Weighted
}

// NewCaps creates the semaphores. Non-positive limits fall back to the
// production defaults.
func NewCaps(wsConns, chatTurns, uploads int64) *Caps {
	if wsConns <= 0 {
		wsConns = 500
	}
	if chatTurns <= 0 {
		chatTurns = 80
	}
	if uploads <= 0 {
		uploads = 100
	}
	return &Caps{
		ws:      semaphore.NewWeighted(wsConns),
		chat:    semaphore.NewWeighted(chatTurns),
		uploads: semaphore.NewWeighted(uploads),
	}
}

// TryAcquireWS reserves one WebSocket connection slot.
func (c *Caps) TryAcquireWS() bool { return c.ws.TryAcquire(1) }

// ReleaseWS returns a WebSocket connection slot.
func (c *Caps) ReleaseWS() { c.ws.Release(1) }

// TryAcquireChatTurn reserves one concurrent chat-turn slot.
func (c *Caps) TryAcquireChatTurn() bool { return c.chat.TryAcquire(1) }

// ReleaseChatTurn returns a chat-turn slot.
func (c *Caps) ReleaseChatTurn() { c.chat.Release(1) }

// TryAcquireUpload reserves one upload slot (covers thumbnailing too).
func (c *Caps) TryAcquireUpload() bool { return c.uploads.TryAcquire(1) }

// ReleaseUpload returns an upload slot.
func (c *Caps) ReleaseUpload() { c.uploads.Release(1) }
