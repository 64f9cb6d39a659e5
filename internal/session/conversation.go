package session

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/techbire/techbire-ai/internal/transcript"
)

// Conversation is the per-session state handed to the chat controller:
// the session's transcript, its turn gate and its submit limiter. At most
// one request/response cycle holds the gate at a time.
type Conversation struct {
	transcript *transcript.Transcript
	gate       chan struct{}
	limiter    *rate.Limiter
	onActivity func(appended int)
	closed     atomic.Bool
}

func newConversation(tr *transcript.Transcript, limiter *rate.Limiter, onActivity func(int)) *Conversation {
	return &Conversation{
		transcript: tr,
		gate:       make(chan struct{}, 1),
		limiter:    limiter,
		onActivity: onActivity,
	}
}

// NewConversation builds a standalone conversation over tr with no submit
// limit. Manager.Open is the normal way to obtain one.
func NewConversation(tr *transcript.Transcript) *Conversation {
	return newConversation(tr, nil, nil)
}

func (c *Conversation) SessionID() string { return c.transcript.SessionID() }

func (c *Conversation) Transcript() *transcript.Transcript { return c.transcript }

// Acquire waits for the turn gate. The returned func releases it and must be
// called exactly once.
func (c *Conversation) Acquire(ctx context.Context) (func(), error) {
	select {
	case c.gate <- struct{}{}:
		return func() { <-c.gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Active reports whether the owning session is still open. Cycles must check
// it while holding the gate.
func (c *Conversation) Active() bool { return !c.closed.Load() }

func (c *Conversation) close() { c.closed.Store(true) }

// Allow reports whether another submission may start now.
func (c *Conversation) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// Touch records activity on the owning session. appended is the number of
// turns added since the previous call.
func (c *Conversation) Touch(appended int) {
	if c.onActivity != nil {
		c.onActivity(appended)
	}
}
