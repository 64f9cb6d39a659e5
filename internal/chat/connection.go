package chat

import (
	"context"
	"errors"
	"time"

	"github.com/techbire/techbire-ai/internal/protocol"
	"github.com/techbire/techbire-ai/internal/session"
)

const (
	criticalSendTimeout = 600 * time.Millisecond
	deltaSendTimeout    = 120 * time.Millisecond
)

// RunConnection serves one websocket connection bound to conv. Inbound
// messages are handled one at a time, so a connection never runs two cycles
// at once. It returns when inbound is closed or ctx is done.
func (c *Controller) RunConnection(ctx context.Context, conv *session.Conversation, inbound <-chan any, outbound chan<- any) error {
	sessionID := conv.SessionID()
	c.send(ctx, outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "session_ready",
		Detail:    c.model.Name(),
	})
	if err := c.sendSnapshot(ctx, conv, outbound); err != nil {
		c.logger.Warn("initial snapshot failed", "session_id", sessionID, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			switch msg := raw.(type) {
			case protocol.ClientSubmit:
				if msg.SessionID != sessionID {
					c.sendError(ctx, outbound, sessionID, "session_mismatch", "message addressed to another session", false)
					continue
				}
				if _, err := c.Submit(ctx, conv, msg.Text, outbound); err != nil {
					if errors.Is(err, ErrRateLimited) {
						continue
					}
					if errors.Is(err, session.ErrEnded) {
						c.sendError(ctx, outbound, sessionID, "session_ended", err.Error(), false)
						return nil
					}
					if ctx.Err() != nil {
						return ctx.Err()
					}
					c.logger.Error("submit failed", "session_id", sessionID, "error", err)
					c.sendError(ctx, outbound, sessionID, "submit_failed", err.Error(), true)
				}
			case protocol.ClientControl:
				if msg.SessionID != sessionID {
					c.sendError(ctx, outbound, sessionID, "session_mismatch", "message addressed to another session", false)
					continue
				}
				switch msg.Action {
				case protocol.ActionSnapshot:
					if err := c.sendSnapshot(ctx, conv, outbound); err != nil {
						c.sendError(ctx, outbound, sessionID, "snapshot_failed", err.Error(), true)
					}
				default:
					c.sendError(ctx, outbound, sessionID, "unsupported_action", msg.Action, false)
				}
			default:
				c.sendError(ctx, outbound, sessionID, "unsupported_message", "", false)
			}
		}
	}
}

func (c *Controller) sendSnapshot(ctx context.Context, conv *session.Conversation, outbound chan<- any) error {
	views, err := c.Render(ctx, conv.Transcript(), false)
	if err != nil {
		return err
	}
	c.send(ctx, outbound, protocol.TranscriptSnapshot{
		Type:      protocol.TypeTranscriptSnapshot,
		SessionID: conv.SessionID(),
		Turns:     views,
	})
	return nil
}

func (c *Controller) sendError(ctx context.Context, outbound chan<- any, sessionID, code, detail string, retryable bool) {
	c.send(ctx, outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "chat",
		Retryable: retryable,
		Detail:    detail,
	})
}

// send delivers msg to outbound. Text deltas wait briefly and are dropped
// when the connection falls behind; the final snapshot carries the full
// reply regardless. A nil outbound discards everything.
func (c *Controller) send(ctx context.Context, outbound chan<- any, msg any) {
	if outbound == nil {
		return
	}
	msgType, critical := outboundMessageMeta(msg)
	timeout := deltaSendTimeout
	if critical {
		timeout = criticalSendTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		c.metrics.ObserveOutboundMessage(msgType, "delivered")
	case <-timer.C:
		c.metrics.ObserveOutboundMessage(msgType, "dropped")
		c.metrics.ObserveSessionEvent("outbound_drop")
	case <-ctx.Done():
		c.metrics.ObserveOutboundMessage(msgType, "canceled")
	}
}

func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case protocol.AssistantTextDelta:
		return string(m.Type), false
	case protocol.AssistantTurnEnd:
		return string(m.Type), true
	case protocol.TranscriptSnapshot:
		return string(m.Type), true
	case protocol.NoticeEvent:
		return string(m.Type), true
	case protocol.SystemEvent:
		return string(m.Type), true
	case protocol.ErrorEvent:
		return string(m.Type), true
	default:
		return "unknown", false
	}
}
