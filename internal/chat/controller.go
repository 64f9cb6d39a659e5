// Package chat runs request/response cycles: it appends the user's turn,
// streams the model's reply into one string and appends it as the bot's turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/techbire/techbire-ai/internal/llm"
	"github.com/techbire/techbire-ai/internal/observability"
	"github.com/techbire/techbire-ai/internal/policy"
	"github.com/techbire/techbire-ai/internal/protocol"
	"github.com/techbire/techbire-ai/internal/reliability"
	"github.com/techbire/techbire-ai/internal/render"
	"github.com/techbire/techbire-ai/internal/session"
	"github.com/techbire/techbire-ai/internal/transcript"
)

var ErrRateLimited = errors.New("submit rate limited")

const inputPreviewRunes = 80

// Outcome is how a submission ended.
type Outcome string

const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeRateLimited Outcome = "rate_limited"
)

// Result summarizes one submission.
type Result struct {
	Outcome    Outcome                `json:"outcome"`
	SessionID  string                 `json:"session_id"`
	CycleID    string                 `json:"cycle_id,omitempty"`
	UserTurn   *transcript.Turn       `json:"user_turn,omitempty"`
	BotTurn    *transcript.Turn       `json:"bot_turn,omitempty"`
	Notices    []protocol.NoticeEvent `json:"notices,omitempty"`
	ClearInput bool                   `json:"clear_input"`
	Turns      []render.TurnView      `json:"turns,omitempty"`
}

type Controller struct {
	model   llm.Model
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewController(model llm.Model, metrics *observability.Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		model:   model,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Submit runs one cycle for input. Whitespace-only input is a no-op. A
// failed model call is reported through notices and leaves the user's turn
// unanswered; the returned error is reserved for rate limiting and for
// transcript or context failures. outbound may be nil.
func (c *Controller) Submit(ctx context.Context, conv *session.Conversation, input string, outbound chan<- any) (Result, error) {
	if strings.TrimSpace(input) == "" {
		return Result{Outcome: OutcomeSkipped, SessionID: conv.SessionID()}, nil
	}

	sessionID := conv.SessionID()
	if !conv.Allow() {
		notice := protocol.NoticeEvent{
			Type:      protocol.TypeNoticeEvent,
			SessionID: sessionID,
			Code:      protocol.NoticeRateLimited,
			Detail:    "too many questions in a short time, wait a moment",
			Retryable: true,
		}
		c.metrics.ObserveSessionEvent("rate_limited")
		c.send(ctx, outbound, notice)
		return Result{
			Outcome:   OutcomeRateLimited,
			SessionID: sessionID,
			Notices:   []protocol.NoticeEvent{notice},
		}, ErrRateLimited
	}

	release, err := conv.Acquire(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("wait for turn: %w", err)
	}
	defer release()
	if !conv.Active() {
		return Result{SessionID: sessionID}, session.ErrEnded
	}

	tr := conv.Transcript()
	history, err := tr.All(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load transcript: %w", err)
	}
	userTurn, err := tr.Append(ctx, transcript.RoleUser, input)
	if err != nil {
		return Result{}, fmt.Errorf("append user turn: %w", err)
	}
	conv.Touch(1)
	c.metrics.ObserveTurnAppended(string(transcript.RoleUser))

	res := Result{
		SessionID: sessionID,
		CycleID:   uuid.NewString(),
		UserTurn:  &userTurn,
	}
	log := c.logger.With(
		"session_id", sessionID,
		"cycle_id", res.CycleID,
		"provider", c.model.Name(),
	)
	log.Info("chat cycle started", "input_preview", policy.Preview(input, inputPreviewRunes))

	reply, streamErr := c.collect(ctx, log, &res, llm.Request{
		SessionID: sessionID,
		History:   completedExchanges(history),
		Input:     input,
	}, outbound)

	if streamErr == nil && reply == "" {
		c.notify(ctx, outbound, &res, protocol.NoticeEmptyResponse, "the model returned no text", true)
		c.metrics.ObserveModelError(c.model.Name(), protocol.NoticeEmptyResponse)
		log.Error("model returned no text")
		return c.finish(ctx, tr, res, OutcomeFailed, outbound)
	}
	if streamErr != nil {
		var status int
		var perr *llm.ProviderError
		if errors.As(streamErr, &perr) {
			status = perr.Status
		}
		code, retryable := reliability.Classify(streamErr, status)
		c.metrics.ObserveModelError(c.model.Name(), code)
		log.Error("model call failed", "code", code, "status", status, "error", streamErr)
		c.notify(ctx, outbound, &res, protocol.NoticeModelError, streamErr.Error(), retryable)
		return c.finish(ctx, tr, res, OutcomeFailed, outbound)
	}

	botTurn, err := tr.Append(ctx, transcript.RoleBot, reply)
	if err != nil {
		return res, fmt.Errorf("append bot turn: %w", err)
	}
	conv.Touch(1)
	c.metrics.ObserveTurnAppended(string(transcript.RoleBot))
	res.BotTurn = &botTurn
	res.ClearInput = true

	log.Info("chat cycle completed", "reply_chars", len(reply), "notices", len(res.Notices))
	return c.finish(ctx, tr, res, OutcomeCompleted, outbound)
}

// collect drains the model stream into one string. Chunks without text are
// logged, reported and skipped.
func (c *Controller) collect(ctx context.Context, log *slog.Logger, res *Result, req llm.Request, outbound chan<- any) (string, error) {
	startedAt := c.now()
	var (
		b        strings.Builder
		gotFirst bool
	)
	for chunk, err := range c.model.Stream(ctx, req) {
		if err != nil {
			return b.String(), err
		}
		if !chunk.HasText {
			log.Warn("skipping malformed chunk", "detail", chunk.Detail)
			c.metrics.ObserveMalformedChunk(c.model.Name())
			c.notify(ctx, outbound, res, protocol.NoticeMalformedChunk, chunk.Detail, false)
			continue
		}
		if !gotFirst {
			gotFirst = true
			c.metrics.ObserveFirstChunkLatency(c.now().Sub(startedAt))
		}
		b.WriteString(chunk.Text)
		c.send(ctx, outbound, protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			SessionID: req.SessionID,
			TurnID:    res.CycleID,
			TextDelta: chunk.Text,
		})
	}
	if b.Len() > 0 {
		c.metrics.ObserveReplyLatency(c.now().Sub(startedAt))
	}
	return b.String(), nil
}

// completedExchanges keeps only user turns that were answered, each with its
// bot reply. Unanswered questions from failed cycles stay in the transcript
// but are not sent back to the model.
func completedExchanges(turns []transcript.Turn) []transcript.Turn {
	out := make([]transcript.Turn, 0, len(turns))
	for i := 0; i+1 < len(turns); i++ {
		if turns[i].Role == transcript.RoleUser && turns[i+1].Role == transcript.RoleBot {
			out = append(out, turns[i], turns[i+1])
			i++
		}
	}
	return out
}

func (c *Controller) notify(ctx context.Context, outbound chan<- any, res *Result, code, detail string, retryable bool) {
	notice := protocol.NoticeEvent{
		Type:      protocol.TypeNoticeEvent,
		SessionID: res.SessionID,
		TurnID:    res.CycleID,
		Code:      code,
		Detail:    detail,
		Retryable: retryable,
	}
	res.Notices = append(res.Notices, notice)
	c.send(ctx, outbound, notice)
}

func (c *Controller) finish(ctx context.Context, tr *transcript.Transcript, res Result, outcome Outcome, outbound chan<- any) (Result, error) {
	res.Outcome = outcome
	reason := protocol.ReasonCompleted
	if outcome != OutcomeCompleted {
		reason = protocol.ReasonFailed
	}
	c.send(ctx, outbound, protocol.AssistantTurnEnd{
		Type:       protocol.TypeAssistantTurnEnd,
		SessionID:  tr.SessionID(),
		TurnID:     res.CycleID,
		Reason:     reason,
		ClearInput: res.ClearInput,
	})

	views, err := c.Render(ctx, tr, true)
	if err != nil {
		return res, err
	}
	res.Turns = views
	c.send(ctx, outbound, protocol.TranscriptSnapshot{
		Type:      protocol.TypeTranscriptSnapshot,
		SessionID: tr.SessionID(),
		Turns:     views,
	})
	return res, nil
}

// Render formats the whole transcript for display. With live set, a final
// bot turn is shown untruncated.
func (c *Controller) Render(ctx context.Context, tr *transcript.Transcript, live bool) ([]render.TurnView, error) {
	turns, err := tr.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	return render.Transcript(turns, live), nil
}
