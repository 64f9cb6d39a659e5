package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/techbire/techbire-ai/internal/render"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientSubmit       MessageType = "client_submit"
	TypeClientControl      MessageType = "client_control"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantTurnEnd   MessageType = "assistant_turn_end"
	TypeTranscriptSnapshot MessageType = "transcript_snapshot"
	TypeNoticeEvent        MessageType = "notice_event"
	TypeSystemEvent        MessageType = "system_event"
	TypeErrorEvent         MessageType = "error_event"
)

// Client control actions.
const (
	ActionSnapshot = "snapshot"
)

// Turn end reasons.
const (
	ReasonCompleted = "completed"
	ReasonFailed    = "failed"
)

// Notice codes.
const (
	NoticeMalformedChunk = "malformed_chunk"
	NoticeModelError     = "model_error"
	NoticeEmptyResponse  = "empty_response"
	NoticeRateLimited    = "rate_limited"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientSubmit carries the text box value when the user presses the submit
// button. Empty text is valid and results in no turn.
type ClientSubmit struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

// AssistantTurnEnd closes a cycle. ClearInput tells the page to empty its
// text box.
type AssistantTurnEnd struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	TurnID     string      `json:"turn_id"`
	Reason     string      `json:"reason"`
	ClearInput bool        `json:"clear_input"`
}

type TranscriptSnapshot struct {
	Type      MessageType       `json:"type"`
	SessionID string            `json:"session_id"`
	Turns     []render.TurnView `json:"turns"`
}

// NoticeEvent reports a non-fatal problem in the current cycle.
type NoticeEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
	Retryable bool        `json:"retryable"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientSubmit:
		var msg ClientSubmit
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_submit")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
