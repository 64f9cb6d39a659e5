package transcript

import (
	"context"
	"errors"
	"time"
)

// Role identifies who spoke a turn.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

var (
	ErrEmptyText   = errors.New("turn text is empty")
	ErrInvalidRole = errors.New("invalid turn role")
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleBot
}

// Label is the speaker prefix shown in the chat history.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleBot:
		return "Bot"
	default:
		return string(r)
	}
}

// Turn is one message of a conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps transcripts keyed by session ID. Turns are returned in
// insertion order.
type Store interface {
	Append(ctx context.Context, sessionID string, turn Turn) error
	Turns(ctx context.Context, sessionID string) ([]Turn, error)
	Discard(ctx context.Context, sessionID string) error
	Close() error
}
