package transcript

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transcript is the append-only conversation log of a single session.
// It has no operation that edits or removes an individual turn.
type Transcript struct {
	store     Store
	sessionID string
	now       func() time.Time
}

func New(store Store, sessionID string) *Transcript {
	if store == nil {
		store = NewInMemoryStore()
	}
	return &Transcript{
		store:     store,
		sessionID: sessionID,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (t *Transcript) SessionID() string { return t.sessionID }

// Append adds a turn at the end of the transcript.
func (t *Transcript) Append(ctx context.Context, role Role, text string) (Turn, error) {
	if !role.Valid() {
		return Turn{}, ErrInvalidRole
	}
	if text == "" {
		return Turn{}, ErrEmptyText
	}
	turn := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: t.now(),
	}
	if err := t.store.Append(ctx, t.sessionID, turn); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// All returns every turn in conversation order, most recent last. The
// returned slice is a copy.
func (t *Transcript) All(ctx context.Context) ([]Turn, error) {
	return t.store.Turns(ctx, t.sessionID)
}

// Discard drops the whole transcript at the end of its session.
func (t *Transcript) Discard(ctx context.Context) error {
	return t.store.Discard(ctx, t.sessionID)
}
