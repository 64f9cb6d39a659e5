package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/techbire/techbire-ai/internal/transcript"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session ended")
)

type Session struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	EndedAt        time.Time `json:"ended_at,omitzero"`
}

// Options configures a Manager.
type Options struct {
	InactivityTimeout time.Duration
	Store             transcript.Store
	Logger            *slog.Logger
	// SubmitRate is the sustained submissions per second allowed per
	// session. Zero disables the limit.
	SubmitRate  float64
	SubmitBurst int
}

type entry struct {
	session *Session
	conv    *Conversation
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	store             transcript.Store
	logger            *slog.Logger
	inactivityTimeout time.Duration
	submitRate        float64
	submitBurst       int
	onExpire          func(*Session)
}

func NewManager(opts Options) *Manager {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 30 * time.Minute
	}
	if opts.Store == nil {
		opts.Store = transcript.NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SubmitBurst <= 0 {
		opts.SubmitBurst = 1
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		store:             opts.Store,
		logger:            opts.Logger,
		inactivityTimeout: opts.InactivityTimeout,
		submitRate:        opts.SubmitRate,
		submitBurst:       opts.SubmitBurst,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create starts a session with an empty transcript.
func (m *Manager) Create() *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	var limiter *rate.Limiter
	if m.submitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(m.submitRate), m.submitBurst)
	}
	id := s.ID
	conv := newConversation(transcript.New(m.store, id), limiter, func(appended int) {
		m.recordActivity(id, appended)
	})

	m.mu.Lock()
	m.sessions[id] = &entry{session: s, conv: conv}
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", id)
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.session), nil
}

// Open returns the live conversation of an active session. Every call for
// the same session returns the same Conversation.
func (m *Manager) Open(sessionID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.session.Status != StatusActive {
		return nil, ErrEnded
	}
	e.session.LastActivityAt = time.Now().UTC()
	return e.conv, nil
}

// Touch marks the session active without appending turns, so a connected
// client that only asks for snapshots is not expired.
func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.session.Status != StatusActive {
		return ErrEnded
	}
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) recordActivity(sessionID string, appended int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	e.session.TurnCount += appended
	e.session.LastActivityAt = time.Now().UTC()
}

// End marks the session ended and discards its transcript.
func (m *Manager) End(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	wasActive := e.session.Status == StatusActive
	if wasActive {
		now := time.Now().UTC()
		e.session.Status = StatusEnded
		e.session.LastActivityAt = now
		e.session.EndedAt = now
	}
	out := clone(e.session)
	conv := e.conv
	m.mu.Unlock()

	if wasActive {
		m.close(ctx, conv, "ended")
	}
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive(ctx)
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.session.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireInactive ends idle sessions and forgets sessions that have been
// ended for longer than the inactivity timeout.
func (m *Manager) expireInactive(ctx context.Context) {
	now := time.Now().UTC()
	var (
		expired []*Session
		convs   []*Conversation
	)

	m.mu.Lock()
	for id, e := range m.sessions {
		s := e.session
		if s.Status != StatusActive {
			if now.Sub(s.EndedAt) >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		s.EndedAt = now
		expired = append(expired, clone(s))
		convs = append(convs, e.conv)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for i, s := range expired {
		m.close(ctx, convs[i], "expired")
		if hook != nil {
			hook(s)
		}
	}
}

// close stops further cycles on conv, waits for one in flight and discards
// the transcript.
func (m *Manager) close(ctx context.Context, conv *Conversation, reason string) {
	conv.close()
	if release, err := conv.Acquire(ctx); err == nil {
		defer release()
	}
	sessionID := conv.SessionID()
	if err := m.store.Discard(ctx, sessionID); err != nil {
		m.logger.Error("discard transcript failed", "session_id", sessionID, "reason", reason, "error", err)
		return
	}
	m.logger.Info("session closed", "session_id", sessionID, "reason", reason)
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
