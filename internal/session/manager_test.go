package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/techbire/techbire-ai/internal/transcript"
)

func newTestManager(t *testing.T, opts Options) (*Manager, *transcript.InMemoryStore) {
	t.Helper()
	store := transcript.NewInMemoryStore()
	opts.Store = store
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(opts), store
}

func TestManagerCreateGetEnd(t *testing.T) {
	m, store := newTestManager(t, Options{InactivityTimeout: time.Minute})
	s := m.Create()
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	conv, err := m.Open(s.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx := context.Background()
	if _, err := conv.Transcript().Append(ctx, transcript.RoleUser, "hi"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	ended, err := m.End(ctx, s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	turns, err := store.Turns(ctx, s.ID)
	if err != nil {
		t.Fatalf("Turns() error = %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("len(turns) after End = %d, want 0", len(turns))
	}
	if _, err := m.Open(s.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("Open() after End error = %v, want ErrEnded", err)
	}
	if conv.Active() {
		t.Fatalf("conversation should be inactive after End")
	}
}

func TestManagerEndWaitsForCycleInFlight(t *testing.T) {
	m, store := newTestManager(t, Options{})
	s := m.Create()
	conv, _ := m.Open(s.ID)
	ctx := context.Background()

	release, err := conv.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	ended := make(chan struct{})
	go func() {
		defer close(ended)
		if _, err := m.End(ctx, s.ID); err != nil {
			t.Errorf("End() error = %v", err)
		}
	}()

	select {
	case <-ended:
		t.Fatalf("End returned while a cycle held the gate")
	case <-time.After(30 * time.Millisecond):
	}
	if _, err := conv.Transcript().Append(ctx, transcript.RoleUser, "late"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	release()

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatalf("End did not finish after release")
	}
	turns, _ := store.Turns(ctx, s.ID)
	if len(turns) != 0 {
		t.Fatalf("len(turns) = %d, want 0 after End", len(turns))
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := m.Open("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open() error = %v, want ErrNotFound", err)
	}
	if _, err := m.End(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("End() error = %v, want ErrNotFound", err)
	}
}

func TestManagerOpenReturnsSameConversation(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	s := m.Create()
	a, err := m.Open(s.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	b, err := m.Open(s.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if a != b {
		t.Fatalf("Open() returned different conversations for one session")
	}
	if a.SessionID() != s.ID {
		t.Fatalf("SessionID() = %q, want %q", a.SessionID(), s.ID)
	}
}

func TestManagerSessionsHaveSeparateTranscripts(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	a, _ := m.Open(m.Create().ID)
	b, _ := m.Open(m.Create().ID)
	if _, err := a.Transcript().Append(ctx, transcript.RoleUser, "only a"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	turns, err := b.Transcript().All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("len(b turns) = %d, want 0", len(turns))
	}
}

func TestManagerTouchKeepsSessionAlive(t *testing.T) {
	m, _ := newTestManager(t, Options{InactivityTimeout: time.Minute})
	s := m.Create()
	before, _ := m.Get(s.ID)

	time.Sleep(5 * time.Millisecond)
	if err := m.Touch(s.ID); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	after, _ := m.Get(s.ID)
	if !after.LastActivityAt.After(before.LastActivityAt) {
		t.Fatalf("LastActivityAt not advanced: %s -> %s", before.LastActivityAt, after.LastActivityAt)
	}
	if after.TurnCount != 0 {
		t.Fatalf("TurnCount = %d, want 0", after.TurnCount)
	}

	if err := m.Touch("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := m.End(context.Background(), s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := m.Touch(s.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("Touch(ended) error = %v, want ErrEnded", err)
	}
}

func TestConversationTouchCountsTurns(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	s := m.Create()
	conv, _ := m.Open(s.ID)
	conv.Touch(2)
	conv.Touch(2)
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TurnCount != 4 {
		t.Fatalf("TurnCount = %d, want 4", got.TurnCount)
	}
}

func TestConversationGateSerializesCycles(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	conv, _ := m.Open(m.Create().ID)

	release, err := conv.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := conv.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Acquire() error = %v, want deadline exceeded", err)
	}

	release()
	again, err := conv.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	again()
}

func TestConversationGateConcurrent(t *testing.T) {
	conv := NewConversation(transcript.New(nil, "s1"))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		inside int
		peak   int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := conv.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > peak {
				peak = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("peak concurrent holders = %d, want 1", peak)
	}
}

func TestConversationSubmitLimit(t *testing.T) {
	m, _ := newTestManager(t, Options{SubmitRate: 0.001, SubmitBurst: 2})
	conv, _ := m.Open(m.Create().ID)
	if !conv.Allow() || !conv.Allow() {
		t.Fatalf("burst of 2 should be allowed")
	}
	if conv.Allow() {
		t.Fatalf("third immediate submit should be limited")
	}

	unlimited, _ := newTestManager(t, Options{})
	free, _ := unlimited.Open(unlimited.Create().ID)
	for i := 0; i < 100; i++ {
		if !free.Allow() {
			t.Fatalf("unlimited conversation rejected submit %d", i)
		}
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m, store := newTestManager(t, Options{InactivityTimeout: 30 * time.Millisecond})
	s := m.Create()
	conv, _ := m.Open(s.ID)
	if _, err := conv.Transcript().Append(context.Background(), transcript.RoleUser, "hi"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired session = %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("session was not expired")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
	turns, _ := store.Turns(context.Background(), s.ID)
	if len(turns) != 0 {
		t.Fatalf("transcript should be discarded on expiry, got %d turns", len(turns))
	}
}
