package transcript

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestTranscriptAppendAndAll(t *testing.T) {
	ctx := context.Background()
	tr := New(NewInMemoryStore(), "s1")

	if _, err := tr.Append(ctx, RoleUser, "hello"); err != nil {
		t.Fatalf("Append(user) error = %v", err)
	}
	if _, err := tr.Append(ctx, RoleBot, "hi there"); err != nil {
		t.Fatalf("Append(bot) error = %v", err)
	}

	turns, err := tr.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Text != "hello" {
		t.Fatalf("turns[0] = %+v, want user hello", turns[0])
	}
	if turns[1].Role != RoleBot || turns[1].Text != "hi there" {
		t.Fatalf("turns[1] = %+v, want bot reply", turns[1])
	}
	if turns[0].ID == "" || turns[0].ID == turns[1].ID {
		t.Fatalf("turn IDs should be unique and non-empty: %q %q", turns[0].ID, turns[1].ID)
	}
}

func TestTranscriptRejectsEmptyText(t *testing.T) {
	ctx := context.Background()
	tr := New(NewInMemoryStore(), "s1")

	for _, role := range []Role{RoleUser, RoleBot} {
		if _, err := tr.Append(ctx, role, ""); !errors.Is(err, ErrEmptyText) {
			t.Fatalf("Append(%s, \"\") error = %v, want ErrEmptyText", role, err)
		}
	}
	turns, _ := tr.All(ctx)
	if len(turns) != 0 {
		t.Fatalf("len(turns) = %d, want 0", len(turns))
	}
}

func TestTranscriptRejectsUnknownRole(t *testing.T) {
	tr := New(NewInMemoryStore(), "s1")
	if _, err := tr.Append(context.Background(), Role("system"), "x"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("Append(system) error = %v, want ErrInvalidRole", err)
	}
}

func TestTranscriptAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tr := New(NewInMemoryStore(), "s1")
	_, _ = tr.Append(ctx, RoleUser, "one")
	_, _ = tr.Append(ctx, RoleBot, "two")

	first, _ := tr.All(ctx)
	second, _ := tr.All(ctx)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("All() not idempotent:\n%+v\n%+v", first, second)
	}

	// Mutating the returned copy must not leak into the store.
	first[0].Text = "changed"
	third, _ := tr.All(ctx)
	if third[0].Text != "one" {
		t.Fatalf("store mutated through returned slice: %q", third[0].Text)
	}
}

func TestTranscriptsAreIsolatedPerSession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	a := New(store, "a")
	b := New(store, "b")
	_, _ = a.Append(ctx, RoleUser, "for a")

	turns, _ := b.All(ctx)
	if len(turns) != 0 {
		t.Fatalf("session b sees %d turns, want 0", len(turns))
	}

	if err := a.Discard(ctx); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	turns, _ = a.All(ctx)
	if len(turns) != 0 {
		t.Fatalf("len(turns) after discard = %d, want 0", len(turns))
	}
}

func TestTranscriptConcurrentReads(t *testing.T) {
	ctx := context.Background()
	tr := New(NewInMemoryStore(), "s1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if _, err := tr.Append(ctx, RoleUser, "msg"); err != nil {
				t.Errorf("Append failed: %v", err)
			}
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := tr.All(ctx); err != nil {
					t.Errorf("All failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	turns, _ := tr.All(ctx)
	if len(turns) != 100 {
		t.Fatalf("len(turns) = %d, want 100", len(turns))
	}
}

func TestRoleLabel(t *testing.T) {
	if RoleUser.Label() != "You" || RoleBot.Label() != "Bot" {
		t.Fatalf("labels = %q/%q, want You/Bot", RoleUser.Label(), RoleBot.Label())
	}
}

func TestNewStoreDefaultsToInMemory(t *testing.T) {
	store, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()
	if _, ok := store.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", store)
	}
}
