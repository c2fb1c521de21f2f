package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestAppendOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.Start(ctx, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == "" {
		t.Fatal("expected server-issued session id")
	}

	messages := []string{"first", "second", "third", "fourth"}
	for _, m := range messages {
		if err := s.Append(ctx, id, RoleUser, m); err != nil {
			t.Fatalf("append %q: %v", m, err)
		}
	}

	turns, err := s.Read(ctx, id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(turns) != len(messages) {
		t.Fatalf("expected %d turns, got %d", len(messages), len(turns))
	}
	for i, m := range messages {
		if turns[i].Content != m {
			t.Errorf("turn %d: expected %q, got %q", i, m, turns[i].Content)
		}
	}
}

func TestAppendUnknownSession(t *testing.T) {
	s := NewMemoryStore()
	err := s.Append(context.Background(), "nope", RoleUser, "hi")
	if err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestReadUnknownSession(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Read(context.Background(), "nope")
	if err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Clearing a session that never existed is a no-op.
	if err := s.Clear(ctx, "never-existed"); err != nil {
		t.Errorf("clear of unknown session: %v", err)
	}

	id, _ := s.Start(ctx, "s1")
	_ = s.Append(ctx, id, RoleUser, "hello")

	if err := s.Clear(ctx, id); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.Clear(ctx, id); err != nil {
		t.Errorf("second clear: %v", err)
	}
	if _, err := s.Read(ctx, id); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound after clear, got %v", err)
	}
}

func TestStartResetsExistingSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, _ := s.Start(ctx, "s1")
	_ = s.Append(ctx, id, RoleUser, "old message")
	_ = s.MergePreferences(ctx, id, Preferences{"genres": {"horror"}})

	again, err := s.Start(ctx, "s1")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if again != "s1" {
		t.Errorf("expected same id back, got %q", again)
	}

	turns, err := s.Read(ctx, "s1")
	if err != nil {
		t.Fatalf("read after restart: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected empty transcript after restart, got %d turns", len(turns))
	}
	prefs, _ := s.Preferences(ctx, "s1")
	if len(prefs) != 0 {
		t.Errorf("expected empty preferences after restart, got %v", prefs)
	}
}

func TestConcurrentAppends(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Start(ctx, "s1")

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Append(ctx, id, RoleUser, fmt.Sprintf("msg-%d", i)); err != nil {
				t.Errorf("append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	turns, err := s.Read(ctx, id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(turns) != n {
		t.Fatalf("expected %d turns, got %d", n, len(turns))
	}

	// Every message landed exactly once.
	seen := make(map[string]int, n)
	for _, turn := range turns {
		seen[turn.Content]++
	}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("msg-%d", i)
		if seen[key] != 1 {
			t.Errorf("expected %q exactly once, got %d", key, seen[key])
		}
	}
}

func TestMergePreferences(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Start(ctx, "s1")

	_ = s.MergePreferences(ctx, id, Preferences{"platforms": {"Netflix", "Prime"}})
	_ = s.MergePreferences(ctx, id, Preferences{
		"platforms": {"Prime", "Hulu"},
		"genres":    {"sci-fi"},
	})

	prefs, err := s.Preferences(ctx, id)
	if err != nil {
		t.Fatalf("preferences: %v", err)
	}

	platforms := prefs["platforms"]
	want := []string{"Netflix", "Prime", "Hulu"}
	if len(platforms) != len(want) {
		t.Fatalf("expected platforms %v, got %v", want, platforms)
	}
	for i := range want {
		if platforms[i] != want[i] {
			t.Errorf("platforms[%d]: expected %q, got %q", i, want[i], platforms[i])
		}
	}
	if len(prefs["genres"]) != 1 || prefs["genres"][0] != "sci-fi" {
		t.Errorf("unexpected genres: %v", prefs["genres"])
	}
}

func TestPreferencesCopyIsIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Start(ctx, "s1")
	_ = s.MergePreferences(ctx, id, Preferences{"genres": {"drama"}})

	prefs, _ := s.Preferences(ctx, id)
	prefs["genres"][0] = "mutated"

	again, _ := s.Preferences(ctx, id)
	if again["genres"][0] != "drama" {
		t.Errorf("store state leaked through returned preferences: %v", again)
	}
}
