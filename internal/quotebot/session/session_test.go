package session_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leylacuisine/quotebot/internal/quotebot/session"
)

func TestAppend_BoundedHistory(t *testing.T) {
	s := &session.Session{}
	for i := 0; i < 10; i++ {
		s.Append("user", fmt.Sprintf("turn %d", i))
	}

	if len(s.History) != session.MaxHistory {
		t.Fatalf("history length = %d, want %d", len(s.History), session.MaxHistory)
	}
	// Oldest entries are dropped; insertion order of the survivors holds.
	if s.History[0].Content != "turn 6" || s.History[3].Content != "turn 9" {
		t.Errorf("unexpected window: %+v", s.History)
	}
}

func TestAcquire_CreatesWithDefaultHandler(t *testing.T) {
	store := session.NewStore("triage")

	s, release := store.Acquire("@alice:example.com")
	defer release()

	if s.ActiveHandler != "triage" {
		t.Errorf("active handler = %q, want triage", s.ActiveHandler)
	}
	if s.UserID != "@alice:example.com" {
		t.Errorf("user id = %q", s.UserID)
	}
}

// Concurrent turns from distinct users must never observe or mutate each
// other's state.
func TestStore_SessionIsolation(t *testing.T) {
	store := session.NewStore("triage")

	const turns = 100
	var wg sync.WaitGroup
	for _, user := range []string{"@a:x", "@b:x"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < turns; i++ {
				s, release := store.Acquire(user)
				s.Append("user", user)
				s.ActiveHandler = user
				release()
			}
		}(user)
	}
	wg.Wait()

	for _, user := range []string{"@a:x", "@b:x"} {
		snap := store.Snapshot(user)
		if snap == nil {
			t.Fatalf("no session for %s", user)
		}
		if snap.ActiveHandler != user {
			t.Errorf("%s: active handler = %q, leaked from another session", user, snap.ActiveHandler)
		}
		for _, m := range snap.History {
			if m.Content != user {
				t.Errorf("%s: history contains %q from another session", user, m.Content)
			}
		}
	}
}

// Same-user turns serialize: the counter below is only correct when the
// per-user lock covers the whole read-modify-write.
func TestStore_PerUserSerialization(t *testing.T) {
	store := session.NewStore("triage")

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s, release := store.Acquire("@shared:x")
				// Non-atomic read-modify-write through ChatID, abused
				// here as a counter to expose lost updates.
				s.ChatID += "x"
				release()
			}
		}()
	}
	wg.Wait()

	snap := store.Snapshot("@shared:x")
	if len(snap.ChatID) != workers*perWorker {
		t.Errorf("lost updates: counter = %d, want %d", len(snap.ChatID), workers*perWorker)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	store := session.NewStore("triage")
	s, release := store.Acquire("@a:x")
	s.Append("user", "hello")
	release()

	snap := store.Snapshot("@a:x")
	snap.History[0].Content = "mutated"
	snap.ActiveHandler = "order"

	again := store.Snapshot("@a:x")
	if again.History[0].Content != "hello" || again.ActiveHandler != "triage" {
		t.Error("Snapshot shares state with the live session")
	}
}
