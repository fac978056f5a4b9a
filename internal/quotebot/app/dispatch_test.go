package app_test

import (
	"sync"
	"testing"
	"time"

	"github.com/leylacuisine/quotebot/internal/quotebot/app"
)

func TestDispatcherPreservesPerUserOrder(t *testing.T) {
	d := app.NewDispatcher(128)
	defer d.Stop()

	const turns = 100
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	// Enqueued from a single goroutine, like the sync loop delivers.
	for i := 0; i < turns; i++ {
		i := i
		ok := d.Enqueue("@alice:example.com", func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == turns-1 {
				close(done)
			}
		})
		if !ok {
			t.Fatalf("turn %d rejected", i)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queued turns did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("turn %d ran in position %d: %v", v, i, got[:i+1])
		}
	}
}

func TestDispatcherUsersRunIndependently(t *testing.T) {
	d := app.NewDispatcher(4)
	defer d.Stop()

	// Alice's worker is stuck; Bob's turns must still run.
	block := make(chan struct{})
	d.Enqueue("@alice:example.com", func() { <-block })
	defer close(block)

	ran := make(chan struct{})
	d.Enqueue("@bob:example.com", func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("one user's slow turn blocked another user")
	}
}

func TestDispatcherRejectsWhenQueueFull(t *testing.T) {
	d := app.NewDispatcher(2)
	defer d.Stop()

	block := make(chan struct{})
	defer close(block)
	d.Enqueue("@alice:example.com", func() { <-block })

	// The worker may or may not have picked up the first task yet, so up
	// to depth+1 tasks fit before Enqueue pushes back.
	rejected := false
	for i := 0; i < 4; i++ {
		if !d.Enqueue("@alice:example.com", func() {}) {
			rejected = true
			break
		}
	}
	if !rejected {
		t.Fatal("a full queue must reject further turns")
	}
}
