package bus

import (
	"sync"
	"testing"
	"time"
)

func TestMessageBusFanOut(t *testing.T) {
	b := NewMessageBus(16)
	defer b.Close()

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(id string) EventHandler {
		return func(ev Event) {
			mu.Lock()
			got[id] = append(got[id], ev.Name)
			mu.Unlock()
		}
	}

	b.Subscribe("a", record("a"))
	b.Subscribe("b", record("b"))

	b.Broadcast(Event{Name: "step.started"})
	b.Broadcast(Event{Name: "step.finished"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["a"]) == 2 && len(got["b"]) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if got["a"][0] != "step.started" || got["a"][1] != "step.finished" {
		t.Errorf("subscriber a saw %v, want ordered events", got["a"])
	}
}

func TestMessageBusSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewMessageBus(1)
	defer b.Close()

	block := make(chan struct{})
	b.Subscribe("slow", func(Event) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Broadcast(Event{Name: "log.line"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
	close(block)

	if b.Dropped() == 0 {
		t.Error("expected dropped events for the slow subscriber")
	}
}

func TestMessageBusUnsubscribe(t *testing.T) {
	b := NewMessageBus(16)
	defer b.Close()

	var mu sync.Mutex
	count := 0
	b.Subscribe("x", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	b.Broadcast(Event{Name: "one"})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	b.Unsubscribe("x")
	b.Broadcast(Event{Name: "two"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("handler called %d times after unsubscribe, want 1", count)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
