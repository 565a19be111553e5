package server

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBrokerPublishScopedToGame(t *testing.T) {
	b := NewBroker()

	ch1 := b.Subscribe("game-1")
	ch2 := b.Subscribe("game-2")
	defer b.Unsubscribe("game-1", ch1)
	defer b.Unsubscribe("game-2", ch2)

	b.Publish("game-1", SSEEvent{Type: "round_closed", LocationIndex: 2, Score: 140})

	select {
	case data := <-ch1:
		var ev SSEEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshaling event: %v", err)
		}
		if ev.Type != "round_closed" || ev.LocationIndex != 2 || ev.Score != 140 {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("subscriber received nothing")
	}

	select {
	case <-ch2:
		t.Fatal("event leaked to another game's subscriber")
	default:
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("game-1")
	defer b.Unsubscribe("game-1", ch)

	for i := 0; i < 40; i++ {
		b.Publish("game-1", SSEEvent{Type: "round_closed", LocationIndex: i})
	}

	// Buffered at 16: the rest were dropped rather than blocking the publisher.
	if got := len(ch); got != 16 {
		t.Errorf("buffered events = %d, want 16", got)
	}
}

func TestGameLocksSerializePerGame(t *testing.T) {
	locks := newGameLocks()

	unlock := locks.lock("game-1")

	// A different game is not blocked.
	done := make(chan struct{})
	go func() {
		u := locks.lock("game-2")
		u()
		close(done)
	}()
	<-done

	acquired := make(chan struct{})
	go func() {
		u := locks.lock("game-1")
		u()
		close(acquired)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while it was held")
	default:
	}

	unlock()
	<-acquired
}
