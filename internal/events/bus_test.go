package events

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	bus.Publish(StateUpdate{ParticipantID: "p1", Catnip: 3.5, Reason: ReasonTick})

	for name, ch := range map[string]<-chan StateUpdate{"a": a, "b": b} {
		select {
		case update := <-ch:
			if update.ParticipantID != "p1" || update.Catnip != 3.5 {
				t.Errorf("subscriber %s got wrong payload: %+v", name, update)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received the update", name)
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	// Second publish overflows the buffer; it must not block.
	done := make(chan struct{})
	go func() {
		bus.Publish(StateUpdate{Tick: 1})
		bus.Publish(StateUpdate{Tick: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	update := <-ch
	if update.Tick != 1 {
		t.Errorf("expected first update kept, got tick %d", update.Tick)
	}
	select {
	case extra := <-ch:
		t.Errorf("expected overflow update dropped, got %+v", extra)
	default:
	}
}

func TestCancelClosesChannelAndUnsubscribes(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)

	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	cancel()
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", bus.SubscriberCount())
	}

	if _, open := <-ch; open {
		t.Error("expected channel closed after cancel")
	}

	// Cancelling twice is safe.
	cancel()

	// Publishing after cancel must not panic.
	bus.Publish(StateUpdate{Tick: 1})
}

func TestSubscribersFilterByParticipantID(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	// The bus broadcasts everything; a consumer interested in one
	// participant filters on its side.
	bus.Publish(StateUpdate{ParticipantID: "p1", Tick: 1})
	bus.Publish(StateUpdate{ParticipantID: "p2", Tick: 1})
	bus.Publish(StateUpdate{ParticipantID: "p1", Tick: 2})

	var mine []StateUpdate
	for i := 0; i < 3; i++ {
		update := <-ch
		if update.ParticipantID == "p1" {
			mine = append(mine, update)
		}
	}
	if len(mine) != 2 {
		t.Errorf("expected 2 updates for p1, got %d", len(mine))
	}
}
