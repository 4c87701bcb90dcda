package events

import (
	"testing"
	"time"
)

func TestAppendStampsAndBounds(t *testing.T) {
	el := NewEventLog(3)
	for i := 0; i < 5; i++ {
		el.Emit(EventTypeManualClick, ActorPlayer, "", nil)
	}

	history := el.Replay()
	if len(history) != 3 {
		t.Fatalf("Expected 3 retained events, got %d", len(history))
	}
	if history[0].Seq != 3 || history[2].Seq != 5 {
		t.Errorf("Expected seqs 3..5, got %d..%d", history[0].Seq, history[2].Seq)
	}
	for _, e := range history {
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Errorf("Event not stamped: %+v", e)
		}
	}
}

func TestSubscribeReceivesAndCancels(t *testing.T) {
	el := NewEventLog(0)
	ch, cancel := el.Subscribe(4)

	el.Emit(EventTypeUpgradePurchased, ActorPlayer, "pointer", nil)

	select {
	case e := <-ch:
		if e.Type != EventTypeUpgradePurchased || e.TargetID != "pointer" {
			t.Errorf("Unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("Subscriber did not receive event")
	}

	cancel()
	cancel()
	if _, open := <-ch; open {
		t.Errorf("Expected channel closed after cancel")
	}

	// Appending after cancel must not panic on the closed channel.
	el.Emit(EventTypeReset, ActorPlayer, "", nil)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	el := NewEventLog(0)
	_, cancel := el.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			el.Emit(EventTypeStateChanged, ActorClock, "", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Append blocked on a full subscriber")
	}
	if el.Dropped() != 9 {
		t.Errorf("Expected 9 dropped deliveries, got %d", el.Dropped())
	}
}

func TestSinceAndGetByType(t *testing.T) {
	el := NewEventLog(0)
	el.Emit(EventTypeManualClick, ActorPlayer, "", nil)
	el.Emit(EventTypeLevelUp, ActorPlayer, "", nil)
	el.Emit(EventTypeManualClick, ActorPlayer, "", nil)

	if got := len(el.Since(1)); got != 2 {
		t.Errorf("Expected 2 events since seq 1, got %d", got)
	}
	if got := len(el.GetByType(EventTypeManualClick)); got != 2 {
		t.Errorf("Expected 2 click events, got %d", got)
	}
}
