package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindStoreCommitted, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindStoreCommitted {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStoreCommitted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("send.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSyncCompleted})
	b.Publish(Event{Kind: KindSendAck})

	select {
	case evt := <-ch:
		if evt.Kind != KindSendAck {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSendAck)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The sync event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("auth.", 10)
	unsub()

	b.Publish(Event{Kind: KindAuthChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 1)
	defer unsub()

	b.Publish(Event{Kind: KindSyncStatus, Payload: "first"})
	// Buffer full; this one is dropped rather than blocking the publisher.
	b.Publish(Event{Kind: KindSyncStatus, Payload: "second"})

	evt := <-ch
	if evt.Payload != "first" {
		t.Errorf("got %v, want first", evt.Payload)
	}
}
