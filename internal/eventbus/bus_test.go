package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: TypeReminderRegistered, Data: "ev-1"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeReminderRegistered {
				t.Fatalf("sub %d: type = %q", i, e.Type)
			}
			if e.Time.IsZero() {
				t.Fatalf("sub %d: time not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d: no event", i)
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	// Must not block even though the buffer fills after the first event.
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: TypeDispatchQueued})
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Must not panic on the closed channel.
	b.Publish(Event{Type: TypeDispatchSent})
}
