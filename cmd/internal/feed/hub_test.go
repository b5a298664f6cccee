package feed

import (
	"testing"
	"time"
)

func TestHubRegisterBroadcastUnregister(t *testing.T) {
	h := NewHub(nil)

	a := NewClient("u1", "s1", 4)
	b := NewClient("u2", "s2", 4)
	h.Register(a)
	h.Register(b)

	if h.Len() != 2 {
		t.Fatalf("Len = %d, want 2", h.Len())
	}

	ev := Event{Action: "task.created", ResourceType: "task", CreatedAt: time.Now().UTC()}
	h.Broadcast(ev)

	for _, c := range []*Client{a, b} {
		select {
		case got := <-c.Send:
			if got.Action != "task.created" {
				t.Fatalf("Action = %q", got.Action)
			}
		default:
			t.Fatalf("client %s did not receive the event", c.SessionID)
		}
	}

	h.Unregister("s1")
	if h.Len() != 1 {
		t.Fatalf("Len after unregister = %d, want 1", h.Len())
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("unregistered client must be closed")
	}
}

func TestHubBroadcastDropsOnBackpressure(t *testing.T) {
	h := NewHub(nil)

	// Queue of minimum size 1 via NewClient floor; fill it manually.
	c := NewClient("u1", "s1", 1)
	h.Register(c)

	h.Broadcast(Event{Action: "one"})
	h.Broadcast(Event{Action: "two"}) // dropped, queue full

	if got := len(c.Send); got != 1 {
		t.Fatalf("queue len = %d, want 1", got)
	}
	if ev := <-c.Send; ev.Action != "one" {
		t.Fatalf("kept event = %q, want first", ev.Action)
	}
}

func TestHubSkipsClosingClients(t *testing.T) {
	h := NewHub(nil)

	c := NewClient("u1", "s1", 4)
	h.Register(c)
	c.Close()

	h.Broadcast(Event{Action: "late"})
	if len(c.Send) != 0 {
		t.Fatalf("closing client must not receive events")
	}

	// Close is idempotent.
	c.Close()
}
