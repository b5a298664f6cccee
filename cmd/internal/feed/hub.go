package feed

import (
	"log/slog"
	"sync"
)

// Hub is the in-memory membership + broadcast fan-out primitive.
//
// Concurrency guarantees:
// - Register/Unregister are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	members map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		members: make(map[string]*Client),
	}
}

// Register adds a client to membership.
func (h *Hub) Register(client *Client) {
	if h == nil || client == nil || client.SessionID == "" {
		return
	}

	h.mu.Lock()
	h.members[client.SessionID] = client
	h.mu.Unlock()

	h.log.Info("feed.member.join", "session_id", client.SessionID, "user_id", client.UserID)
}

// Unregister removes a client from membership and signals its shutdown.
func (h *Hub) Unregister(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	var cl *Client

	h.mu.Lock()
	cl = h.members[sessionID]
	delete(h.members, sessionID)
	h.mu.Unlock()

	// Removal happens before Close so a broadcaster holding the pointer
	// cannot race the teardown.
	if cl != nil {
		cl.Close()
	}

	h.log.Info("feed.member.leave", "session_id", sessionID)
}

// Len reports current membership size.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Broadcast fans an event out to all members.
// Non-blocking: a full queue or a closing client means the event is dropped
// for that member.
func (h *Hub) Broadcast(ev Event) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, m := range h.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- ev:
		default:
			// Drop rather than block the whole feed.
		}
	}
}
