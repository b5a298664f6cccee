package feed

import (
	"time"

	"traq/cmd/internal/board"
)

// Event is the wire representation of one activity entry.
type Event struct {
	Action       string         `json:"action"`
	ActorID      *string        `json:"actor_id,omitempty"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *string        `json:"resource_id,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func eventFromActivity(e board.ActivityEntry) Event {
	return Event{
		Action:       e.Action,
		ActorID:      e.ActorID,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Meta:         e.Meta,
		CreatedAt:    e.CreatedAt,
	}
}
