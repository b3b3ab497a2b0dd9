package backend

import (
	"time"

	"github.com/codefionn/threaddeck/internal/threads"
)

// EventKind names a push event.
type EventKind string

const (
	EventThreadLinked     EventKind = "thread/linked"
	EventThreadName       EventKind = "thread/name"
	EventTurnStarted      EventKind = "turn/started"
	EventTurnCompleted    EventKind = "turn/completed"
	EventReviewStarted    EventKind = "review/started"
	EventReviewCompleted  EventKind = "review/completed"
	EventItemDelta        EventKind = "item/delta"
	EventItemCompleted    EventKind = "item/completed"
	EventPermissionDenied EventKind = "permission/denied"
	EventInputRequested   EventKind = "input/requested"
	EventError            EventKind = "error"
)

// Event is a backend push event. Which fields are set depends on Kind.
type Event struct {
	Kind        EventKind `json:"kind"`
	WorkspaceID string    `json:"workspace_id"`
	ThreadID    string    `json:"thread_id,omitempty"`
	TurnID      string    `json:"turn_id,omitempty"`
	At          time.Time `json:"at,omitzero"`

	// thread/linked
	NewThreadID string `json:"new_thread_id,omitempty"`

	// thread/name
	Name string `json:"name,omitempty"`

	// item/delta
	ItemID string `json:"item_id,omitempty"`
	Delta  string `json:"delta,omitempty"`

	// item/completed
	Item *threads.Item `json:"item,omitempty"`

	// permission/denied
	Denials []threads.PermissionDenial `json:"denials,omitempty"`

	// input/requested
	Request *threads.UserInputRequest `json:"request,omitempty"`

	// error, and turn/completed when the turn failed
	Message string `json:"message,omitempty"`
}
