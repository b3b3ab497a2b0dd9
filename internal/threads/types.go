// Package threads holds the per-workspace thread state machine: the roster,
// active-thread pointers, turn status, item history, pending user-input
// requests and pending permission denials. All transitions go through Reduce.
package threads

import "time"

// Thread is a single conversation scoped to one workspace.
type Thread struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	CustomName  bool      `json:"custom_name,omitempty"`
	PinnedAt    time.Time `json:"pinned_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// Pinned reports whether the thread carries a pin timestamp.
func (t Thread) Pinned() bool {
	return !t.PinnedAt.IsZero()
}

// ItemKind classifies an entry in a thread's history.
type ItemKind string

const (
	ItemUserMessage  ItemKind = "user_message"
	ItemAgentMessage ItemKind = "agent_message"
	ItemReasoning    ItemKind = "reasoning"
	ItemToolCall     ItemKind = "tool_call"
	ItemToolResult   ItemKind = "tool_result"
	ItemError        ItemKind = "error"
)

// Item is one record in a thread's append-only history.
type Item struct {
	ID        string         `json:"id"`
	Kind      ItemKind       `json:"kind"`
	Text      string         `json:"text,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Images    []string       `json:"images,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitzero"`
}

// ThreadStatus is the displayed status of a thread.
type ThreadStatus struct {
	IsProcessing        bool      `json:"is_processing"`
	IsReviewing         bool      `json:"is_reviewing"`
	HasUnread           bool      `json:"has_unread"`
	ProcessingStartedAt time.Time `json:"processing_started_at,omitzero"`
	LastDuration        int64     `json:"last_duration_ms,omitempty"`
}

// UserInputQuestion is a single question inside a user-input request.
type UserInputQuestion struct {
	ID          string   `json:"id"`
	Header      string   `json:"header,omitempty"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	MultiSelect bool     `json:"multi_select,omitempty"`
}

// UserInputRequest is a clarifying question the agent is waiting on.
type UserInputRequest struct {
	ID          string              `json:"id"`
	WorkspaceID string              `json:"workspace_id"`
	ThreadID    string              `json:"thread_id"`
	TurnID      string              `json:"turn_id,omitempty"`
	Questions   []UserInputQuestion `json:"questions"`
}

// PermissionDenial is a tool invocation the backend refused until the user
// decides on it. ToolInput is opaque to everything except the command
// extractor.
type PermissionDenial struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	ThreadID    string         `json:"thread_id"`
	TurnID      string         `json:"turn_id,omitempty"`
	ToolName    string         `json:"tool_name"`
	ToolInput   map[string]any `json:"tool_input,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
