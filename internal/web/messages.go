package web

import "github.com/codefionn/threaddeck/internal/threads"

// Message types
const (
	// MessageTypeSnapshot carries the full state; sent once on connect.
	MessageTypeSnapshot = "snapshot"
	// MessageTypeState announces that an action was applied.
	MessageTypeState = "state"
	MessageTypeError = "error"
)

// Message is sent over the WebSocket
type Message struct {
	Type   string         `json:"type"`
	Action string         `json:"action,omitempty"`
	State  *threads.State `json:"state,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Request bodies

type workspaceRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

type activeThreadRequest struct {
	ThreadID string `json:"thread_id"`
}

type sendMessageRequest struct {
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
}

type interruptRequest struct {
	TurnID string `json:"turn_id,omitempty"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type userInputRequest struct {
	Answers map[string]string `json:"answers"`
}

type ruleRequest struct {
	ToolName string   `json:"tool_name,omitempty"`
	Command  []string `json:"command,omitempty"`
}

type threadResponse struct {
	ThreadID string `json:"thread_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}
