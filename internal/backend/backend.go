// Package backend defines the collaborator that runs agent threads: the
// asynchronous calls the orchestrator issues and the push events it reacts to.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/codefionn/threaddeck/internal/approval"
	"github.com/codefionn/threaddeck/internal/threads"
)

var (
	// ErrNoActiveTurn is returned when a turn-scoped call names a turn the
	// backend is not running.
	ErrNoActiveTurn = errors.New("no active turn")
	// ErrUnknownWorkspace is returned for workspace ids the backend was not
	// configured with.
	ErrUnknownWorkspace = errors.New("unknown workspace")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("backend closed")
)

// SendOptions tune a single SendMessage call.
type SendOptions struct {
	// SkipPromptExpansion sends the text verbatim. Set when resending a
	// prompt that was already expanded on its first send.
	SkipPromptExpansion bool
}

// Snapshot is a thread's state as returned by a resume.
type Snapshot struct {
	ThreadID     string         `json:"thread_id"`
	Name         string         `json:"name,omitempty"`
	Items        []threads.Item `json:"items"`
	ActiveTurnID string         `json:"active_turn_id,omitempty"`
	Processing   bool           `json:"processing"`
	UpdatedAt    time.Time      `json:"updated_at,omitzero"`
}

// Page is one page of a workspace's thread list.
type Page struct {
	Threads    []threads.Thread `json:"threads"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// Backend is the asynchronous thread runtime. Every call may block on I/O;
// results of a turn arrive later through Subscribe.
type Backend interface {
	StartThread(ctx context.Context, workspaceID string) (string, error)
	// ResumeThread fetches a thread's history. activation is set when the
	// resume refreshes a thread the user just switched to.
	ResumeThread(ctx context.Context, workspaceID, threadID string, activation bool) (Snapshot, error)
	SendMessage(ctx context.Context, workspaceID, threadID, text string, images []string, opts SendOptions) error
	InterruptTurn(ctx context.Context, workspaceID, threadID, turnID string) error
	RememberApprovalRule(ctx context.Context, workspaceID string, rule approval.Rule) error
	ListThreads(ctx context.Context, workspaceID, cursor string) (Page, error)
	ArchiveThread(ctx context.Context, workspaceID, threadID string) error
	// RespondToUserInput answers a pending user-input request. answers maps
	// question ids to the chosen answer.
	RespondToUserInput(ctx context.Context, workspaceID, threadID, requestID string, answers map[string]string) error
	// Subscribe returns the push-event stream. Events are delivered in the
	// order they were produced; the channel closes when ctx ends or the
	// backend closes.
	Subscribe(ctx context.Context) <-chan Event
	Close() error
}
