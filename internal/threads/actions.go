package threads

import "time"

// Action is a state transition request handled by Reduce.
type Action interface {
	Type() string
}

// SetActiveWorkspace selects the workspace intents default to.
type SetActiveWorkspace struct {
	WorkspaceID string
}

// EnsureThread adds a thread to its workspace roster if it is missing.
type EnsureThread struct {
	WorkspaceID string
	ThreadID    string
	Name        string
}

// SetThreads merges one page of the backend thread list into the roster.
// Append adds unseen threads after the existing ones (older pages); otherwise
// the page replaces the roster. Custom names and pins survive either way.
type SetThreads struct {
	WorkspaceID string
	Threads     []Thread
	Append      bool
}

// SetActiveThreadID moves the workspace's active-thread pointer. An empty
// ThreadID clears it. Unread flags are left alone.
type SetActiveThreadID struct {
	WorkspaceID string
	ThreadID    string
}

// RemoveThread drops a thread and everything scoped to it except pending
// permission denials, which stay until the user resolves them.
type RemoveThread struct {
	WorkspaceID string
	ThreadID    string
}

// SetThreadName updates the display name. Custom marks a user override that
// backend-provided names must not replace; a custom empty Name drops the
// override.
type SetThreadName struct {
	WorkspaceID string
	ThreadID    string
	Name        string
	Custom      bool
}

// SetThreadPinned pins a thread at PinnedAt, or unpins it when zero.
type SetThreadPinned struct {
	WorkspaceID string
	ThreadID    string
	PinnedAt    time.Time
}

// TouchThread records activity on a thread.
type TouchThread struct {
	WorkspaceID string
	ThreadID    string
	At          time.Time
}

// MarkUnread sets or clears a thread's unread flag.
type MarkUnread struct {
	ThreadID string
	Unread   bool
}

// MarkProcessing sets the processing label. Setting it clears the
// reviewing label; clearing it records how long the turn ran.
type MarkProcessing struct {
	ThreadID   string
	Processing bool
	At         time.Time
}

// MarkReviewing sets the reviewing label. Setting it clears the processing
// label.
type MarkReviewing struct {
	ThreadID  string
	Reviewing bool
}

// SetActiveTurnID records the in-flight turn for a thread; "" clears it.
type SetActiveTurnID struct {
	ThreadID string
	TurnID   string
}

// AddAssistantMessage appends an assistant-authored item. Kind defaults to
// ItemAgentMessage; errors surfaced to the user use ItemError.
type AddAssistantMessage struct {
	WorkspaceID string
	ThreadID    string
	ItemID      string
	Kind        ItemKind
	Text        string
	At          time.Time
}

// AppendAgentDelta streams text into an agent message, creating it on the
// first delta.
type AppendAgentDelta struct {
	WorkspaceID string
	ThreadID    string
	ItemID      string
	Delta       string
}

// UpsertItem replaces the item with the same id or appends it.
type UpsertItem struct {
	WorkspaceID string
	ThreadID    string
	Item        Item
}

// SetThreadItems installs history fetched by a resume. Replace discards the
// local history; otherwise items only known locally are kept after it.
type SetThreadItems struct {
	ThreadID string
	Items    []Item
	Replace  bool
}

// AddUserInputRequest queues a clarifying question.
type AddUserInputRequest struct {
	Request UserInputRequest
}

// RemoveUserInputRequest drops one answered request.
type RemoveUserInputRequest struct {
	WorkspaceID string
	RequestID   string
}

// ClearUserInputRequestsForThread drops every request of a thread.
type ClearUserInputRequestsForThread struct {
	ThreadID string
}

// AddPermissionDenials queues denials for a user decision.
type AddPermissionDenials struct {
	Denials []PermissionDenial
}

// RemovePermissionDenial resolves a pending denial. Resolution is terminal.
type RemovePermissionDenial struct {
	ID string
}

// SetThreadListCursor stores the cursor for the next page of older threads.
type SetThreadListCursor struct {
	WorkspaceID string
	Cursor      string
}

// LinkThread renames a thread id everywhere once the backend reports the id
// it actually uses.
type LinkThread struct {
	WorkspaceID string
	OldThreadID string
	NewThreadID string
}

func (SetActiveWorkspace) Type() string              { return "setActiveWorkspace" }
func (EnsureThread) Type() string                    { return "ensureThread" }
func (SetThreads) Type() string                      { return "setThreads" }
func (SetActiveThreadID) Type() string               { return "setActiveThreadId" }
func (RemoveThread) Type() string                    { return "removeThread" }
func (SetThreadName) Type() string                   { return "setThreadName" }
func (SetThreadPinned) Type() string                 { return "setThreadPinned" }
func (TouchThread) Type() string                     { return "touchThread" }
func (MarkUnread) Type() string                      { return "markUnread" }
func (MarkProcessing) Type() string                  { return "markProcessing" }
func (MarkReviewing) Type() string                   { return "markReviewing" }
func (SetActiveTurnID) Type() string                 { return "setActiveTurnId" }
func (AddAssistantMessage) Type() string             { return "addAssistantMessage" }
func (AppendAgentDelta) Type() string                { return "appendAgentDelta" }
func (UpsertItem) Type() string                      { return "upsertItem" }
func (SetThreadItems) Type() string                  { return "setThreadItems" }
func (AddUserInputRequest) Type() string             { return "addUserInputRequest" }
func (RemoveUserInputRequest) Type() string          { return "removeUserInputRequest" }
func (ClearUserInputRequestsForThread) Type() string { return "clearUserInputRequestsForThread" }
func (AddPermissionDenials) Type() string            { return "addPermissionDenials" }
func (RemovePermissionDenial) Type() string          { return "removePermissionDenial" }
func (SetThreadListCursor) Type() string             { return "setThreadListCursor" }
func (LinkThread) Type() string                      { return "linkThread" }
