package threads

// State is an immutable snapshot of every workspace's threads. Reduce never
// mutates a State in place, so a snapshot handed to a reader stays valid.
type State struct {
	ActiveWorkspaceID       string                  `json:"active_workspace_id,omitempty"`
	ThreadsByWorkspace      map[string][]Thread     `json:"threads_by_workspace"`
	ActiveThreadByWorkspace map[string]string       `json:"active_thread_by_workspace"`
	ThreadListCursors       map[string]string       `json:"thread_list_cursors"`
	ItemsByThread           map[string][]Item       `json:"items_by_thread"`
	StatusByThread          map[string]ThreadStatus `json:"status_by_thread"`
	ActiveTurnByThread      map[string]string       `json:"active_turn_by_thread"`
	UserInputRequests       []UserInputRequest      `json:"user_input_requests"`
	PermissionDenials       []PermissionDenial      `json:"permission_denials"`
	ResolvedDenials         map[string]struct{}     `json:"-"`
	resolvedOrder           []string
}

// NewState returns the empty initial state.
func NewState() State {
	return State{
		ThreadsByWorkspace:      map[string][]Thread{},
		ActiveThreadByWorkspace: map[string]string{},
		ThreadListCursors:       map[string]string{},
		ItemsByThread:           map[string][]Item{},
		StatusByThread:          map[string]ThreadStatus{},
		ActiveTurnByThread:      map[string]string{},
		UserInputRequests:       []UserInputRequest{},
		PermissionDenials:       []PermissionDenial{},
		ResolvedDenials:         map[string]struct{}{},
	}
}

// Threads returns the workspace's roster.
func (s State) Threads(workspaceID string) []Thread {
	return s.ThreadsByWorkspace[workspaceID]
}

// Thread looks a thread up in its workspace roster.
func (s State) Thread(workspaceID, threadID string) (Thread, bool) {
	idx := indexOfThread(s.ThreadsByWorkspace[workspaceID], threadID)
	if idx < 0 {
		return Thread{}, false
	}
	return s.ThreadsByWorkspace[workspaceID][idx], true
}

// WorkspaceOf finds the workspace that owns threadID.
func (s State) WorkspaceOf(threadID string) (string, bool) {
	for workspaceID, roster := range s.ThreadsByWorkspace {
		if indexOfThread(roster, threadID) >= 0 {
			return workspaceID, true
		}
	}
	return "", false
}

// ActiveThreadID returns the active thread of a workspace, or "".
func (s State) ActiveThreadID(workspaceID string) string {
	return s.ActiveThreadByWorkspace[workspaceID]
}

// Items returns a thread's history.
func (s State) Items(threadID string) []Item {
	return s.ItemsByThread[threadID]
}

// Status returns a thread's displayed status.
func (s State) Status(threadID string) ThreadStatus {
	return s.StatusByThread[threadID]
}

// ActiveTurnID returns the turn currently considered in flight, or "".
func (s State) ActiveTurnID(threadID string) string {
	return s.ActiveTurnByThread[threadID]
}

// ThreadListCursor returns the pagination cursor for older threads.
func (s State) ThreadListCursor(workspaceID string) string {
	return s.ThreadListCursors[workspaceID]
}

// PermissionDenial finds a pending denial by id.
func (s State) PermissionDenial(id string) (PermissionDenial, bool) {
	for _, denial := range s.PermissionDenials {
		if denial.ID == id {
			return denial, true
		}
	}
	return PermissionDenial{}, false
}

// UserInputRequest finds a pending user-input request by id.
func (s State) UserInputRequest(id string) (UserInputRequest, bool) {
	for _, request := range s.UserInputRequests {
		if request.ID == id {
			return request, true
		}
	}
	return UserInputRequest{}, false
}

// UserInputRequestsForThread lists the pending requests of a thread.
func (s State) UserInputRequestsForThread(threadID string) []UserInputRequest {
	var out []UserInputRequest
	for _, request := range s.UserInputRequests {
		if request.ThreadID == threadID {
			out = append(out, request)
		}
	}
	return out
}

func indexOfThread(roster []Thread, threadID string) int {
	for i, thread := range roster {
		if thread.ID == threadID {
			return i
		}
	}
	return -1
}

func indexOfItem(items []Item, itemID string) int {
	if itemID == "" {
		return -1
	}
	for i, item := range items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}
