package threads

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Reduce applies one action to s and returns the next state. It is pure:
// maps and slices of s are cloned before they change. Unknown actions return
// s unchanged.
func Reduce(s State, action Action) State {
	switch a := action.(type) {
	case SetActiveWorkspace:
		s.ActiveWorkspaceID = a.WorkspaceID
		return s

	case EnsureThread:
		return ensureThread(s, a.WorkspaceID, a.ThreadID, a.Name)

	case SetThreads:
		return setThreads(s, a)

	case SetActiveThreadID:
		if a.WorkspaceID == "" {
			return s
		}
		if a.ThreadID != "" {
			s = ensureThread(s, a.WorkspaceID, a.ThreadID, "")
		}
		s.ActiveThreadByWorkspace = withKey(s.ActiveThreadByWorkspace, a.WorkspaceID, a.ThreadID)
		return s

	case RemoveThread:
		return removeThread(s, a)

	case SetThreadName:
		return updateThread(s, a.WorkspaceID, a.ThreadID, func(t *Thread) bool {
			if t.CustomName && !a.Custom {
				return false
			}
			if a.Custom && a.Name == "" {
				// Dropping the override keeps the current name until the
				// backend provides a new one.
				t.CustomName = false
				return true
			}
			t.Name = a.Name
			t.CustomName = a.Custom
			return true
		})

	case SetThreadPinned:
		return updateThread(s, a.WorkspaceID, a.ThreadID, func(t *Thread) bool {
			t.PinnedAt = a.PinnedAt
			return true
		})

	case TouchThread:
		return updateThread(s, a.WorkspaceID, a.ThreadID, func(t *Thread) bool {
			if !a.At.After(t.UpdatedAt) {
				return false
			}
			t.UpdatedAt = a.At
			return true
		})

	case MarkUnread:
		return updateStatus(s, a.ThreadID, func(st *ThreadStatus) {
			st.HasUnread = a.Unread
		})

	case MarkProcessing:
		return updateStatus(s, a.ThreadID, func(st *ThreadStatus) {
			if a.Processing {
				st.IsProcessing = true
				st.IsReviewing = false
				st.ProcessingStartedAt = a.At
				return
			}
			if st.IsProcessing && !st.ProcessingStartedAt.IsZero() && !a.At.IsZero() {
				st.LastDuration = a.At.Sub(st.ProcessingStartedAt).Milliseconds()
			}
			st.IsProcessing = false
			st.ProcessingStartedAt = time.Time{}
		})

	case MarkReviewing:
		return updateStatus(s, a.ThreadID, func(st *ThreadStatus) {
			st.IsReviewing = a.Reviewing
			if a.Reviewing {
				st.IsProcessing = false
			}
		})

	case SetActiveTurnID:
		if a.ThreadID == "" {
			return s
		}
		if a.TurnID == "" {
			s.ActiveTurnByThread = withoutKey(s.ActiveTurnByThread, a.ThreadID)
			return s
		}
		s.ActiveTurnByThread = withKey(s.ActiveTurnByThread, a.ThreadID, a.TurnID)
		return s

	case AddAssistantMessage:
		kind := a.Kind
		if kind == "" {
			kind = ItemAgentMessage
		}
		itemID := a.ItemID
		if itemID == "" {
			itemID = "local-" + uuid.NewString()
		}
		return appendItem(s, a.WorkspaceID, a.ThreadID, Item{
			ID:        itemID,
			Kind:      kind,
			Text:      a.Text,
			CreatedAt: a.At,
		})

	case AppendAgentDelta:
		items := s.ItemsByThread[a.ThreadID]
		if idx := indexOfItem(items, a.ItemID); idx >= 0 {
			next := slices.Clone(items)
			next[idx].Text += a.Delta
			s.ItemsByThread = withKey(s.ItemsByThread, a.ThreadID, next)
			return s
		}
		return appendItem(s, a.WorkspaceID, a.ThreadID, Item{
			ID:   a.ItemID,
			Kind: ItemAgentMessage,
			Text: a.Delta,
		})

	case UpsertItem:
		items := s.ItemsByThread[a.ThreadID]
		if idx := indexOfItem(items, a.Item.ID); idx >= 0 {
			next := slices.Clone(items)
			next[idx] = a.Item
			s.ItemsByThread = withKey(s.ItemsByThread, a.ThreadID, next)
			return s
		}
		return appendItem(s, a.WorkspaceID, a.ThreadID, a.Item)

	case SetThreadItems:
		return setThreadItems(s, a)

	case AddUserInputRequest:
		if a.Request.ID == "" {
			return s
		}
		for _, existing := range s.UserInputRequests {
			if existing.ID == a.Request.ID && existing.WorkspaceID == a.Request.WorkspaceID {
				return s
			}
		}
		s.UserInputRequests = appendClone(s.UserInputRequests, a.Request)
		return s

	case RemoveUserInputRequest:
		s.UserInputRequests = filterClone(s.UserInputRequests, func(r UserInputRequest) bool {
			return r.ID == a.RequestID && (a.WorkspaceID == "" || r.WorkspaceID == a.WorkspaceID)
		})
		return s

	case ClearUserInputRequestsForThread:
		s.UserInputRequests = filterClone(s.UserInputRequests, func(r UserInputRequest) bool {
			return r.ThreadID == a.ThreadID
		})
		return s

	case AddPermissionDenials:
		return addPermissionDenials(s, a.Denials)

	case RemovePermissionDenial:
		if a.ID == "" {
			return s
		}
		s.PermissionDenials = filterClone(s.PermissionDenials, func(d PermissionDenial) bool {
			return d.ID == a.ID
		})
		return resolveDenial(s, a.ID)

	case SetThreadListCursor:
		if a.Cursor == "" {
			s.ThreadListCursors = withoutKey(s.ThreadListCursors, a.WorkspaceID)
			return s
		}
		s.ThreadListCursors = withKey(s.ThreadListCursors, a.WorkspaceID, a.Cursor)
		return s

	case LinkThread:
		return linkThread(s, a)
	}

	return s
}
