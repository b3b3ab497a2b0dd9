package threads

import (
	"maps"
	"slices"
)

func ensureThread(s State, workspaceID, threadID, name string) State {
	if workspaceID == "" || threadID == "" {
		return s
	}
	roster := s.ThreadsByWorkspace[workspaceID]
	if indexOfThread(roster, threadID) >= 0 {
		return s
	}

	thread := Thread{ID: threadID, WorkspaceID: workspaceID, Name: name}
	// Newest first.
	s.ThreadsByWorkspace = withKey(s.ThreadsByWorkspace, workspaceID, appendClone([]Thread{thread}, roster...))
	return s
}

func setThreads(s State, a SetThreads) State {
	if a.WorkspaceID == "" {
		return s
	}
	existing := s.ThreadsByWorkspace[a.WorkspaceID]

	merge := func(incoming Thread) Thread {
		incoming.WorkspaceID = a.WorkspaceID
		idx := indexOfThread(existing, incoming.ID)
		if idx < 0 {
			return incoming
		}
		known := existing[idx]
		if known.CustomName {
			incoming.Name = known.Name
			incoming.CustomName = true
		}
		if incoming.PinnedAt.IsZero() {
			incoming.PinnedAt = known.PinnedAt
		}
		if known.UpdatedAt.After(incoming.UpdatedAt) {
			incoming.UpdatedAt = known.UpdatedAt
		}
		return incoming
	}

	var next []Thread
	if a.Append {
		next = slices.Clone(existing)
		for _, incoming := range a.Threads {
			merged := merge(incoming)
			if idx := indexOfThread(next, merged.ID); idx >= 0 {
				next[idx] = merged
				continue
			}
			next = append(next, merged)
		}
	} else {
		next = make([]Thread, 0, len(a.Threads)+1)
		for _, incoming := range a.Threads {
			if indexOfThread(next, incoming.ID) >= 0 {
				continue
			}
			next = append(next, merge(incoming))
		}
		// The active thread may not be listed yet (freshly started); keep it
		// so the active pointer stays valid.
		if active := s.ActiveThreadByWorkspace[a.WorkspaceID]; active != "" && indexOfThread(next, active) < 0 {
			if idx := indexOfThread(existing, active); idx >= 0 {
				next = append([]Thread{existing[idx]}, next...)
			}
		}
	}

	s.ThreadsByWorkspace = withKey(s.ThreadsByWorkspace, a.WorkspaceID, next)
	return s
}

func removeThread(s State, a RemoveThread) State {
	workspaceID := a.WorkspaceID
	if workspaceID == "" {
		workspaceID, _ = s.WorkspaceOf(a.ThreadID)
	}
	if a.ThreadID == "" {
		return s
	}

	if roster := s.ThreadsByWorkspace[workspaceID]; indexOfThread(roster, a.ThreadID) >= 0 {
		s.ThreadsByWorkspace = withKey(s.ThreadsByWorkspace, workspaceID, filterClone(roster, func(t Thread) bool {
			return t.ID == a.ThreadID
		}))
	}
	if s.ActiveThreadByWorkspace[workspaceID] == a.ThreadID {
		s.ActiveThreadByWorkspace = withoutKey(s.ActiveThreadByWorkspace, workspaceID)
	}
	s.ItemsByThread = withoutKey(s.ItemsByThread, a.ThreadID)
	s.StatusByThread = withoutKey(s.StatusByThread, a.ThreadID)
	s.ActiveTurnByThread = withoutKey(s.ActiveTurnByThread, a.ThreadID)
	s.UserInputRequests = filterClone(s.UserInputRequests, func(r UserInputRequest) bool {
		return r.ThreadID == a.ThreadID
	})
	return s
}

func updateThread(s State, workspaceID, threadID string, update func(*Thread) bool) State {
	if workspaceID == "" {
		workspaceID, _ = s.WorkspaceOf(threadID)
	}
	roster := s.ThreadsByWorkspace[workspaceID]
	idx := indexOfThread(roster, threadID)
	if idx < 0 {
		return s
	}

	next := slices.Clone(roster)
	if !update(&next[idx]) {
		return s
	}
	s.ThreadsByWorkspace = withKey(s.ThreadsByWorkspace, workspaceID, next)
	return s
}

func updateStatus(s State, threadID string, update func(*ThreadStatus)) State {
	if threadID == "" {
		return s
	}
	status := s.StatusByThread[threadID]
	update(&status)
	s.StatusByThread = withKey(s.StatusByThread, threadID, status)
	return s
}

// appendItem appends to a thread's history and marks the thread unread unless
// it is the active thread of its workspace.
func appendItem(s State, workspaceID, threadID string, item Item) State {
	if threadID == "" {
		return s
	}
	if workspaceID == "" {
		workspaceID, _ = s.WorkspaceOf(threadID)
	}
	s = ensureThread(s, workspaceID, threadID, "")

	s.ItemsByThread = withKey(s.ItemsByThread, threadID, appendClone(s.ItemsByThread[threadID], item))

	if workspaceID == "" || s.ActiveThreadByWorkspace[workspaceID] != threadID {
		s = updateStatus(s, threadID, func(st *ThreadStatus) {
			st.HasUnread = true
		})
	}
	return s
}

func setThreadItems(s State, a SetThreadItems) State {
	if a.ThreadID == "" {
		return s
	}
	next := slices.Clone(a.Items)
	if next == nil {
		next = []Item{}
	}
	if !a.Replace {
		for _, local := range s.ItemsByThread[a.ThreadID] {
			if indexOfItem(next, local.ID) < 0 {
				next = append(next, local)
			}
		}
	}
	s.ItemsByThread = withKey(s.ItemsByThread, a.ThreadID, next)
	return s
}

// maxResolvedDenials bounds the ids remembered as resolved. Backends repeat
// a denial within the turn that raised it, not thousands of denials later.
const maxResolvedDenials = 1024

func resolveDenial(s State, id string) State {
	if _, ok := s.ResolvedDenials[id]; ok {
		return s
	}
	s.ResolvedDenials = withKey(s.ResolvedDenials, id, struct{}{})
	s.resolvedOrder = appendClone(s.resolvedOrder, id)
	if len(s.resolvedOrder) > maxResolvedDenials {
		oldest := s.resolvedOrder[0]
		s.resolvedOrder = slices.Clone(s.resolvedOrder[1:])
		s.ResolvedDenials = withoutKey(s.ResolvedDenials, oldest)
	}
	return s
}

func addPermissionDenials(s State, denials []PermissionDenial) State {
	var added []PermissionDenial
	for _, denial := range denials {
		if denial.ID != "" {
			if _, resolved := s.ResolvedDenials[denial.ID]; resolved {
				continue
			}
			if _, pending := s.PermissionDenial(denial.ID); pending {
				continue
			}
			if slices.ContainsFunc(added, func(d PermissionDenial) bool { return d.ID == denial.ID }) {
				continue
			}
		}
		added = append(added, denial)
	}
	if len(added) == 0 {
		return s
	}
	s.PermissionDenials = appendClone(s.PermissionDenials, added...)
	return s
}

func linkThread(s State, a LinkThread) State {
	oldID, newID := a.OldThreadID, a.NewThreadID
	if oldID == "" || newID == "" || oldID == newID {
		return s
	}
	workspaceID := a.WorkspaceID
	if workspaceID == "" {
		workspaceID, _ = s.WorkspaceOf(oldID)
	}

	if roster := s.ThreadsByWorkspace[workspaceID]; len(roster) > 0 {
		next := slices.Clone(roster)
		oldIdx := indexOfThread(next, oldID)
		if oldIdx >= 0 {
			if indexOfThread(next, newID) >= 0 {
				next = slices.Delete(next, oldIdx, oldIdx+1)
			} else {
				next[oldIdx].ID = newID
			}
			s.ThreadsByWorkspace = withKey(s.ThreadsByWorkspace, workspaceID, next)
		}
	}

	if s.ActiveThreadByWorkspace[workspaceID] == oldID {
		s.ActiveThreadByWorkspace = withKey(s.ActiveThreadByWorkspace, workspaceID, newID)
	}

	s.ItemsByThread = moveKey(s.ItemsByThread, oldID, newID)
	s.StatusByThread = moveKey(s.StatusByThread, oldID, newID)
	s.ActiveTurnByThread = moveKey(s.ActiveTurnByThread, oldID, newID)

	if slices.ContainsFunc(s.UserInputRequests, func(r UserInputRequest) bool { return r.ThreadID == oldID }) {
		next := slices.Clone(s.UserInputRequests)
		for i := range next {
			if next[i].ThreadID == oldID {
				next[i].ThreadID = newID
			}
		}
		s.UserInputRequests = next
	}
	if slices.ContainsFunc(s.PermissionDenials, func(d PermissionDenial) bool { return d.ThreadID == oldID }) {
		next := slices.Clone(s.PermissionDenials)
		for i := range next {
			if next[i].ThreadID == oldID {
				next[i].ThreadID = newID
			}
		}
		s.PermissionDenials = next
	}
	return s
}

func withKey[K comparable, V any](m map[K]V, key K, value V) map[K]V {
	next := maps.Clone(m)
	if next == nil {
		next = make(map[K]V, 1)
	}
	next[key] = value
	return next
}

func withoutKey[K comparable, V any](m map[K]V, key K) map[K]V {
	if _, ok := m[key]; !ok {
		return m
	}
	next := maps.Clone(m)
	delete(next, key)
	return next
}

// moveKey moves old's value to new unless new already has one; old is
// dropped either way.
func moveKey[K comparable, V any](m map[K]V, oldKey, newKey K) map[K]V {
	value, ok := m[oldKey]
	if !ok {
		return m
	}
	next := maps.Clone(m)
	delete(next, oldKey)
	if _, exists := next[newKey]; !exists {
		next[newKey] = value
	}
	return next
}

func appendClone[T any](xs []T, values ...T) []T {
	next := make([]T, 0, len(xs)+len(values))
	next = append(next, xs...)
	return append(next, values...)
}

func filterClone[T any](xs []T, drop func(T) bool) []T {
	next := make([]T, 0, len(xs))
	for _, x := range xs {
		if !drop(x) {
			next = append(next, x)
		}
	}
	return next
}
