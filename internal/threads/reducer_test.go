package threads

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reduceAll(s State, actions ...Action) State {
	for _, a := range actions {
		s = Reduce(s, a)
	}
	return s
}

func TestInitialStateIsEmpty(t *testing.T) {
	s := NewState()
	assert.Empty(t, s.ThreadsByWorkspace)
	assert.Empty(t, s.PermissionDenials)
	assert.Empty(t, s.UserInputRequests)
	assert.Equal(t, "", s.ActiveThreadID("ws1"))
}

func TestSetActiveThreadIDAddsUnknownThreadAndKeepsUnread(t *testing.T) {
	s := reduceAll(NewState(),
		EnsureThread{WorkspaceID: "ws1", ThreadID: "t1"},
		MarkUnread{ThreadID: "t1", Unread: true},
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "t1"},
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "t2"},
	)

	assert.Equal(t, "t2", s.ActiveThreadID("ws1"))
	_, known := s.Thread("ws1", "t2")
	assert.True(t, known)
	assert.True(t, s.Status("t1").HasUnread, "activation must not clear unread")

	s = Reduce(s, SetActiveThreadID{WorkspaceID: "ws1"})
	assert.Equal(t, "", s.ActiveThreadID("ws1"))
}

func TestReduceDoesNotMutatePreviousState(t *testing.T) {
	before := reduceAll(NewState(),
		EnsureThread{WorkspaceID: "ws1", ThreadID: "t1"},
		AddAssistantMessage{WorkspaceID: "ws1", ThreadID: "t1", ItemID: "i1", Text: "hello"},
	)
	after := reduceAll(before,
		AppendAgentDelta{WorkspaceID: "ws1", ThreadID: "t1", ItemID: "i1", Delta: " world"},
		EnsureThread{WorkspaceID: "ws1", ThreadID: "t2"},
		RemoveThread{WorkspaceID: "ws1", ThreadID: "t1"},
	)

	require.Len(t, before.Items("t1"), 1)
	assert.Equal(t, "hello", before.Items("t1")[0].Text)
	assert.Len(t, before.Threads("ws1"), 1)
	assert.Empty(t, after.Items("t1"))
	assert.Len(t, after.Threads("ws1"), 1)
}

func TestItemAppendMarksInactiveThreadUnread(t *testing.T) {
	s := reduceAll(NewState(),
		EnsureThread{WorkspaceID: "ws1", ThreadID: "t1"},
		EnsureThread{WorkspaceID: "ws1", ThreadID: "t2"},
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "t1"},
		AddAssistantMessage{WorkspaceID: "ws1", ThreadID: "t1", Text: "active"},
		AddAssistantMessage{WorkspaceID: "ws1", ThreadID: "t2", Text: "background"},
	)

	assert.False(t, s.Status("t1").HasUnread)
	assert.True(t, s.Status("t2").HasUnread)
	require.Len(t, s.Items("t1"), 1)
	assert.Equal(t, ItemAgentMessage, s.Items("t1")[0].Kind)
	assert.NotEmpty(t, s.Items("t1")[0].ID)
}

func TestFallbackItemIDsStayUniqueAfterRemoval(t *testing.T) {
	s := reduceAll(NewState(),
		AddAssistantMessage{WorkspaceID: "ws1", ThreadID: "t1", Text: "one"},
		AddAssistantMessage{WorkspaceID: "ws1", ThreadID: "t1", Text: "two"},
	)
	require.Len(t, s.Items("t1"), 2)
	first := s.Items("t1")[0].ID

	s = reduceAll(s,
		SetThreadItems{ThreadID: "t1", Items: s.Items("t1")[1:], Replace: true},
		AddAssistantMessage{WorkspaceID: "ws1", ThreadID: "t1", Text: "three"},
	)
	items := s.Items("t1")
	require.Len(t, items, 2)
	assert.NotEqual(t, items[0].ID, items[1].ID)
	assert.NotEqual(t, first, items[1].ID)
	assert.Equal(t, "three", items[1].Text)
}

func TestAppendAgentDeltaStreamsIntoOneItem(t *testing.T) {
	s := reduceAll(NewState(),
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "t1"},
		AppendAgentDelta{WorkspaceID: "ws1", ThreadID: "t1", ItemID: "msg", Delta: "Hel"},
		AppendAgentDelta{WorkspaceID: "ws1", ThreadID: "t1", ItemID: "msg", Delta: "lo"},
	)

	require.Len(t, s.Items("t1"), 1)
	assert.Equal(t, "Hello", s.Items("t1")[0].Text)
}

func TestUpsertItemReplacesInPlace(t *testing.T) {
	s := reduceAll(NewState(),
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "t1"},
		UpsertItem{WorkspaceID: "ws1", ThreadID: "t1", Item: Item{ID: "a", Kind: ItemUserMessage, Text: "hi"}},
		UpsertItem{WorkspaceID: "ws1", ThreadID: "t1", Item: Item{ID: "b", Kind: ItemAgentMessage, Text: "draft"}},
		UpsertItem{WorkspaceID: "ws1", ThreadID: "t1", Item: Item{ID: "b", Kind: ItemAgentMessage, Text: "final"}},
	)

	require.Len(t, s.Items("t1"), 2)
	assert.Equal(t, "a", s.Items("t1")[0].ID)
	assert.Equal(t, "final", s.Items("t1")[1].Text)
}

func TestProcessingAndReviewingLastWriterWins(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s := reduceAll(NewState(),
		MarkProcessing{ThreadID: "t1", Processing: true, At: start},
		MarkReviewing{ThreadID: "t1", Reviewing: true},
	)
	assert.True(t, s.Status("t1").IsReviewing)
	assert.False(t, s.Status("t1").IsProcessing)

	s = reduceAll(s,
		MarkProcessing{ThreadID: "t1", Processing: true, At: start},
		MarkProcessing{ThreadID: "t1", Processing: false, At: start.Add(1500 * time.Millisecond)},
	)
	assert.False(t, s.Status("t1").IsProcessing)
	assert.False(t, s.Status("t1").IsReviewing)
	assert.Equal(t, int64(1500), s.Status("t1").LastDuration)
}

func TestSetActiveTurnIDSupersedes(t *testing.T) {
	s := reduceAll(NewState(),
		SetActiveTurnID{ThreadID: "t1", TurnID: "turn-1"},
		SetActiveTurnID{ThreadID: "t1", TurnID: "turn-2"},
	)
	assert.Equal(t, "turn-2", s.ActiveTurnID("t1"))

	s = Reduce(s, SetActiveTurnID{ThreadID: "t1"})
	assert.Equal(t, "", s.ActiveTurnID("t1"))
}

func TestPermissionDenialsResolutionIsTerminal(t *testing.T) {
	d1 := PermissionDenial{ID: "d1", WorkspaceID: "ws1", ThreadID: "t1", ToolName: "Bash"}
	d2 := PermissionDenial{ID: "d2", WorkspaceID: "ws1", ThreadID: "t1", ToolName: "Bash"}

	s := reduceAll(NewState(),
		AddPermissionDenials{Denials: []PermissionDenial{d1, d2}},
		AddPermissionDenials{Denials: []PermissionDenial{d1}},
	)
	require.Len(t, s.PermissionDenials, 2)

	s = reduceAll(s,
		RemovePermissionDenial{ID: "d1"},
		AddPermissionDenials{Denials: []PermissionDenial{d1}},
	)
	require.Len(t, s.PermissionDenials, 1)
	assert.Equal(t, "d2", s.PermissionDenials[0].ID)
}

func TestResolvedDenialsAreBounded(t *testing.T) {
	s := NewState()
	for i := 0; i <= maxResolvedDenials; i++ {
		s = Reduce(s, RemovePermissionDenial{ID: fmt.Sprintf("d%d", i)})
	}
	assert.Len(t, s.ResolvedDenials, maxResolvedDenials)

	oldest := PermissionDenial{ID: "d0", WorkspaceID: "ws1", ThreadID: "t1", ToolName: "Bash"}
	newest := PermissionDenial{ID: fmt.Sprintf("d%d", maxResolvedDenials), WorkspaceID: "ws1", ThreadID: "t1", ToolName: "Bash"}
	s = Reduce(s, AddPermissionDenials{Denials: []PermissionDenial{oldest, newest}})
	require.Len(t, s.PermissionDenials, 1)
	assert.Equal(t, "d0", s.PermissionDenials[0].ID)
}

func TestUserInputRequests(t *testing.T) {
	s := reduceAll(NewState(),
		AddUserInputRequest{Request: UserInputRequest{ID: "q1", WorkspaceID: "ws1", ThreadID: "t1"}},
		AddUserInputRequest{Request: UserInputRequest{ID: "q1", WorkspaceID: "ws1", ThreadID: "t1"}},
		AddUserInputRequest{Request: UserInputRequest{ID: "q2", WorkspaceID: "ws1", ThreadID: "t1"}},
		AddUserInputRequest{Request: UserInputRequest{ID: "q3", WorkspaceID: "ws1", ThreadID: "t2"}},
	)
	require.Len(t, s.UserInputRequests, 3)

	s = Reduce(s, RemoveUserInputRequest{WorkspaceID: "ws1", RequestID: "q2"})
	assert.Len(t, s.UserInputRequestsForThread("t1"), 1)

	s = Reduce(s, ClearUserInputRequestsForThread{ThreadID: "t1"})
	assert.Empty(t, s.UserInputRequestsForThread("t1"))
	assert.Len(t, s.UserInputRequestsForThread("t2"), 1)

	// Clearing a thread without requests is a no-op.
	again := Reduce(s, ClearUserInputRequestsForThread{ThreadID: "t1"})
	assert.Equal(t, s.UserInputRequests, again.UserInputRequests)
}

func TestRemoveThreadClearsActivePointerButKeepsDenials(t *testing.T) {
	s := reduceAll(NewState(),
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "t1"},
		AddAssistantMessage{WorkspaceID: "ws1", ThreadID: "t1", Text: "x"},
		SetActiveTurnID{ThreadID: "t1", TurnID: "turn-1"},
		AddUserInputRequest{Request: UserInputRequest{ID: "q1", WorkspaceID: "ws1", ThreadID: "t1"}},
		AddPermissionDenials{Denials: []PermissionDenial{{ID: "d1", WorkspaceID: "ws1", ThreadID: "t1"}}},
		RemoveThread{WorkspaceID: "ws1", ThreadID: "t1"},
	)

	assert.Empty(t, s.Threads("ws1"))
	assert.Equal(t, "", s.ActiveThreadID("ws1"))
	assert.Empty(t, s.Items("t1"))
	assert.Equal(t, "", s.ActiveTurnID("t1"))
	assert.Empty(t, s.UserInputRequests)
	assert.Len(t, s.PermissionDenials, 1)
}

func TestSetThreadNameKeepsCustomOverride(t *testing.T) {
	s := reduceAll(NewState(),
		EnsureThread{WorkspaceID: "ws1", ThreadID: "t1", Name: "Default"},
		SetThreadName{WorkspaceID: "ws1", ThreadID: "t1", Name: "Mine", Custom: true},
		SetThreadName{WorkspaceID: "ws1", ThreadID: "t1", Name: "Backend title"},
	)

	thread, ok := s.Thread("ws1", "t1")
	require.True(t, ok)
	assert.Equal(t, "Mine", thread.Name)
	assert.True(t, thread.CustomName)
}

func TestSetThreadsMergesPages(t *testing.T) {
	pinnedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	s := reduceAll(NewState(),
		EnsureThread{WorkspaceID: "ws1", ThreadID: "fresh"},
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "fresh"},
		EnsureThread{WorkspaceID: "ws1", ThreadID: "t1"},
		SetThreadName{WorkspaceID: "ws1", ThreadID: "t1", Name: "Custom", Custom: true},
		SetThreadPinned{WorkspaceID: "ws1", ThreadID: "t1", PinnedAt: pinnedAt},
		SetThreads{WorkspaceID: "ws1", Threads: []Thread{{ID: "t1", Name: "From backend"}, {ID: "t2", Name: "Second"}}},
	)

	roster := s.Threads("ws1")
	require.Len(t, roster, 3)
	assert.Equal(t, "fresh", roster[0].ID)
	assert.Equal(t, "Custom", roster[1].Name)
	assert.Equal(t, pinnedAt, roster[1].PinnedAt)
	assert.Equal(t, "ws1", roster[2].WorkspaceID)

	s = Reduce(s, SetThreads{WorkspaceID: "ws1", Append: true, Threads: []Thread{{ID: "t2"}, {ID: "t3"}}})
	roster = s.Threads("ws1")
	require.Len(t, roster, 4)
	assert.Equal(t, "t3", roster[3].ID)
}

func TestSetThreadItemsReplaceVersusMerge(t *testing.T) {
	base := reduceAll(NewState(),
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "t1"},
		UpsertItem{WorkspaceID: "ws1", ThreadID: "t1", Item: Item{ID: "local-err", Kind: ItemError, Text: "boom"}},
	)
	snapshot := []Item{{ID: "a", Kind: ItemUserMessage}, {ID: "b", Kind: ItemAgentMessage}}

	merged := Reduce(base, SetThreadItems{ThreadID: "t1", Items: snapshot})
	require.Len(t, merged.Items("t1"), 3)
	assert.Equal(t, "local-err", merged.Items("t1")[2].ID)

	replaced := Reduce(base, SetThreadItems{ThreadID: "t1", Items: snapshot, Replace: true})
	assert.Equal(t, snapshot, replaced.Items("t1"))
}

func TestLinkThreadMovesEverything(t *testing.T) {
	s := reduceAll(NewState(),
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "pending-1"},
		AddAssistantMessage{WorkspaceID: "ws1", ThreadID: "pending-1", ItemID: "i1", Text: "hi"},
		SetActiveTurnID{ThreadID: "pending-1", TurnID: "turn-1"},
		AddPermissionDenials{Denials: []PermissionDenial{{ID: "d1", WorkspaceID: "ws1", ThreadID: "pending-1"}}},
		LinkThread{WorkspaceID: "ws1", OldThreadID: "pending-1", NewThreadID: "real-1"},
	)

	assert.Equal(t, "real-1", s.ActiveThreadID("ws1"))
	_, oldKnown := s.Thread("ws1", "pending-1")
	assert.False(t, oldKnown)
	_, newKnown := s.Thread("ws1", "real-1")
	assert.True(t, newKnown)
	assert.Len(t, s.Items("real-1"), 1)
	assert.Equal(t, "turn-1", s.ActiveTurnID("real-1"))
	assert.Equal(t, "real-1", s.PermissionDenials[0].ThreadID)
}

func TestThreadListCursor(t *testing.T) {
	s := Reduce(NewState(), SetThreadListCursor{WorkspaceID: "ws1", Cursor: "20"})
	assert.Equal(t, "20", s.ThreadListCursor("ws1"))

	s = Reduce(s, SetThreadListCursor{WorkspaceID: "ws1"})
	assert.Equal(t, "", s.ThreadListCursor("ws1"))
}

func TestTouchThreadOnlyMovesForward(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	s := reduceAll(NewState(),
		EnsureThread{WorkspaceID: "ws1", ThreadID: "t1"},
		TouchThread{WorkspaceID: "ws1", ThreadID: "t1", At: late},
		TouchThread{WorkspaceID: "ws1", ThreadID: "t1", At: early},
	)

	thread, _ := s.Thread("ws1", "t1")
	assert.Equal(t, late, thread.UpdatedAt)
}
