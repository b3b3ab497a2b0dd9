package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/threaddeck/internal/actor"
	"github.com/codefionn/threaddeck/internal/approval"
	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/backend/fakebackend"
	"github.com/codefionn/threaddeck/internal/permissions"
	"github.com/codefionn/threaddeck/internal/threads"
)

type recordingLinker struct {
	store *threads.Store
	links [][2]string
}

func (l *recordingLinker) RelinkThread(_ context.Context, workspaceID, oldThreadID, newThreadID string) {
	l.links = append(l.links, [2]string{oldThreadID, newThreadID})
	l.store.Dispatch(threads.LinkThread{WorkspaceID: workspaceID, OldThreadID: oldThreadID, NewThreadID: newThreadID})
}

func newHandler(allowlist *approval.Allowlist) (*Handler, *threads.Store, *recordingLinker) {
	store := threads.NewStore()
	linker := &recordingLinker{store: store}
	return NewHandler(store, permissions.NewReducer(allowlist), linker), store, linker
}

func TestTurnLifecycle(t *testing.T) {
	h, store, _ := newHandler(approval.NewAllowlist())
	ctx := context.Background()
	start := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	h.Handle(ctx, backend.Event{Kind: backend.EventTurnStarted, WorkspaceID: "ws1", ThreadID: "t1", TurnID: "turn-1", At: start})
	state := store.State()
	assert.True(t, state.Status("t1").IsProcessing)
	assert.Equal(t, "turn-1", state.ActiveTurnID("t1"))

	h.Handle(ctx, backend.Event{Kind: backend.EventItemDelta, WorkspaceID: "ws1", ThreadID: "t1", ItemID: "m1", Delta: "Done"})
	h.Handle(ctx, backend.Event{Kind: backend.EventItemDelta, WorkspaceID: "ws1", ThreadID: "t1", ItemID: "m1", Delta: "!"})
	h.Handle(ctx, backend.Event{Kind: backend.EventTurnCompleted, WorkspaceID: "ws1", ThreadID: "t1", TurnID: "turn-1", At: start.Add(2 * time.Second)})

	state = store.State()
	assert.False(t, state.Status("t1").IsProcessing)
	assert.Equal(t, int64(2000), state.Status("t1").LastDuration)
	assert.Equal(t, "", state.ActiveTurnID("t1"))
	require.Len(t, state.Items("t1"), 1)
	assert.Equal(t, "Done!", state.Items("t1")[0].Text)
	assert.True(t, state.Status("t1").HasUnread)
}

func TestStaleTurnCompletionKeepsNewerTurn(t *testing.T) {
	h, store, _ := newHandler(approval.NewAllowlist())
	ctx := context.Background()

	h.Handle(ctx, backend.Event{Kind: backend.EventTurnStarted, WorkspaceID: "ws1", ThreadID: "t1", TurnID: "turn-1"})
	h.Handle(ctx, backend.Event{Kind: backend.EventTurnStarted, WorkspaceID: "ws1", ThreadID: "t1", TurnID: "turn-2"})
	h.Handle(ctx, backend.Event{Kind: backend.EventTurnCompleted, WorkspaceID: "ws1", ThreadID: "t1", TurnID: "turn-1", Message: "interrupted"})

	state := store.State()
	assert.Equal(t, "turn-2", state.ActiveTurnID("t1"))
	assert.True(t, state.Status("t1").IsProcessing)
	require.Len(t, state.Items("t1"), 1)
	assert.Equal(t, threads.ItemError, state.Items("t1")[0].Kind)

	h.Handle(ctx, backend.Event{Kind: backend.EventTurnCompleted, WorkspaceID: "ws1", ThreadID: "t1", TurnID: "turn-2"})
	state = store.State()
	assert.Equal(t, "", state.ActiveTurnID("t1"))
	assert.False(t, state.Status("t1").IsProcessing)
}

func TestReviewAndNameAndItems(t *testing.T) {
	h, store, _ := newHandler(approval.NewAllowlist())
	ctx := context.Background()

	h.Handle(ctx, backend.Event{Kind: backend.EventTurnStarted, WorkspaceID: "ws1", ThreadID: "t1", TurnID: "turn-1"})
	h.Handle(ctx, backend.Event{Kind: backend.EventReviewStarted, WorkspaceID: "ws1", ThreadID: "t1"})
	assert.True(t, store.State().Status("t1").IsReviewing)
	assert.False(t, store.State().Status("t1").IsProcessing)
	h.Handle(ctx, backend.Event{Kind: backend.EventReviewCompleted, WorkspaceID: "ws1", ThreadID: "t1"})
	assert.False(t, store.State().Status("t1").IsReviewing)

	h.Handle(ctx, backend.Event{Kind: backend.EventThreadName, WorkspaceID: "ws1", ThreadID: "t1", Name: "Fix build"})
	thread, _ := store.State().Thread("ws1", "t1")
	assert.Equal(t, "Fix build", thread.Name)

	h.Handle(ctx, backend.Event{Kind: backend.EventItemCompleted, WorkspaceID: "ws1", ThreadID: "t1",
		Item: &threads.Item{ID: "tool-1", Kind: threads.ItemToolCall, ToolName: "Bash"}})
	require.Len(t, store.State().Items("t1"), 1)
	assert.False(t, store.State().Items("t1")[0].CreatedAt.IsZero())
}

func TestPermissionDeniedGoesThroughAllowlist(t *testing.T) {
	allowlist := approval.NewAllowlist()
	allowlist.Remember("ws1", []string{"ls"})
	h, store, _ := newHandler(allowlist)

	h.Handle(context.Background(), backend.Event{
		Kind:        backend.EventPermissionDenied,
		WorkspaceID: "ws1",
		ThreadID:    "t1",
		TurnID:      "turn-1",
		Denials: []threads.PermissionDenial{
			{ID: "a", ToolName: "Shell", ToolInput: map[string]any{"command": []any{"ls", "-la"}}},
			{ID: "b", ToolName: "Shell", ToolInput: map[string]any{"command": []any{"rm", "x"}}},
		},
	})

	denials := store.State().PermissionDenials
	require.Len(t, denials, 1)
	assert.Equal(t, "b", denials[0].ID)
	assert.Equal(t, "turn-1", denials[0].TurnID)
}

func TestInputRequestedAndLinked(t *testing.T) {
	h, store, linker := newHandler(approval.NewAllowlist())
	ctx := context.Background()

	h.Handle(ctx, backend.Event{Kind: backend.EventInputRequested, WorkspaceID: "ws1", ThreadID: "t1",
		Request: &threads.UserInputRequest{ID: "q1", Questions: []threads.UserInputQuestion{{ID: "q", Question: "Which env?"}}}})
	requests := store.State().UserInputRequestsForThread("t1")
	require.Len(t, requests, 1)
	assert.Equal(t, "ws1", requests[0].WorkspaceID)

	h.Handle(ctx, backend.Event{Kind: backend.EventThreadLinked, WorkspaceID: "ws1", ThreadID: "t1", NewThreadID: "t2"})
	assert.Equal(t, [][2]string{{"t1", "t2"}}, linker.links)
	assert.Len(t, store.State().UserInputRequestsForThread("t2"), 1)
}

func TestErrorWithoutThreadIsOnlyLogged(t *testing.T) {
	h, store, _ := newHandler(approval.NewAllowlist())
	h.Handle(context.Background(), backend.Event{Kind: backend.EventError, WorkspaceID: "ws1", Message: "cli crashed"})
	assert.Empty(t, store.State().ItemsByThread)
}

func TestPumpDrainsSubscriptionInOrder(t *testing.T) {
	h, store, _ := newHandler(approval.NewAllowlist())
	fake := fakebackend.New()
	defer fake.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ref := actor.NewActorRef(ActorID, h, 4)
	require.NoError(t, ref.Start(ctx))

	events := fake.Subscribe(ctx)
	pumpDone := make(chan error, 1)
	go func() { pumpDone <- Pump(ctx, events, ref) }()

	for _, delta := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		fake.Push(backend.Event{Kind: backend.EventItemDelta, WorkspaceID: "ws1", ThreadID: "t1", ItemID: "m", Delta: delta})
	}

	require.Eventually(t, func() bool {
		items := store.State().Items("t1")
		return len(items) == 1 && items[0].Text == "abcdefgh"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	// Either the subscription closes or the context ends first.
	if err := <-pumpDone; err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	require.NoError(t, ref.Stop(context.Background()))
}
