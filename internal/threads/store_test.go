package threads

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreDispatchNotifiesListenersInOrder(t *testing.T) {
	store := NewStore()

	var seen []string
	unsubscribe := store.Subscribe(func(action Action, state State) {
		seen = append(seen, action.Type()+":"+state.ActiveThreadID("ws1"))
	})

	store.Dispatch(
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "t1"},
		SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "t2"},
	)
	assert.Equal(t, []string{"setActiveThreadId:t1", "setActiveThreadId:t2"}, seen)

	unsubscribe()
	store.Dispatch(SetActiveThreadID{WorkspaceID: "ws1", ThreadID: "t3"})
	assert.Len(t, seen, 2)
	assert.Equal(t, "t3", store.State().ActiveThreadID("ws1"))
}

func TestStoreListenerMayDispatch(t *testing.T) {
	store := NewStore()
	store.Subscribe(func(action Action, state State) {
		if _, ok := action.(AddAssistantMessage); ok {
			store.Dispatch(MarkUnread{ThreadID: "t1", Unread: false})
		}
	})

	store.Dispatch(AddAssistantMessage{WorkspaceID: "ws1", ThreadID: "t1", Text: "hi"})

	assert.False(t, store.State().Status("t1").HasUnread)
}

func TestStoreConcurrentDispatch(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				store.Dispatch(AddAssistantMessage{WorkspaceID: "ws1", ThreadID: "t1", Text: "x"})
			}
		}()
	}
	wg.Wait()

	items := store.State().Items("t1")
	require.Len(t, items, 200)
	ids := make(map[string]struct{}, len(items))
	for _, item := range items {
		ids[item.ID] = struct{}{}
	}
	assert.Len(t, ids, 200)
}
