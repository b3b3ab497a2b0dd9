package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/backend/fakebackend"
	"github.com/codefionn/threaddeck/internal/config"
	"github.com/codefionn/threaddeck/internal/names"
	"github.com/codefionn/threaddeck/internal/threads"
)

func newTestSession(t *testing.T) (*Session, *fakebackend.Backend, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.NamesDBPath = filepath.Join(t.TempDir(), "names.db")
	cfg.Workspaces = []config.WorkspaceConfig{{ID: "ws1", Name: "app", Path: t.TempDir(), Kind: config.KindMain}}

	fake := fakebackend.New()
	s, err := New(cfg, Deps{Backend: fake})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, fake, cfg
}

func TestNewSelectsFirstWorkspace(t *testing.T) {
	s, _, _ := newTestSession(t)
	assert.Equal(t, "ws1", s.Store().State().ActiveWorkspaceID)
	_, ok := s.Workspaces().Get("ws1")
	assert.True(t, ok)
}

func TestStartAppliesBackendEvents(t *testing.T) {
	s, fake, _ := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	fake.Push(backend.Event{Kind: backend.EventTurnStarted, WorkspaceID: "ws1", ThreadID: "t1", TurnID: "turn-1"})
	fake.Push(backend.Event{Kind: backend.EventItemDelta, WorkspaceID: "ws1", ThreadID: "t1", ItemID: "i1", Delta: "hi"})

	require.Eventually(t, func() bool {
		state := s.Store().State()
		return state.Status("t1").IsProcessing && len(state.Items("t1")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "turn-1", s.Store().State().ActiveTurnID("t1"))
}

func TestStartLoadsPersistedNames(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NamesDBPath = filepath.Join(t.TempDir(), "names.db")

	db, err := names.Open(cfg.NamesDBPath)
	require.NoError(t, err)
	require.NoError(t, db.SetName(context.Background(), "ws1", "t1", "Release notes"))
	require.NoError(t, db.Close())

	fake := fakebackend.New()
	fake.SetPage("ws1", "", backend.Page{Threads: []threads.Thread{{ID: "t1", WorkspaceID: "ws1", Name: "untitled"}}})
	s, err := New(cfg, Deps{Backend: fake})
	require.NoError(t, err)
	defer s.Close(context.Background())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Orchestrator().LoadThreadList(context.Background(), "ws1"))

	list := s.Store().State().Threads("ws1")
	require.Len(t, list, 1)
	assert.Equal(t, "Release notes", list[0].Name)
}

func TestCloseShutsEverythingDown(t *testing.T) {
	s, fake, _ := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	assert.True(t, fake.Closed())
	assert.NoError(t, s.Close(ctx))
	assert.ErrorIs(t, s.Start(ctx), backend.ErrClosed)
}

func TestApplyConfigRegistersWorkspaces(t *testing.T) {
	s, _, cfg := newTestSession(t)

	next := *cfg
	next.Workspaces = append(append([]config.WorkspaceConfig(nil), cfg.Workspaces...),
		config.WorkspaceConfig{ID: "ws2", Name: "zeta", Path: t.TempDir(), Kind: config.KindMain})
	s.ApplyConfig(&next)

	_, ok := s.Workspaces().Get("ws2")
	assert.True(t, ok)
	assert.Len(t, s.Workspaces().List(), 2)
}
