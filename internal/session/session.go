// Package session wires the thread store, orchestrator, permission reducer
// and backend event handler into one running unit.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/codefionn/threaddeck/internal/actor"
	"github.com/codefionn/threaddeck/internal/approval"
	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/backend/claudecli"
	"github.com/codefionn/threaddeck/internal/config"
	"github.com/codefionn/threaddeck/internal/debuglog"
	"github.com/codefionn/threaddeck/internal/events"
	"github.com/codefionn/threaddeck/internal/logger"
	"github.com/codefionn/threaddeck/internal/names"
	"github.com/codefionn/threaddeck/internal/orchestrator"
	"github.com/codefionn/threaddeck/internal/permissions"
	"github.com/codefionn/threaddeck/internal/threads"
	"github.com/codefionn/threaddeck/internal/workspace"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("session already started")

// Deps overrides collaborators. Nil fields are built from the config.
type Deps struct {
	Backend    backend.Backend
	Names      orchestrator.NameStore
	Workspaces *workspace.Registry
	Logger     *logger.Logger
	Now        func() time.Time
}

// Session owns every long-lived component of a running instance.
type Session struct {
	store        *threads.Store
	allowlist    *approval.Allowlist
	debug        *debuglog.Buffer
	orchestrator *orchestrator.Orchestrator
	workspaces   *workspace.Registry
	backend      backend.Backend
	names        orchestrator.NameStore
	handler      *events.Handler
	actors       *actor.System
	eventBuffer  int
	log          *logger.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	cancel   context.CancelFunc
	pumpDone chan struct{}
}

// New builds a session from cfg. Nothing runs until Start.
func New(cfg *config.Config, deps Deps) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := deps.Logger
	if log == nil {
		log = logger.Global()
	}

	registry := deps.Workspaces
	if registry == nil {
		registry = workspace.NewRegistry()
		if err := registry.Sync(cfg.Workspaces); err != nil {
			return nil, fmt.Errorf("failed to register workspaces: %w", err)
		}
	}

	nameStore := deps.Names
	if nameStore == nil {
		db, err := names.Open(cfg.NamesDB())
		if err != nil {
			return nil, err
		}
		nameStore = db
	}

	be := deps.Backend
	if be == nil {
		be = claudecli.New(claudecli.Options{
			Workspaces: registry,
			ClaudeBin:  cfg.ClaudeBin,
			Logger:     log.WithPrefix("claude"),
			Now:        deps.Now,
		})
	}

	store := threads.NewStore()
	allowlist := approval.NewAllowlist()
	debug := debuglog.NewBuffer(cfg.DebugBufferSize, log)

	orch := orchestrator.New(orchestrator.Options{
		Store:     store,
		Backend:   be,
		Allowlist: allowlist,
		Names:     nameStore,
		Debug:     debug,
		Logger:    log,
		Now:       deps.Now,
	})

	s := &Session{
		store:        store,
		allowlist:    allowlist,
		debug:        debug,
		orchestrator: orch,
		workspaces:   registry,
		backend:      be,
		names:        nameStore,
		handler:      events.NewHandler(store, permissions.NewReducer(allowlist), orch),
		actors:       actor.NewSystem(),
		eventBuffer:  cfg.EventBufferSize,
		log:          log.WithPrefix("session"),
	}

	if list := registry.List(); len(list) > 0 {
		orch.SetActiveWorkspace(list[0].ID)
	}
	return s, nil
}

// Store returns the thread state store.
func (s *Session) Store() *threads.Store { return s.store }

// Orchestrator returns the intent surface.
func (s *Session) Orchestrator() *orchestrator.Orchestrator { return s.orchestrator }

// Workspaces returns the workspace registry.
func (s *Session) Workspaces() *workspace.Registry { return s.workspaces }

// DebugEntries returns the recorded debug entries, oldest first.
func (s *Session) DebugEntries() []debuglog.Entry { return s.debug.Entries() }

// Start loads persisted names, subscribes to backend events and starts the
// event handler.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.orchestrator.LoadPersistedNames(ctx); err != nil {
		s.log.Warn("failed to load thread names: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ref, err := s.actors.Spawn(runCtx, events.ActorID, s.handler, s.eventBuffer,
		actor.WithErrorHook(func(actorID string, msg actor.Message, err error) {
			s.log.Warn("actor %s failed on %s: %v", actorID, msg.Type(), err)
		}))
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start event handler: %w", err)
	}

	stream := s.backend.Subscribe(runCtx)
	s.pumpDone = make(chan struct{})
	go func() {
		defer close(s.pumpDone)
		if err := events.Pump(runCtx, stream, ref); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("event pump stopped: %v", err)
		}
	}()

	s.cancel = cancel
	s.started = true
	s.log.Info("session started with %d workspaces", len(s.workspaces.List()))
	return nil
}

// ApplyConfig registers workspaces from a reloaded config.
func (s *Session) ApplyConfig(cfg *config.Config) {
	if err := s.workspaces.Sync(cfg.Workspaces); err != nil {
		s.log.Warn("failed to apply workspaces: %v", err)
		return
	}
	if s.store.State().ActiveWorkspaceID == "" {
		if list := s.workspaces.List(); len(list) > 0 {
			s.orchestrator.SetActiveWorkspace(list[0].ID)
		}
	}
}

// Close cancels the event subscription, stops the handler, then closes the
// backend and the names store.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, pumpDone := s.cancel, s.pumpDone
	s.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		select {
		case <-pumpDone:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	if err := s.actors.StopAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop actors: %w", err))
	}
	if err := s.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close backend: %w", err))
	}
	if closer, ok := s.names.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close names store: %w", err))
		}
	}
	s.log.Info("session closed")
	return errors.Join(errs...)
}
