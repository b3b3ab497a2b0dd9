// Package orchestrator couples thread state transitions with backend calls.
// It owns the session's advisory markers: which threads are loaded, which
// have an interrupt in flight, which resume should replace history, and the
// last prompt sent per thread.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/codefionn/threaddeck/internal/approval"
	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/debuglog"
	"github.com/codefionn/threaddeck/internal/logger"
	"github.com/codefionn/threaddeck/internal/names"
	"github.com/codefionn/threaddeck/internal/threads"
)

// PendingTurnID stands in for a turn id the backend has not reported yet.
const PendingTurnID = "pending"

var (
	// ErrNoWorkspace is returned when no workspace id was given and none is
	// active.
	ErrNoWorkspace = errors.New("no workspace selected")
	// ErrNoLastPrompt is returned by a retry on a thread without a prompt
	// sent in this session from the denial's workspace.
	ErrNoLastPrompt = errors.New("no previous prompt to retry")
	// ErrInterruptPending is returned when an interrupt for the same thread
	// is still in flight.
	ErrInterruptPending = errors.New("interrupt already in flight")
	// ErrUnknownRequest is returned when answering a user-input request
	// that is not pending.
	ErrUnknownRequest = errors.New("unknown user input request")
)

// NameStore persists custom names and pins.
type NameStore interface {
	Load(ctx context.Context) ([]names.Record, error)
	SetName(ctx context.Context, workspaceID, threadID, name string) error
	SetPinned(ctx context.Context, workspaceID, threadID string, pinnedAt time.Time) error
	ClearPinned(ctx context.Context, workspaceID, threadID string) error
	RelinkThread(ctx context.Context, workspaceID, oldThreadID, newThreadID string) error
	DeleteThread(ctx context.Context, workspaceID, threadID string) error
}

// LastPrompt is the most recent successful send on a thread.
type LastPrompt struct {
	WorkspaceID string
	Text        string
	Images      []string
}

// Options configure an Orchestrator. Store, Backend and Allowlist are
// required.
type Options struct {
	Store     *threads.Store
	Backend   backend.Backend
	Allowlist *approval.Allowlist
	Names     NameStore
	Debug     debuglog.Sink
	Logger    *logger.Logger
	Now       func() time.Time
}

type threadKey struct {
	workspaceID string
	threadID    string
}

type nameOverride struct {
	name     string
	pinnedAt time.Time
}

// Orchestrator implements the high-level thread intents.
type Orchestrator struct {
	store     *threads.Store
	backend   backend.Backend
	allowlist *approval.Allowlist
	names     NameStore
	debug     debuglog.Sink
	log       *logger.Logger
	now       func() time.Time

	resumes singleflight.Group

	mu                sync.Mutex
	loaded            map[string]struct{}
	pendingInterrupts map[string]struct{}
	replaceOnResume   map[string]struct{}
	lastPrompts       map[string]LastPrompt
	nameCache         map[threadKey]nameOverride
}

// New creates an orchestrator from opts.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		store:             opts.Store,
		backend:           opts.Backend,
		allowlist:         opts.Allowlist,
		names:             opts.Names,
		debug:             opts.Debug,
		log:               opts.Logger,
		now:               opts.Now,
		loaded:            make(map[string]struct{}),
		pendingInterrupts: make(map[string]struct{}),
		replaceOnResume:   make(map[string]struct{}),
		lastPrompts:       make(map[string]LastPrompt),
		nameCache:         make(map[threadKey]nameOverride),
	}
	if o.names == nil {
		o.names = noopNames{}
	}
	if o.debug == nil {
		o.debug = debuglog.Discard{}
	}
	if o.log == nil {
		o.log = logger.Global()
	}
	o.log = o.log.WithPrefix("orchestrator")
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Store returns the thread state store the orchestrator dispatches into.
func (o *Orchestrator) Store() *threads.Store {
	return o.store
}

// IsLoaded reports whether a thread's history was fetched in this session.
func (o *Orchestrator) IsLoaded(threadID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.loaded[threadID]
	return ok
}

// MarkLoaded records that threadID needs no further resume.
func (o *Orchestrator) MarkLoaded(threadID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loaded[threadID] = struct{}{}
}

// LastPrompt returns the last prompt sent on threadID.
func (o *Orchestrator) LastPrompt(threadID string) (LastPrompt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	lp, ok := o.lastPrompts[threadID]
	return lp, ok
}

// SetActiveWorkspace selects the workspace intents default to.
func (o *Orchestrator) SetActiveWorkspace(workspaceID string) {
	o.store.Dispatch(threads.SetActiveWorkspace{WorkspaceID: workspaceID})
}

func (o *Orchestrator) resolveWorkspace(workspaceID string) string {
	if workspaceID != "" {
		return workspaceID
	}
	return o.store.State().ActiveWorkspaceID
}

// surfaceError appends a user-visible error item to a thread.
func (o *Orchestrator) surfaceError(workspaceID, threadID, text string) {
	if threadID == "" {
		o.log.Warn("%s", text)
		return
	}
	o.store.Dispatch(threads.AddAssistantMessage{
		WorkspaceID: workspaceID,
		ThreadID:    threadID,
		ItemID:      "error-" + uuid.NewString(),
		Kind:        threads.ItemError,
		Text:        text,
		At:          o.now(),
	})
}

// reportDebug records a recoverable failure without surfacing it.
func (o *Orchestrator) reportDebug(label string, payload map[string]any, err error) {
	if err != nil {
		payload["error"] = err.Error()
	}
	o.log.Warn("%s: %v", label, err)
	o.debug.Emit(debuglog.Entry{
		Timestamp: o.now(),
		Source:    "orchestrator",
		Label:     label,
		Payload:   payload,
	})
}

func (o *Orchestrator) beginInterrupt(threadID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.pendingInterrupts[threadID]; busy {
		return false
	}
	o.pendingInterrupts[threadID] = struct{}{}
	return true
}

func (o *Orchestrator) endInterrupt(threadID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pendingInterrupts, threadID)
}

func (o *Orchestrator) takeReplaceOnResume(threadID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.replaceOnResume[threadID]
	delete(o.replaceOnResume, threadID)
	return ok
}

func (o *Orchestrator) forgetThread(threadID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.loaded, threadID)
	delete(o.replaceOnResume, threadID)
	delete(o.lastPrompts, threadID)
}

func (o *Orchestrator) nameOverride(workspaceID, threadID string) (nameOverride, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ov, ok := o.nameCache[threadKey{workspaceID, threadID}]
	return ov, ok
}

func (o *Orchestrator) updateNameCache(workspaceID, threadID string, update func(*nameOverride)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := threadKey{workspaceID, threadID}
	ov := o.nameCache[key]
	update(&ov)
	if ov.name == "" && ov.pinnedAt.IsZero() {
		delete(o.nameCache, key)
		return
	}
	o.nameCache[key] = ov
}

// LoadPersistedNames fills the name cache from the naming store and applies
// it to threads already in state.
func (o *Orchestrator) LoadPersistedNames(ctx context.Context) error {
	records, err := o.names.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load thread names: %w", err)
	}

	var actions []threads.Action
	o.mu.Lock()
	for _, r := range records {
		o.nameCache[threadKey{r.WorkspaceID, r.ThreadID}] = nameOverride{name: r.Name, pinnedAt: r.PinnedAt}
		if r.Name != "" {
			actions = append(actions, threads.SetThreadName{WorkspaceID: r.WorkspaceID, ThreadID: r.ThreadID, Name: r.Name, Custom: true})
		}
		if !r.PinnedAt.IsZero() {
			actions = append(actions, threads.SetThreadPinned{WorkspaceID: r.WorkspaceID, ThreadID: r.ThreadID, PinnedAt: r.PinnedAt})
		}
	}
	o.mu.Unlock()

	o.store.Dispatch(actions...)
	o.log.Info("loaded %d persisted thread names", len(records))
	return nil
}

// applyOverrides copies cached custom names and pins onto listed threads.
func (o *Orchestrator) applyOverrides(workspaceID string, list []threads.Thread) []threads.Thread {
	out := make([]threads.Thread, len(list))
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, t := range list {
		if ov, ok := o.nameCache[threadKey{workspaceID, t.ID}]; ok {
			if ov.name != "" {
				t.Name = ov.name
				t.CustomName = true
			}
			if !ov.pinnedAt.IsZero() {
				t.PinnedAt = ov.pinnedAt
			}
		}
		out[i] = t
	}
	return out
}

type noopNames struct{}

func (noopNames) Load(context.Context) ([]names.Record, error) {
	return nil, nil
}

func (noopNames) SetName(context.Context, string, string, string) error {
	return nil
}

func (noopNames) SetPinned(context.Context, string, string, time.Time) error {
	return nil
}

func (noopNames) ClearPinned(context.Context, string, string) error {
	return nil
}

func (noopNames) DeleteThread(context.Context, string, string) error {
	return nil
}

func (noopNames) RelinkThread(context.Context, string, string, string) error {
	return nil
}
