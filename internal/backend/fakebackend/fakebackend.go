// Package fakebackend is a scripted in-memory backend. It records every call
// and lets callers inject failures, resume snapshots and push events.
package fakebackend

import (
	"context"
	"fmt"
	"sync"

	"github.com/codefionn/threaddeck/internal/approval"
	"github.com/codefionn/threaddeck/internal/backend"
)

// Method names used in Call.Method and SetError.
const (
	MethodStartThread          = "StartThread"
	MethodResumeThread         = "ResumeThread"
	MethodSendMessage          = "SendMessage"
	MethodInterruptTurn        = "InterruptTurn"
	MethodRememberApprovalRule = "RememberApprovalRule"
	MethodListThreads          = "ListThreads"
	MethodArchiveThread        = "ArchiveThread"
	MethodRespondToUserInput   = "RespondToUserInput"
)

// Call is one recorded backend call.
type Call struct {
	Method      string
	WorkspaceID string
	ThreadID    string
	TurnID      string
	Text        string
	Images      []string
	Options     backend.SendOptions
	Activation  bool
	Rule        approval.Rule
	Cursor      string
	RequestID   string
	Answers     map[string]string
}

// Backend implements backend.Backend in memory.
type Backend struct {
	mu         sync.Mutex
	calls      []Call
	errs       map[string]error
	snapshots  map[string]backend.Snapshot
	pages      map[string]backend.Page
	resumeGate <-chan struct{}
	nextID     int
	closed     bool

	events *backend.Broadcaster
}

var _ backend.Backend = (*Backend)(nil)

// New creates an empty fake backend.
func New() *Backend {
	return &Backend{
		errs:      make(map[string]error),
		snapshots: make(map[string]backend.Snapshot),
		pages:     make(map[string]backend.Page),
		events:    backend.NewBroadcaster(),
	}
}

// SetError makes every later call of method fail with err. A nil err clears it.
func (b *Backend) SetError(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.errs, method)
		return
	}
	b.errs[method] = err
}

// SetSnapshot scripts the snapshot ResumeThread returns for threadID.
func (b *Backend) SetSnapshot(threadID string, snapshot backend.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots[threadID] = snapshot
}

// SetPage scripts the ListThreads result for (workspaceID, cursor).
func (b *Backend) SetPage(workspaceID, cursor string, page backend.Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[workspaceID+"\x00"+cursor] = page
}

// SetResumeGate makes ResumeThread wait until gate is closed or ctx ends.
func (b *Backend) SetResumeGate(gate <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resumeGate = gate
}

// Push publishes a backend event to all subscribers.
func (b *Backend) Push(ev backend.Event) {
	b.events.Publish(ev)
}

// Calls returns recorded calls, optionally filtered by method.
func (b *Backend) Calls(method ...string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(method) == 0 {
		return append([]Call(nil), b.calls...)
	}
	var out []Call
	for _, c := range b.calls {
		for _, m := range method {
			if c.Method == m {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// CallCount counts recorded calls of method.
func (b *Backend) CallCount(method string) int {
	return len(b.Calls(method))
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) record(c Call) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c)
	if b.closed {
		return backend.ErrClosed
	}
	return b.errs[c.Method]
}

func (b *Backend) StartThread(ctx context.Context, workspaceID string) (string, error) {
	if err := b.record(Call{Method: MethodStartThread, WorkspaceID: workspaceID}); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("thread-%d", b.nextID)
	b.mu.Unlock()
	return id, nil
}

func (b *Backend) ResumeThread(ctx context.Context, workspaceID, threadID string, activation bool) (backend.Snapshot, error) {
	err := b.record(Call{Method: MethodResumeThread, WorkspaceID: workspaceID, ThreadID: threadID, Activation: activation})

	b.mu.Lock()
	gate := b.resumeGate
	snapshot, ok := b.snapshots[threadID]
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return backend.Snapshot{}, ctx.Err()
		}
	}
	if err != nil {
		return backend.Snapshot{}, err
	}
	if !ok {
		snapshot = backend.Snapshot{ThreadID: threadID}
	}
	return snapshot, nil
}

func (b *Backend) SendMessage(ctx context.Context, workspaceID, threadID, text string, images []string, opts backend.SendOptions) error {
	return b.record(Call{
		Method:      MethodSendMessage,
		WorkspaceID: workspaceID,
		ThreadID:    threadID,
		Text:        text,
		Images:      append([]string(nil), images...),
		Options:     opts,
	})
}

func (b *Backend) InterruptTurn(ctx context.Context, workspaceID, threadID, turnID string) error {
	return b.record(Call{Method: MethodInterruptTurn, WorkspaceID: workspaceID, ThreadID: threadID, TurnID: turnID})
}

func (b *Backend) RememberApprovalRule(ctx context.Context, workspaceID string, rule approval.Rule) error {
	return b.record(Call{Method: MethodRememberApprovalRule, WorkspaceID: workspaceID, Rule: rule})
}

func (b *Backend) ListThreads(ctx context.Context, workspaceID, cursor string) (backend.Page, error) {
	if err := b.record(Call{Method: MethodListThreads, WorkspaceID: workspaceID, Cursor: cursor}); err != nil {
		return backend.Page{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages[workspaceID+"\x00"+cursor], nil
}

func (b *Backend) ArchiveThread(ctx context.Context, workspaceID, threadID string) error {
	return b.record(Call{Method: MethodArchiveThread, WorkspaceID: workspaceID, ThreadID: threadID})
}

func (b *Backend) RespondToUserInput(ctx context.Context, workspaceID, threadID, requestID string, answers map[string]string) error {
	return b.record(Call{
		Method:      MethodRespondToUserInput,
		WorkspaceID: workspaceID,
		ThreadID:    threadID,
		RequestID:   requestID,
		Answers:     answers,
	})
}

func (b *Backend) Subscribe(ctx context.Context) <-chan backend.Event {
	return b.events.Subscribe(ctx)
}

func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.events.Close()
	return nil
}
