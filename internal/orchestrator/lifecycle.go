package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/threads"
)

// StartThread asks the backend for a new thread and makes it the active
// thread of the workspace. A fresh thread counts as loaded.
func (o *Orchestrator) StartThread(ctx context.Context, workspaceID string) (string, error) {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return "", ErrNoWorkspace
	}

	threadID, err := o.backend.StartThread(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("failed to start thread: %w", err)
	}

	o.MarkLoaded(threadID)
	o.store.Dispatch(
		threads.EnsureThread{WorkspaceID: workspaceID, ThreadID: threadID},
		threads.SetActiveThreadID{WorkspaceID: workspaceID, ThreadID: threadID},
		threads.TouchThread{WorkspaceID: workspaceID, ThreadID: threadID, At: o.now()},
	)
	o.log.Info("started thread %s in workspace %s", threadID, workspaceID)
	return threadID, nil
}

// EnsureThreadForActiveWorkspace returns a loaded thread of the active
// workspace: the active thread, resumed first if it was never loaded, or a
// newly started one. On failure it returns "".
func (o *Orchestrator) EnsureThreadForActiveWorkspace(ctx context.Context) (string, error) {
	workspaceID := o.store.State().ActiveWorkspaceID
	if workspaceID == "" {
		return "", ErrNoWorkspace
	}
	return o.ensureThread(ctx, workspaceID)
}

func (o *Orchestrator) ensureThread(ctx context.Context, workspaceID string) (string, error) {
	active := o.store.State().ActiveThreadID(workspaceID)
	if active == "" {
		return o.StartThread(ctx, workspaceID)
	}
	if err := o.ResumeThread(ctx, workspaceID, active); err != nil {
		return "", err
	}
	return active, nil
}

// ResumeThread loads a thread's history unless it was loaded before.
// Concurrent calls for the same thread share one backend call.
func (o *Orchestrator) ResumeThread(ctx context.Context, workspaceID, threadID string) error {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return ErrNoWorkspace
	}
	if o.IsLoaded(threadID) {
		return nil
	}
	return o.resume(ctx, workspaceID, threadID, false)
}

// SetActiveThreadID moves the workspace's active pointer and, for a non-empty
// thread id, refreshes that thread with an activation resume whose history
// replaces the local one. Without a resolvable workspace it does nothing.
func (o *Orchestrator) SetActiveThreadID(ctx context.Context, threadID, workspaceID string) error {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return nil
	}

	o.store.Dispatch(threads.SetActiveThreadID{WorkspaceID: workspaceID, ThreadID: threadID})
	if threadID == "" {
		return nil
	}

	o.mu.Lock()
	o.replaceOnResume[threadID] = struct{}{}
	o.mu.Unlock()

	if err := o.resume(ctx, workspaceID, threadID, true); err != nil {
		o.surfaceError(workspaceID, threadID, fmt.Sprintf("Failed to load thread: %v", err))
		return err
	}
	return nil
}

// resume shares in-flight calls per thread and kind. An activation never
// joins a plain resume, since only an activation replaces local history.
func (o *Orchestrator) resume(ctx context.Context, workspaceID, threadID string, activation bool) error {
	key := workspaceID + "\x00" + threadID
	if activation {
		key += "\x00activation"
	}
	_, err, shared := o.resumes.Do(key, func() (any, error) {
		// A caller that raced past the loaded check after the previous
		// flight finished must not resume again.
		if !activation && o.IsLoaded(threadID) {
			return nil, nil
		}

		replace := activation && o.takeReplaceOnResume(threadID)
		snapshot, err := o.backend.ResumeThread(ctx, workspaceID, threadID, activation)
		if err != nil {
			return nil, fmt.Errorf("failed to resume thread %s: %w", threadID, err)
		}

		o.MarkLoaded(threadID)
		o.applySnapshot(workspaceID, threadID, snapshot, replace)
		return nil, nil
	})
	if shared {
		o.log.Debug("joined in-flight resume of %s", threadID)
	}
	return err
}

func (o *Orchestrator) applySnapshot(workspaceID, threadID string, snapshot backend.Snapshot, replace bool) {
	actions := []threads.Action{
		threads.EnsureThread{WorkspaceID: workspaceID, ThreadID: threadID},
		threads.SetThreadItems{ThreadID: threadID, Items: snapshot.Items, Replace: replace},
	}
	if snapshot.Name != "" {
		actions = append(actions, threads.SetThreadName{WorkspaceID: workspaceID, ThreadID: threadID, Name: snapshot.Name})
	}
	if ov, ok := o.nameOverride(workspaceID, threadID); ok {
		if ov.name != "" {
			actions = append(actions, threads.SetThreadName{WorkspaceID: workspaceID, ThreadID: threadID, Name: ov.name, Custom: true})
		}
		if !ov.pinnedAt.IsZero() {
			actions = append(actions, threads.SetThreadPinned{WorkspaceID: workspaceID, ThreadID: threadID, PinnedAt: ov.pinnedAt})
		}
	}
	if snapshot.ActiveTurnID != "" {
		actions = append(actions, threads.SetActiveTurnID{ThreadID: threadID, TurnID: snapshot.ActiveTurnID})
	}
	actions = append(actions, threads.MarkProcessing{ThreadID: threadID, Processing: snapshot.Processing, At: o.now()})
	if !snapshot.UpdatedAt.IsZero() {
		actions = append(actions, threads.TouchThread{WorkspaceID: workspaceID, ThreadID: threadID, At: snapshot.UpdatedAt})
	}
	o.store.Dispatch(actions...)
}

// SendMessage sends a prompt to a thread, loading or starting the thread
// first when needed. An empty threadID targets the workspace's active
// thread. Failures are surfaced on the thread and returned.
func (o *Orchestrator) SendMessage(ctx context.Context, workspaceID, threadID, text string, images []string) (string, error) {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return "", ErrNoWorkspace
	}
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return threadID, nil
	}

	var err error
	if threadID == "" {
		threadID, err = o.ensureThread(ctx, workspaceID)
		if err != nil {
			return "", err
		}
	} else if err = o.ResumeThread(ctx, workspaceID, threadID); err != nil {
		o.surfaceError(workspaceID, threadID, fmt.Sprintf("Failed to load thread: %v", err))
		return threadID, err
	}

	o.store.Dispatch(threads.UpsertItem{
		WorkspaceID: workspaceID,
		ThreadID:    threadID,
		Item: threads.Item{
			ID:        "user-" + uuid.NewString(),
			Kind:      threads.ItemUserMessage,
			Text:      text,
			Images:    images,
			CreatedAt: o.now(),
		},
	})

	if err := o.send(ctx, workspaceID, threadID, text, images, backend.SendOptions{}); err != nil {
		o.surfaceError(workspaceID, threadID, fmt.Sprintf("Failed to send message: %v", err))
		return threadID, err
	}
	return threadID, nil
}

// send issues the backend call and records the prompt on success.
func (o *Orchestrator) send(ctx context.Context, workspaceID, threadID, text string, images []string, opts backend.SendOptions) error {
	o.store.Dispatch(
		threads.MarkProcessing{ThreadID: threadID, Processing: true, At: o.now()},
		threads.TouchThread{WorkspaceID: workspaceID, ThreadID: threadID, At: o.now()},
	)

	if err := o.backend.SendMessage(ctx, workspaceID, threadID, text, images, opts); err != nil {
		o.store.Dispatch(threads.MarkProcessing{ThreadID: threadID, Processing: false, At: o.now()})
		return err
	}

	o.mu.Lock()
	o.lastPrompts[threadID] = LastPrompt{
		WorkspaceID: workspaceID,
		Text:        text,
		Images:      append([]string(nil), images...),
	}
	o.mu.Unlock()
	return nil
}

// InterruptTurn stops a thread's in-flight turn. An empty turnID uses the
// tracked active turn, falling back to PendingTurnID.
func (o *Orchestrator) InterruptTurn(ctx context.Context, workspaceID, threadID, turnID string) error {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return ErrNoWorkspace
	}
	if turnID == "" {
		turnID = o.store.State().ActiveTurnID(threadID)
	}
	return o.interrupt(ctx, workspaceID, threadID, turnID)
}

func (o *Orchestrator) interrupt(ctx context.Context, workspaceID, threadID, turnID string) error {
	if turnID == "" {
		turnID = PendingTurnID
	}
	if !o.beginInterrupt(threadID) {
		return ErrInterruptPending
	}
	defer o.endInterrupt(threadID)

	if err := o.backend.InterruptTurn(ctx, workspaceID, threadID, turnID); err != nil {
		return fmt.Errorf("failed to interrupt turn %s: %w", turnID, err)
	}
	o.store.Dispatch(threads.MarkProcessing{ThreadID: threadID, Processing: false, At: o.now()})
	return nil
}

// RenameThread persists a custom name, caches it, then updates the display.
// An empty name drops the override.
func (o *Orchestrator) RenameThread(ctx context.Context, workspaceID, threadID, name string) error {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return ErrNoWorkspace
	}
	name = strings.TrimSpace(name)

	if err := o.names.SetName(ctx, workspaceID, threadID, name); err != nil {
		return fmt.Errorf("failed to persist thread name: %w", err)
	}
	o.updateNameCache(workspaceID, threadID, func(ov *nameOverride) {
		ov.name = name
	})
	o.store.Dispatch(threads.SetThreadName{WorkspaceID: workspaceID, ThreadID: threadID, Name: name, Custom: true})
	return nil
}

// PinThread pins a thread at the current time.
func (o *Orchestrator) PinThread(ctx context.Context, workspaceID, threadID string) error {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return ErrNoWorkspace
	}
	pinnedAt := o.now()

	if err := o.names.SetPinned(ctx, workspaceID, threadID, pinnedAt); err != nil {
		return fmt.Errorf("failed to persist pin: %w", err)
	}
	o.updateNameCache(workspaceID, threadID, func(ov *nameOverride) {
		ov.pinnedAt = pinnedAt
	})
	o.store.Dispatch(threads.SetThreadPinned{WorkspaceID: workspaceID, ThreadID: threadID, PinnedAt: pinnedAt})
	return nil
}

// UnpinThread removes a thread's pin.
func (o *Orchestrator) UnpinThread(ctx context.Context, workspaceID, threadID string) error {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return ErrNoWorkspace
	}

	if err := o.names.ClearPinned(ctx, workspaceID, threadID); err != nil {
		return fmt.Errorf("failed to clear pin: %w", err)
	}
	o.unpinLocally(workspaceID, threadID)
	return nil
}

func (o *Orchestrator) unpinLocally(workspaceID, threadID string) {
	o.updateNameCache(workspaceID, threadID, func(ov *nameOverride) {
		ov.pinnedAt = time.Time{}
	})
	o.store.Dispatch(threads.SetThreadPinned{WorkspaceID: workspaceID, ThreadID: threadID})
}

// RemoveThread unpins the thread, drops it from state and archives it. State
// changes first; a failed archive is reported to the debug sink and not
// rolled back. Once archived, the stored name is forgotten as well.
func (o *Orchestrator) RemoveThread(ctx context.Context, workspaceID, threadID string) error {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return ErrNoWorkspace
	}

	o.unpinLocally(workspaceID, threadID)
	o.store.Dispatch(threads.RemoveThread{WorkspaceID: workspaceID, ThreadID: threadID})
	o.forgetThread(threadID)
	if err := o.names.ClearPinned(ctx, workspaceID, threadID); err != nil {
		o.reportDebug("clear pin failed", map[string]any{"workspace_id": workspaceID, "thread_id": threadID}, err)
	}

	if err := o.backend.ArchiveThread(ctx, workspaceID, threadID); err != nil {
		o.reportDebug("archive thread failed", map[string]any{"workspace_id": workspaceID, "thread_id": threadID}, err)
		return nil
	}
	o.log.Info("archived thread %s", threadID)

	o.updateNameCache(workspaceID, threadID, func(ov *nameOverride) { *ov = nameOverride{} })
	if err := o.names.DeleteThread(ctx, workspaceID, threadID); err != nil {
		o.reportDebug("forget thread name failed", map[string]any{"workspace_id": workspaceID, "thread_id": threadID}, err)
	}
	return nil
}

// LoadThreadList fetches the newest page of threads and replaces the roster.
func (o *Orchestrator) LoadThreadList(ctx context.Context, workspaceID string) error {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return ErrNoWorkspace
	}
	return o.loadPage(ctx, workspaceID, "", false)
}

// LoadOlderThreads fetches the page after the stored cursor. Without a cursor
// there is nothing older and it does nothing.
func (o *Orchestrator) LoadOlderThreads(ctx context.Context, workspaceID string) error {
	workspaceID = o.resolveWorkspace(workspaceID)
	if workspaceID == "" {
		return ErrNoWorkspace
	}
	cursor := o.store.State().ThreadListCursor(workspaceID)
	if cursor == "" {
		return nil
	}
	return o.loadPage(ctx, workspaceID, cursor, true)
}

func (o *Orchestrator) loadPage(ctx context.Context, workspaceID, cursor string, appendPage bool) error {
	page, err := o.backend.ListThreads(ctx, workspaceID, cursor)
	if err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}
	o.store.Dispatch(
		threads.SetThreads{WorkspaceID: workspaceID, Threads: o.applyOverrides(workspaceID, page.Threads), Append: appendPage},
		threads.SetThreadListCursor{WorkspaceID: workspaceID, Cursor: page.NextCursor},
	)
	return nil
}

// SubmitUserInput answers a pending user-input request and drops it.
func (o *Orchestrator) SubmitUserInput(ctx context.Context, requestID string, answers map[string]string) error {
	request, ok := o.store.State().UserInputRequest(requestID)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownRequest, requestID)
	}

	if err := o.backend.RespondToUserInput(ctx, request.WorkspaceID, request.ThreadID, requestID, answers); err != nil {
		o.surfaceError(request.WorkspaceID, request.ThreadID, fmt.Sprintf("Failed to submit answer: %v", err))
		return err
	}
	o.store.Dispatch(threads.RemoveUserInputRequest{WorkspaceID: request.WorkspaceID, RequestID: requestID})
	return nil
}

// RelinkThread moves everything known about oldThreadID to newThreadID once
// the backend reports the id it actually uses.
func (o *Orchestrator) RelinkThread(ctx context.Context, workspaceID, oldThreadID, newThreadID string) {
	if oldThreadID == "" || newThreadID == "" || oldThreadID == newThreadID {
		return
	}

	o.mu.Lock()
	if _, ok := o.loaded[oldThreadID]; ok {
		o.loaded[newThreadID] = struct{}{}
		delete(o.loaded, oldThreadID)
	}
	if _, ok := o.replaceOnResume[oldThreadID]; ok {
		o.replaceOnResume[newThreadID] = struct{}{}
		delete(o.replaceOnResume, oldThreadID)
	}
	if lp, ok := o.lastPrompts[oldThreadID]; ok {
		o.lastPrompts[newThreadID] = lp
		delete(o.lastPrompts, oldThreadID)
	}
	if ov, ok := o.nameCache[threadKey{workspaceID, oldThreadID}]; ok {
		o.nameCache[threadKey{workspaceID, newThreadID}] = ov
		delete(o.nameCache, threadKey{workspaceID, oldThreadID})
	}
	o.mu.Unlock()

	if err := o.names.RelinkThread(ctx, workspaceID, oldThreadID, newThreadID); err != nil {
		o.reportDebug("relink names failed", map[string]any{"old_thread_id": oldThreadID, "new_thread_id": newThreadID}, err)
	}
	o.store.Dispatch(threads.LinkThread{WorkspaceID: workspaceID, OldThreadID: oldThreadID, NewThreadID: newThreadID})
	o.log.Debug("relinked thread %s -> %s", oldThreadID, newThreadID)
}
