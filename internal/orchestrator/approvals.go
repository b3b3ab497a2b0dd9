package orchestrator

import (
	"context"
	"fmt"

	"github.com/codefionn/threaddeck/internal/approval"
	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/permissions"
	"github.com/codefionn/threaddeck/internal/threads"
)

const noPromptToRetry = "Nothing to retry: no prompt was sent on this thread in this session."

// HandlePermissionRemember persists rule through the backend, records its
// command prefix in the allow-list and resolves the denial. A failed
// persistence is reported to the debug sink; the local allow-list is updated
// regardless. A rule without tool or command is derived from the denial.
func (o *Orchestrator) HandlePermissionRemember(ctx context.Context, denialID string, rule approval.Rule) {
	denial, ok := o.store.State().PermissionDenial(denialID)
	if !ok {
		o.log.Debug("remember for unknown denial %s", denialID)
		return
	}
	o.rememberRule(ctx, denial, rule)
	o.store.Dispatch(threads.RemovePermissionDenial{ID: denialID})
}

// HandlePermissionDismiss resolves a denial without remembering anything.
func (o *Orchestrator) HandlePermissionDismiss(denialID string) {
	o.store.Dispatch(threads.RemovePermissionDenial{ID: denialID})
}

// HandlePermissionRetry remembers rule like HandlePermissionRemember, then
// interrupts the denied turn and resends the thread's last prompt verbatim.
// Without a last prompt from the same workspace it surfaces one error item
// and returns ErrNoLastPrompt without touching the backend turn.
func (o *Orchestrator) HandlePermissionRetry(ctx context.Context, denialID string, rule approval.Rule) error {
	denial, ok := o.store.State().PermissionDenial(denialID)
	if !ok {
		o.log.Debug("retry for unknown denial %s", denialID)
		return nil
	}

	o.rememberRule(ctx, denial, rule)
	o.store.Dispatch(threads.RemovePermissionDenial{ID: denialID})

	lastPrompt, ok := o.LastPrompt(denial.ThreadID)
	if !ok || lastPrompt.WorkspaceID != denial.WorkspaceID {
		o.surfaceError(denial.WorkspaceID, denial.ThreadID, noPromptToRetry)
		return ErrNoLastPrompt
	}

	if err := o.interrupt(ctx, denial.WorkspaceID, denial.ThreadID, denial.TurnID); err != nil {
		o.surfaceError(denial.WorkspaceID, denial.ThreadID, fmt.Sprintf("Retry failed: %v", err))
		return err
	}

	// The prompt was expanded when it was first sent.
	opts := backend.SendOptions{SkipPromptExpansion: true}
	if err := o.send(ctx, denial.WorkspaceID, denial.ThreadID, lastPrompt.Text, lastPrompt.Images, opts); err != nil {
		o.surfaceError(denial.WorkspaceID, denial.ThreadID, fmt.Sprintf("Retry failed: %v", err))
		return err
	}
	o.log.Info("retried thread %s after approving %s", denial.ThreadID, denial.ToolName)
	return nil
}

func (o *Orchestrator) rememberRule(ctx context.Context, denial threads.PermissionDenial, rule approval.Rule) {
	if rule.ToolName == "" && len(rule.Command) == 0 {
		rule = permissions.RuleForDenial(denial)
	}
	if rule.ToolName == "" && len(rule.Command) == 0 {
		o.log.Debug("nothing to remember for denial %s", denial.ID)
		return
	}

	if err := o.backend.RememberApprovalRule(ctx, denial.WorkspaceID, rule); err != nil {
		o.reportDebug("remember approval rule failed", map[string]any{
			"workspace_id": denial.WorkspaceID,
			"thread_id":    denial.ThreadID,
			"rule":         rule,
		}, err)
	}

	if tokens := approval.Normalize(rule.Command); len(tokens) > 0 {
		o.allowlist.Remember(denial.WorkspaceID, tokens)
	}
}
