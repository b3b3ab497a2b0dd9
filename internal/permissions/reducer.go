// Package permissions turns backend permission-denied batches into thread
// state transitions, dropping denials already covered by the allow-list.
package permissions

import (
	"github.com/codefionn/threaddeck/internal/approval"
	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/logger"
	"github.com/codefionn/threaddeck/internal/threads"
)

// AskUserQuestionTool is the tool name under which the agent asks the user a
// clarifying question.
const AskUserQuestionTool = "AskUserQuestion"

// Dispatcher receives the transitions produced by a reducer.
type Dispatcher interface {
	Dispatch(actions ...threads.Action) threads.State
}

// Reducer filters permission denials against a shared allow-list. It only
// reads the allow-list.
type Reducer struct {
	allowlist *approval.Allowlist
	log       *logger.Logger
}

// NewReducer creates a reducer reading allowlist.
func NewReducer(allowlist *approval.Allowlist) *Reducer {
	return &Reducer{
		allowlist: allowlist,
		log:       logger.Global().WithPrefix("permissions"),
	}
}

// Reduce computes the transitions for one permission-denied event. Denials
// are visited in order; surviving denials keep their relative order and are
// emitted as a single AddPermissionDenials after any input-request clears.
func (r *Reducer) Reduce(ev backend.Event) []threads.Action {
	if len(ev.Denials) == 0 {
		return nil
	}

	allowlist := r.allowlist.Lookup(ev.WorkspaceID)

	var actions []threads.Action
	pending := make([]threads.PermissionDenial, 0, len(ev.Denials))
	dropped := 0

	for _, denial := range ev.Denials {
		denial = fillScope(denial, ev)

		if denial.ToolName == AskUserQuestionTool {
			actions = append(actions, threads.ClearUserInputRequestsForThread{ThreadID: denial.ThreadID})
		}

		if tokens, ok := approval.ExtractCommandTokens(denial.ToolName, denial.ToolInput); ok && approval.MatchesPrefix(tokens, allowlist) {
			dropped++
			continue
		}
		pending = append(pending, denial)
	}

	if dropped > 0 {
		r.log.Debug("auto-approved %d of %d denials for thread %s", dropped, len(ev.Denials), ev.ThreadID)
	}
	if len(pending) > 0 {
		actions = append(actions, threads.AddPermissionDenials{Denials: pending})
	}
	return actions
}

// Apply reduces ev and dispatches the result.
func (r *Reducer) Apply(d Dispatcher, ev backend.Event) {
	if actions := r.Reduce(ev); len(actions) > 0 {
		d.Dispatch(actions...)
	}
}

// fillScope defaults a denial's workspace, thread and turn to the batch's.
func fillScope(denial threads.PermissionDenial, ev backend.Event) threads.PermissionDenial {
	if denial.WorkspaceID == "" {
		denial.WorkspaceID = ev.WorkspaceID
	}
	if denial.ThreadID == "" {
		denial.ThreadID = ev.ThreadID
	}
	if denial.TurnID == "" {
		denial.TurnID = ev.TurnID
	}
	if denial.CreatedAt.IsZero() {
		denial.CreatedAt = ev.At
	}
	return denial
}

// RuleForDenial derives the approval rule a user accepts by remembering a
// denial: the command prefix for command tools, the tool name otherwise.
// A command tool without a single plain command yields the zero Rule, since
// allowing the tool by name would allow every command.
func RuleForDenial(denial threads.PermissionDenial) approval.Rule {
	if tokens, ok := approval.ExtractCommandTokens(denial.ToolName, denial.ToolInput); ok {
		return approval.Rule{ToolName: denial.ToolName, Command: tokens}
	}
	if approval.IsCommandTool(denial.ToolName) {
		return approval.Rule{}
	}
	return approval.Rule{ToolName: denial.ToolName}
}
