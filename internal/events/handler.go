// Package events translates backend push events into thread state
// transitions. The handler runs as an actor so events are applied strictly
// in arrival order.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/codefionn/threaddeck/internal/actor"
	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/logger"
	"github.com/codefionn/threaddeck/internal/permissions"
	"github.com/codefionn/threaddeck/internal/threads"
)

// ActorID is the id the session spawns the handler under.
const ActorID = "backend-events"

// Linker moves session markers when the backend relinks a thread id.
type Linker interface {
	RelinkThread(ctx context.Context, workspaceID, oldThreadID, newThreadID string)
}

// Store is the part of the thread store the handler needs.
type Store interface {
	Dispatch(actions ...threads.Action) threads.State
	State() threads.State
}

// EventMessage carries one backend event into the handler's mailbox.
type EventMessage struct {
	Event backend.Event
}

func (m EventMessage) Type() string {
	return "event:" + string(m.Event.Kind)
}

// Handler applies backend events to the thread store.
type Handler struct {
	store       Store
	permissions *permissions.Reducer
	linker      Linker
	log         *logger.Logger
	now         func() time.Time
}

var _ actor.Actor = (*Handler)(nil)

// NewHandler creates a handler. linker may be nil when thread ids never
// change.
func NewHandler(store Store, reducer *permissions.Reducer, linker Linker) *Handler {
	return &Handler{
		store:       store,
		permissions: reducer,
		linker:      linker,
		log:         logger.Global().WithPrefix("events"),
		now:         time.Now,
	}
}

func (h *Handler) ID() string {
	return ActorID
}

func (h *Handler) Start(ctx context.Context) error {
	h.log.Debug("event handler started")
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	h.log.Debug("event handler stopped")
	return nil
}

// Receive applies one event.
func (h *Handler) Receive(ctx context.Context, msg actor.Message) error {
	m, ok := msg.(EventMessage)
	if !ok {
		return fmt.Errorf("unexpected message %s", msg.Type())
	}
	h.Handle(ctx, m.Event)
	return nil
}

// Handle applies ev synchronously.
func (h *Handler) Handle(ctx context.Context, ev backend.Event) {
	at := ev.At
	if at.IsZero() {
		at = h.now()
	}

	switch ev.Kind {
	case backend.EventThreadLinked:
		if h.linker != nil {
			h.linker.RelinkThread(ctx, ev.WorkspaceID, ev.ThreadID, ev.NewThreadID)
		} else {
			h.store.Dispatch(threads.LinkThread{WorkspaceID: ev.WorkspaceID, OldThreadID: ev.ThreadID, NewThreadID: ev.NewThreadID})
		}

	case backend.EventThreadName:
		h.store.Dispatch(threads.SetThreadName{WorkspaceID: ev.WorkspaceID, ThreadID: ev.ThreadID, Name: ev.Name})

	case backend.EventTurnStarted:
		h.store.Dispatch(
			threads.EnsureThread{WorkspaceID: ev.WorkspaceID, ThreadID: ev.ThreadID},
			threads.SetActiveTurnID{ThreadID: ev.ThreadID, TurnID: ev.TurnID},
			threads.MarkProcessing{ThreadID: ev.ThreadID, Processing: true, At: at},
			threads.TouchThread{WorkspaceID: ev.WorkspaceID, ThreadID: ev.ThreadID, At: at},
		)

	case backend.EventTurnCompleted:
		actions := []threads.Action{
			threads.TouchThread{WorkspaceID: ev.WorkspaceID, ThreadID: ev.ThreadID, At: at},
		}
		// A newer turn may already be running; only settle our own.
		if current := h.store.State().ActiveTurnID(ev.ThreadID); current == "" || current == ev.TurnID {
			actions = append(actions,
				threads.MarkProcessing{ThreadID: ev.ThreadID, Processing: false, At: at},
				threads.SetActiveTurnID{ThreadID: ev.ThreadID},
			)
		}
		if ev.Message != "" {
			actions = append(actions, threads.AddAssistantMessage{
				WorkspaceID: ev.WorkspaceID,
				ThreadID:    ev.ThreadID,
				Kind:        threads.ItemError,
				Text:        ev.Message,
				At:          at,
			})
		}
		h.store.Dispatch(actions...)

	case backend.EventReviewStarted:
		h.store.Dispatch(threads.MarkReviewing{ThreadID: ev.ThreadID, Reviewing: true})

	case backend.EventReviewCompleted:
		h.store.Dispatch(threads.MarkReviewing{ThreadID: ev.ThreadID, Reviewing: false})

	case backend.EventItemDelta:
		h.store.Dispatch(threads.AppendAgentDelta{
			WorkspaceID: ev.WorkspaceID,
			ThreadID:    ev.ThreadID,
			ItemID:      ev.ItemID,
			Delta:       ev.Delta,
		})

	case backend.EventItemCompleted:
		if ev.Item == nil {
			return
		}
		item := *ev.Item
		if item.CreatedAt.IsZero() {
			item.CreatedAt = at
		}
		h.store.Dispatch(threads.UpsertItem{WorkspaceID: ev.WorkspaceID, ThreadID: ev.ThreadID, Item: item})

	case backend.EventPermissionDenied:
		h.permissions.Apply(h.store, ev)

	case backend.EventInputRequested:
		if ev.Request == nil {
			return
		}
		request := *ev.Request
		if request.WorkspaceID == "" {
			request.WorkspaceID = ev.WorkspaceID
		}
		if request.ThreadID == "" {
			request.ThreadID = ev.ThreadID
		}
		if request.TurnID == "" {
			request.TurnID = ev.TurnID
		}
		h.store.Dispatch(threads.AddUserInputRequest{Request: request})

	case backend.EventError:
		if ev.ThreadID == "" {
			h.log.Warn("backend error in workspace %s: %s", ev.WorkspaceID, ev.Message)
			return
		}
		h.store.Dispatch(threads.AddAssistantMessage{
			WorkspaceID: ev.WorkspaceID,
			ThreadID:    ev.ThreadID,
			Kind:        threads.ItemError,
			Text:        ev.Message,
			At:          at,
		})

	default:
		h.log.Debug("ignoring event %s", ev.Kind)
	}
}

// Pump forwards events into the handler's mailbox until the subscription
// closes or ctx ends. Delivery blocks instead of dropping.
func Pump(ctx context.Context, events <-chan backend.Event, ref *actor.ActorRef) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := ref.SendContext(ctx, EventMessage{Event: ev}); err != nil {
				return err
			}
		}
	}
}
