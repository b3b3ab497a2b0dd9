package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codefionn/threaddeck/internal/logger"
)

// ErrStopped is returned when sending to an actor that is no longer running.
var ErrStopped = errors.New("actor is stopped")

// Message represents a message sent between actors
type Message interface {
	Type() string
}

// Actor represents an actor in the actor model
type Actor interface {
	// Receive processes incoming messages, one at a time, in arrival order
	Receive(ctx context.Context, msg Message) error
	// Start starts the actor
	Start(ctx context.Context) error
	// Stop stops the actor gracefully
	Stop(ctx context.Context) error
	// ID returns the actor's unique identifier
	ID() string
}

// ErrorHook observes errors returned from Receive.
type ErrorHook func(actorID string, msg Message, err error)

// ActorRef is a reference to a running actor
type ActorRef struct {
	id      string
	mailbox chan Message
	actor   Actor
	onError ErrorHook

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.RWMutex
	started bool
	stopped bool
}

// ActorRefOption configures an ActorRef.
type ActorRefOption func(*ActorRef)

// WithErrorHook installs a hook that sees every Receive error.
func WithErrorHook(hook ErrorHook) ActorRefOption {
	return func(ref *ActorRef) {
		ref.onError = hook
	}
}

// NewActorRef creates a new actor reference with the given mailbox size.
func NewActorRef(id string, actor Actor, mailboxSize int, opts ...ActorRefOption) *ActorRef {
	if mailboxSize < 1 {
		mailboxSize = 1
	}
	ref := &ActorRef{
		id:      id,
		actor:   actor,
		mailbox: make(chan Message, mailboxSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ref)
	}
	return ref
}

// ID returns the actor's ID
func (ref *ActorRef) ID() string {
	return ref.id
}

// Send delivers msg without blocking. It fails when the mailbox is full.
func (ref *ActorRef) Send(msg Message) error {
	ref.mu.RLock()
	defer ref.mu.RUnlock()
	if ref.stopped {
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	}

	select {
	case ref.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("actor %s mailbox is full", ref.id)
	}
}

// SendContext delivers msg, waiting for mailbox space until ctx is done or
// the actor stops. Ordered producers that must not drop messages use this.
func (ref *ActorRef) SendContext(ctx context.Context, msg Message) error {
	ref.mu.RLock()
	if ref.stopped {
		ref.mu.RUnlock()
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	}
	done := ref.done
	ref.mu.RUnlock()

	select {
	case ref.mailbox <- msg:
		return nil
	case <-done:
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the actor's message processing loop
func (ref *ActorRef) Start(ctx context.Context) error {
	ref.mu.Lock()
	defer ref.mu.Unlock()
	if ref.started {
		return fmt.Errorf("actor %s already started", ref.id)
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := ref.actor.Start(ctx); err != nil {
		cancel()
		return err
	}

	ref.cancel = cancel
	ref.started = true
	ref.wg.Add(1)
	go ref.run(ctx)
	return nil
}

// Stop stops the actor. Messages already queued are drained first.
func (ref *ActorRef) Stop(ctx context.Context) error {
	ref.mu.Lock()
	if ref.stopped {
		ref.mu.Unlock()
		return nil
	}
	ref.stopped = true
	close(ref.done)
	started := ref.started
	ref.mu.Unlock()

	if !started {
		return ref.actor.Stop(ctx)
	}

	finished := make(chan struct{})
	go func() {
		ref.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		ref.cancel()
		return ctx.Err()
	}
	ref.cancel()
	return ref.actor.Stop(ctx)
}

func (ref *ActorRef) run(ctx context.Context) {
	defer ref.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ref.mailbox:
			ref.deliver(ctx, msg)
		case <-ref.done:
			// Drain what was queued before Stop, then exit.
			for {
				select {
				case msg := <-ref.mailbox:
					ref.deliver(ctx, msg)
				default:
					return
				}
			}
		}
	}
}

func (ref *ActorRef) deliver(ctx context.Context, msg Message) {
	if err := ref.actor.Receive(ctx, msg); err != nil {
		logger.Error("Actor %s error processing %s: %v", ref.id, msg.Type(), err)
		if ref.onError != nil {
			ref.onError(ref.id, msg, err)
		}
	}
}

// System manages a collection of actors
type System struct {
	actors map[string]*ActorRef
	mu     sync.RWMutex
}

// NewSystem creates a new actor system
func NewSystem() *System {
	return &System{
		actors: make(map[string]*ActorRef),
	}
}

// Spawn creates and starts a new actor
func (s *System) Spawn(ctx context.Context, id string, actor Actor, mailboxSize int, opts ...ActorRefOption) (*ActorRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.actors[id]; exists {
		return nil, fmt.Errorf("actor with id %s already exists", id)
	}

	ref := NewActorRef(id, actor, mailboxSize, opts...)
	if err := ref.Start(ctx); err != nil {
		return nil, err
	}

	s.actors[id] = ref
	return ref, nil
}

// Get retrieves an actor reference by ID
func (s *System) Get(id string) (*ActorRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.actors[id]
	return ref, ok
}

// Stop stops an actor by ID
func (s *System) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	ref, exists := s.actors[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("actor %s not found", id)
	}
	delete(s.actors, id)
	s.mu.Unlock()

	return ref.Stop(ctx)
}

// StopAll stops all actors in the system
func (s *System) StopAll(ctx context.Context) error {
	s.mu.Lock()
	actors := make([]*ActorRef, 0, len(s.actors))
	for _, ref := range s.actors {
		actors = append(actors, ref)
	}
	s.actors = make(map[string]*ActorRef)
	s.mu.Unlock()

	var firstErr error
	for _, ref := range actors {
		if err := ref.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
