package backend

import (
	"context"
	"sync"
)

// Broadcaster fans events out to subscribers. Publish never blocks and never
// drops: each subscriber owns an unbounded queue drained in order by its own
// goroutine.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

type subscriber struct {
	mu      sync.Mutex
	queue   []Event
	closing bool
	wake    chan struct{}
	out     chan Event
}

// NewBroadcaster creates a broadcaster without subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[*subscriber]struct{})}
}

// Subscribe registers a new subscriber. The returned channel is closed when
// ctx ends, or after queued events are delivered once Close was called.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Event {
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.out)
		return sub.out
	}
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.subscribers, sub)
			b.mu.Unlock()
			close(sub.out)
		}()
		sub.run(ctx)
	}()
	return sub.out
}

// Publish queues ev for every current subscriber.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subscribers {
		sub.push(ev)
	}
}

// Close stops accepting events. Subscribers drain what is already queued.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		sub.finish()
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) finish() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
