package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordMessage struct {
	n int
}

func (m recordMessage) Type() string { return "record" }

type recordingActor struct {
	mu       sync.Mutex
	seen     []int
	started  bool
	stopped  bool
	failOn   int
	block    chan struct{}
	received chan struct{}
}

func newRecordingActor() *recordingActor {
	return &recordingActor{failOn: -1, received: make(chan struct{}, 128)}
}

func (a *recordingActor) ID() string { return "recorder" }

func (a *recordingActor) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	return nil
}

func (a *recordingActor) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	return nil
}

func (a *recordingActor) Receive(_ context.Context, msg Message) error {
	if a.block != nil {
		<-a.block
	}
	m := msg.(recordMessage)
	a.mu.Lock()
	a.seen = append(a.seen, m.n)
	a.mu.Unlock()
	a.received <- struct{}{}
	if m.n == a.failOn {
		return errors.New("boom")
	}
	return nil
}

func (a *recordingActor) snapshot() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.seen...)
}

func TestActorProcessesInArrivalOrder(t *testing.T) {
	a := newRecordingActor()
	ref := NewActorRef("recorder", a, 64)
	require.NoError(t, ref.Start(context.Background()))

	for i := 0; i < 50; i++ {
		require.NoError(t, ref.SendContext(context.Background(), recordMessage{n: i}))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ref.Stop(stopCtx))

	seen := a.snapshot()
	require.Len(t, seen, 50)
	for i, n := range seen {
		assert.Equal(t, i, n)
	}
	assert.True(t, a.started)
	assert.True(t, a.stopped)
}

func TestSendFailsWhenMailboxFull(t *testing.T) {
	a := newRecordingActor()
	a.block = make(chan struct{})
	ref := NewActorRef("recorder", a, 1)
	require.NoError(t, ref.Start(context.Background()))

	// First message is picked up and blocks in Receive, second fills the box.
	require.NoError(t, ref.Send(recordMessage{n: 1}))
	require.Eventually(t, func() bool { return len(ref.mailbox) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, ref.Send(recordMessage{n: 2}))
	assert.Error(t, ref.Send(recordMessage{n: 3}))

	close(a.block)
	require.NoError(t, ref.Stop(context.Background()))
	assert.Equal(t, []int{1, 2}, a.snapshot())
}

func TestSendContextHonoursCancellation(t *testing.T) {
	a := newRecordingActor()
	a.block = make(chan struct{})
	ref := NewActorRef("recorder", a, 1)
	require.NoError(t, ref.Start(context.Background()))

	require.NoError(t, ref.Send(recordMessage{n: 1}))
	require.Eventually(t, func() bool { return len(ref.mailbox) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, ref.Send(recordMessage{n: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ref.SendContext(ctx, recordMessage{n: 3})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(a.block)
	require.NoError(t, ref.Stop(context.Background()))
}

func TestSendAfterStopReturnsErrStopped(t *testing.T) {
	ref := NewActorRef("recorder", newRecordingActor(), 4)
	require.NoError(t, ref.Start(context.Background()))
	require.NoError(t, ref.Stop(context.Background()))

	assert.ErrorIs(t, ref.Send(recordMessage{n: 1}), ErrStopped)
	assert.ErrorIs(t, ref.SendContext(context.Background(), recordMessage{n: 1}), ErrStopped)
	// Stopping twice is fine.
	assert.NoError(t, ref.Stop(context.Background()))
}

func TestErrorHookSeesReceiveErrors(t *testing.T) {
	a := newRecordingActor()
	a.failOn = 2

	var mu sync.Mutex
	var hooked []string
	ref := NewActorRef("recorder", a, 8, WithErrorHook(func(id string, msg Message, err error) {
		mu.Lock()
		defer mu.Unlock()
		hooked = append(hooked, id+":"+msg.Type()+":"+err.Error())
	}))
	require.NoError(t, ref.Start(context.Background()))

	for i := 1; i <= 3; i++ {
		require.NoError(t, ref.Send(recordMessage{n: i}))
	}
	require.NoError(t, ref.Stop(context.Background()))

	assert.Equal(t, []int{1, 2, 3}, a.snapshot())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"recorder:record:boom"}, hooked)
}

func TestSystemSpawnRejectsDuplicates(t *testing.T) {
	sys := NewSystem()
	ctx := context.Background()

	ref, err := sys.Spawn(ctx, "events", newRecordingActor(), 4)
	require.NoError(t, err)
	got, ok := sys.Get("events")
	require.True(t, ok)
	assert.Same(t, ref, got)

	_, err = sys.Spawn(ctx, "events", newRecordingActor(), 4)
	assert.Error(t, err)

	require.NoError(t, sys.StopAll(ctx))
	_, ok = sys.Get("events")
	assert.False(t, ok)
	assert.Error(t, sys.Stop(ctx, "events"))
}
