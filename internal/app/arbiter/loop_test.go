package arbiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tagbox/internal/domain/event"
	"github.com/osa030/tagbox/internal/domain/presence"
)

type fakeSensor struct {
	mu      sync.Mutex
	reading presence.Reading
	err     error
}

func (s *fakeSensor) Poll(ctx context.Context) (presence.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading, s.err
}

func (s *fakeSensor) set(r presence.Reading, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading, s.err = r, err
}

type fakeQueue struct {
	mu      sync.Mutex
	events  []event.Event
	pushErr error
}

func (q *fakeQueue) Push(ev event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return q.pushErr
	}
	q.events = append(q.events, ev)
	return nil
}

func (q *fakeQueue) Drain(max int) []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.events)
	if n > max {
		n = max
	}
	out := q.events[:n]
	q.events = q.events[n:]
	return out
}

func (q *fakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func newTestLoop(drain int) (*Loop, *fakeSensor, *fakeQueue, *fakeTransport, *Arbiter) {
	a, transport, _, _ := newTestArbiter()
	sensor := &fakeSensor{}
	queue := &fakeQueue{}
	loop := NewLoop(LoopConfig{Interval: 5 * time.Millisecond, DrainPerTick: drain}, sensor, queue, a)
	return loop, sensor, queue, transport, a
}

func TestLoop_TagPlacedAndRemoved(t *testing.T) {
	loop, sensor, _, transport, a := newTestLoop(8)
	ctx := context.Background()

	loop.Tick(ctx)
	assert.Empty(t, transport.take())

	sensor.set(presence.Tag("tagA", ""), nil)
	loop.Tick(ctx)
	assert.Equal(t, []string{"stop", "load(a1,a2)", "play"}, transport.take())
	assert.Equal(t, Playing(SourceTag, "tagA"), a.State())

	// Steady reading does nothing
	loop.Tick(ctx)
	assert.Empty(t, transport.take())

	sensor.set(presence.Absent(), nil)
	loop.Tick(ctx)
	assert.Equal(t, []string{"pause"}, transport.take())
	assert.Equal(t, Idle("tagA"), a.State())
}

func TestLoop_SensorErrorIsNotRemoval(t *testing.T) {
	loop, sensor, _, transport, a := newTestLoop(8)
	ctx := context.Background()

	sensor.set(presence.Tag("tagA", ""), nil)
	loop.Tick(ctx)
	transport.take()

	sensor.set(presence.Absent(), errors.New("i2c timeout"))
	loop.Tick(ctx)
	loop.Tick(ctx)
	assert.Empty(t, transport.take())
	assert.Equal(t, Playing(SourceTag, "tagA"), a.State())

	// Recovery with the tag still there is a steady reading
	sensor.set(presence.Tag("tagA", ""), nil)
	loop.Tick(ctx)
	assert.Empty(t, transport.take())
}

func TestLoop_AppliesQueuedEventsInOrder(t *testing.T) {
	loop, _, queue, transport, a := newTestLoop(8)
	ctx := context.Background()

	require.NoError(t, queue.Push(catalogStart("albumQ", "")))
	require.NoError(t, queue.Push(remote(event.KindNext)))
	require.NoError(t, queue.Push(remote(event.KindPause)))

	loop.Tick(ctx)
	assert.Equal(t, []string{"stop", "load(q1,q2,q3)", "play", "next", "pause"}, transport.take())
	assert.Equal(t, Idle("albumQ"), a.State())
	assert.Zero(t, queue.Len())
}

func TestLoop_DrainIsBounded(t *testing.T) {
	loop, _, queue, transport, _ := newTestLoop(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Push(remote(event.KindNext)))
	}

	loop.Tick(ctx)
	assert.Len(t, transport.take(), 2)
	assert.Equal(t, 3, queue.Len())

	loop.Tick(ctx)
	loop.Tick(ctx)
	assert.Len(t, transport.take(), 3)
	assert.Zero(t, queue.Len())
}

func TestLoop_PushFailureRetriesTransition(t *testing.T) {
	loop, sensor, queue, transport, a := newTestLoop(8)
	ctx := context.Background()

	queue.pushErr = errors.New("queue full")
	sensor.set(presence.Tag("tagA", ""), nil)
	loop.Tick(ctx)
	assert.Empty(t, transport.take())
	assert.Equal(t, Idle(""), a.State())

	queue.pushErr = nil
	loop.Tick(ctx)
	assert.Equal(t, []string{"stop", "load(a1,a2)", "play"}, transport.take())
	assert.Equal(t, Playing(SourceTag, "tagA"), a.State())
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	loop, sensor, _, transport, _ := newTestLoop(8)
	sensor.set(presence.Tag("tagB", ""), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	assert.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		for _, cmd := range transport.commands {
			if cmd == "play" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	cmds := transport.take()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "set_volume(50)", cmds[0], "initial volume is applied before the first tick")
}
