package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualScheduler records tasks and fires them only when told to.
type manualScheduler struct {
	tasks []*manualTask
}

type manualTask struct {
	interval  time.Duration
	fn        func()
	cancelled int
}

func (t *manualTask) Cancel() { t.cancelled++ }

func (s *manualScheduler) Every(interval time.Duration, fn func()) Handle {
	t := &manualTask{interval: interval, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// advance fires every live task n times, in scheduling order.
func (s *manualScheduler) advance(n int) {
	for i := 0; i < n; i++ {
		for _, t := range s.tasks {
			if t.cancelled == 0 {
				t.fn()
			}
		}
	}
}

func TestPushKeepsInsertionOrder(t *testing.T) {
	s := &manualScheduler{}
	q := New(s)
	a := q.Success("saved")
	b := q.Error("push failed")

	items := q.Items()
	require.Len(t, items, 2)
	assert.Equal(t, a, items[0].ID)
	assert.Equal(t, b, items[1].ID)
	assert.Equal(t, 0, items[0].Offset)
	assert.Equal(t, 1, items[1].Offset)
	assert.Equal(t, Error, items[1].Kind)
	assert.Equal(t, 1.0, items[0].Remaining)
	for _, task := range s.tasks {
		assert.Equal(t, TickInterval, task.interval)
	}
}

func TestFourthPushEvictsOldest(t *testing.T) {
	s := &manualScheduler{}
	q := New(s)
	var ids []ID
	for i := 0; i < 4; i++ {
		ids = append(ids, q.Success(fmt.Sprintf("msg %d", i)))
	}

	require.Equal(t, Capacity, q.Len())
	assert.False(t, q.Contains(ids[0]))
	items := q.Items()
	assert.Equal(t, ids[1:], []ID{items[0].ID, items[1].ID, items[2].ID})

	assert.Equal(t, 1, s.tasks[0].cancelled, "evicted timer cancelled exactly once")
	for _, task := range s.tasks[1:] {
		assert.Zero(t, task.cancelled)
	}
}

func TestQueueNeverExceedsCapacity(t *testing.T) {
	s := &manualScheduler{}
	q := New(s)
	for i := 0; i < 20; i++ {
		q.Push("x", Kind(i%2))
		assert.LessOrEqual(t, q.Len(), Capacity)
	}
	live := 0
	for _, task := range s.tasks {
		assert.LessOrEqual(t, task.cancelled, 1)
		if task.cancelled == 0 {
			live++
		}
	}
	assert.Equal(t, Capacity, live)
}

func TestItemExpiresAfterExactLifetime(t *testing.T) {
	s := &manualScheduler{}
	q := New(s)
	id := q.Success("saved")

	ticks := int(Lifetime / TickInterval)
	s.advance(ticks - 1)
	require.True(t, q.Contains(id), "still live one tick before the lifetime")
	items := q.Items()
	assert.InDelta(t, 1.0/float64(ticks), items[0].Remaining, 1e-9)

	s.advance(1)
	assert.False(t, q.Contains(id))
	assert.Equal(t, 1, s.tasks[0].cancelled)
}

func TestRemainingDecaysLinearly(t *testing.T) {
	s := &manualScheduler{}
	q := New(s)
	q.Success("x")
	s.advance(20)
	assert.InDelta(t, 0.75, q.Items()[0].Remaining, 1e-9)
	s.advance(20)
	assert.InDelta(t, 0.5, q.Items()[0].Remaining, 1e-9)
}

func TestDismissCancelsOnce(t *testing.T) {
	s := &manualScheduler{}
	q := New(s)
	id := q.Error("boom")

	assert.True(t, q.Dismiss(id))
	assert.False(t, q.Dismiss(id))
	assert.Equal(t, 1, s.tasks[0].cancelled)

	// a tick delivered after cancellation is ignored
	s.tasks[0].fn()
	assert.Zero(t, q.Len())
}

func TestDismissNewest(t *testing.T) {
	q := New(&manualScheduler{})
	_, ok := q.DismissNewest()
	assert.False(t, ok)

	a := q.Success("a")
	b := q.Success("b")
	got, ok := q.DismissNewest()
	assert.True(t, ok)
	assert.Equal(t, b, got)
	assert.True(t, q.Contains(a))
}

func TestObserverSeesPushes(t *testing.T) {
	var seen []Item
	q := New(&manualScheduler{}, WithObserver(func(it Item) { seen = append(seen, it) }))
	q.Success("a")
	q.Error("b")
	require.Len(t, seen, 2)
	assert.Equal(t, "b", seen[1].Message)
	assert.Equal(t, 1, seen[1].Offset)
}

func TestLoopSchedulerDeliversToConsumer(t *testing.T) {
	s := NewLoopScheduler(4)
	runs := 0
	h := s.Every(time.Millisecond, func() { runs++ })

	select {
	case fn := <-s.Tasks():
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("no task delivered")
	}
	h.Cancel()
	h.Cancel()
	assert.Equal(t, 1, runs)
}
