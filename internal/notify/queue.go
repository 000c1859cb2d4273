// Package notify implements the bounded, time-decaying notification feed
// shared by every part of the editor.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind is the tone of a notification.
type Kind int

const (
	Success Kind = iota
	Error
)

func (k Kind) String() string {
	if k == Error {
		return "error"
	}
	return "success"
}

const (
	// Capacity is the number of notifications kept alive at once.
	Capacity = 3
	// Lifetime is how long an undisturbed notification stays visible.
	Lifetime = 8000 * time.Millisecond
	// TickInterval is the decay step.
	TickInterval = 100 * time.Millisecond

	steps = int(Lifetime / TickInterval)
)

// ID identifies one notification. IDs sort in creation order.
type ID = ulid.ULID

// Item is a read-only view of a live notification.
type Item struct {
	ID      ID
	Message string
	Kind    Kind
	// Remaining decays linearly from 1 to 0 over Lifetime.
	Remaining float64
	// Offset is the queue position, 0 for the oldest item.
	Offset int
}

type entry struct {
	id    ID
	msg   string
	kind  Kind
	left  int
	timer *timer
}

// timer owns a scheduler handle and guarantees it is cancelled once.
type timer struct {
	h        Handle
	released bool
}

func (t *timer) release() {
	if t.released {
		return
	}
	t.released = true
	t.h.Cancel()
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for queue events.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithObserver registers fn to be called with every pushed item.
// fn runs with the queue unlocked.
func WithObserver(fn func(Item)) Option {
	return func(q *Queue) { q.observers = append(q.observers, fn) }
}

// Queue is the notification service. A single Queue is created by the
// program and handed to every component that reports outcomes; all mutation
// goes through Push, Dismiss and the scheduled decay ticks.
type Queue struct {
	mu        sync.Mutex
	sched     Scheduler
	entries   []*entry
	log       *slog.Logger
	observers []func(Item)
}

// New returns an empty queue whose decay ticks are driven by s.
func New(s Scheduler, opts ...Option) *Queue {
	q := &Queue{sched: s, log: slog.Default()}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push appends a notification. When the queue is full the oldest item is
// evicted and its timer cancelled within the same critical section.
func (q *Queue) Push(msg string, kind Kind) ID {
	q.mu.Lock()
	e := &entry{id: ulid.Make(), msg: msg, kind: kind, left: steps}
	q.entries = append(q.entries, e)
	for len(q.entries) > Capacity {
		head := q.entries[0]
		q.entries[0] = nil
		q.entries = q.entries[1:]
		head.timer.releaseIfSet()
		q.log.Debug("notification evicted", "id", head.id.String())
	}
	id := e.id
	e.timer = &timer{h: q.sched.Every(TickInterval, func() { q.tick(id) })}
	item := q.itemLocked(len(q.entries)-1, e)
	q.mu.Unlock()

	q.log.Debug("notification pushed", "id", id.String(), "kind", kind.String(), "message", msg)
	for _, fn := range q.observers {
		fn(item)
	}
	return id
}

// Success pushes a success notification.
func (q *Queue) Success(msg string) ID { return q.Push(msg, Success) }

// Error pushes an error notification.
func (q *Queue) Error(msg string) ID { return q.Push(msg, Error) }

// Dismiss removes the notification immediately. It reports whether the
// notification was still live.
func (q *Queue) Dismiss(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

// DismissNewest removes the most recent notification, if any.
func (q *Queue) DismissNewest() (ID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return ID{}, false
	}
	id := q.entries[len(q.entries)-1].id
	return id, q.removeLocked(id)
}

// Contains reports whether id is still live.
func (q *Queue) Contains(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(id) >= 0
}

// Len returns the number of live notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Items returns the live notifications, oldest first.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.entries))
	for i, e := range q.entries {
		out[i] = q.itemLocked(i, e)
	}
	return out
}

// tick advances one decay step for id. Ticks for items that are already gone
// are ignored; a scheduler may deliver one after cancellation.
func (q *Queue) tick(id ID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		return
	}
	e := q.entries[i]
	e.left--
	if e.left <= 0 {
		q.removeLocked(id)
		q.log.Debug("notification expired", "id", id.String())
	}
}

func (q *Queue) removeLocked(id ID) bool {
	i := q.indexLocked(id)
	if i < 0 {
		return false
	}
	e := q.entries[i]
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	e.timer.releaseIfSet()
	return true
}

func (q *Queue) indexLocked(id ID) int {
	for i, e := range q.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

func (q *Queue) itemLocked(i int, e *entry) Item {
	return Item{
		ID:        e.id,
		Message:   e.msg,
		Kind:      e.kind,
		Remaining: float64(e.left) / float64(steps),
		Offset:    i,
	}
}

func (t *timer) releaseIfSet() {
	if t != nil {
		t.release()
	}
}
