package notify

import (
	"sync"
	"time"
)

// Handle is a cancellable scheduled task.
type Handle interface {
	// Cancel stops future runs. It is safe to call more than once.
	Cancel()
}

// Scheduler runs periodic tasks. Every must not invoke fn synchronously.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Handle
}

// LoopScheduler hands due tasks to a single consumer instead of running them
// on timer goroutines, so the consumer's loop stays the only place state is
// mutated. Drain Tasks and call each func received.
type LoopScheduler struct {
	tasks chan func()
}

// NewLoopScheduler returns a scheduler whose Tasks channel buffers up to
// buf pending runs.
func NewLoopScheduler(buf int) *LoopScheduler {
	return &LoopScheduler{tasks: make(chan func(), buf)}
}

// Tasks yields due task runs.
func (s *LoopScheduler) Tasks() <-chan func() { return s.tasks }

func (s *LoopScheduler) Every(interval time.Duration, fn func()) Handle {
	h := &tickerHandle{stop: make(chan struct{})}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-t.C:
				select {
				case s.tasks <- fn:
				case <-h.stop:
					return
				}
			}
		}
	}()
	return h
}

type tickerHandle struct {
	once sync.Once
	stop chan struct{}
}

func (h *tickerHandle) Cancel() {
	h.once.Do(func() { close(h.stop) })
}
