package router

import (
	"sync"
	"time"

	"github.com/xenking/order-router/internal/domain/order"
)

// Scheduler runs one deferred callback per order id. Scheduling an id again
// supersedes the pending callback. Cancelling is best-effort: a callback that
// already started still runs, so the callback must re-check order state.
type Scheduler struct {
	delay time.Duration
	fire  func(id order.ID)

	mu      sync.Mutex
	timers  map[order.ID]*time.Timer
	stopped bool
}

// NewScheduler creates a Scheduler that calls fire for an id delay after it
// was scheduled.
func NewScheduler(delay time.Duration, fire func(id order.ID)) *Scheduler {
	return &Scheduler{
		delay:  delay,
		fire:   fire,
		timers: make(map[order.ID]*time.Timer),
	}
}

// Schedule arms the callback for id.
func (s *Scheduler) Schedule(id order.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.timers[id] != t {
			// Superseded or cancelled after the timer already fired.
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()

		s.fire(id)
	})
	s.timers[id] = t
}

// Cancel disarms the callback for id. It reports whether one was pending.
func (s *Scheduler) Cancel(id order.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}

// Pending returns the number of armed callbacks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every callback and rejects further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
