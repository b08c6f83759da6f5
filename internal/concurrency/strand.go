package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// Strand is a logical FIFO bound to one resource (a connection) that
// guarantees its posted callbacks never run concurrently with one
// another, even though they may run on different scheduler workers over
// time. This is the Go rendering of the asio strand idiom spec.md's
// glossary describes, generalizing the teacher's single-queue Executor
// to a per-connection instance instead of one pool-wide queue.
type Strand struct {
	sched *Scheduler

	mu      sync.Mutex
	pending *queue.Queue
	draining bool
}

// NewStrand creates a strand that dispatches its drained work onto sched.
func NewStrand(sched *Scheduler) *Strand {
	return &Strand{
		sched:   sched,
		pending: queue.New(),
	}
}

// Dispatch enqueues f to run on this strand. If no drain loop is
// currently active, one is posted to the scheduler.
func (s *Strand) Dispatch(f Task) {
	s.mu.Lock()
	s.pending.Add(f)
	start := !s.draining
	if start {
		s.draining = true
	}
	s.mu.Unlock()

	if start {
		s.sched.Post(s.drain)
	}
}

// drain runs queued tasks one at a time until the queue is empty,
// ensuring no two tasks for this strand ever overlap: a task posted
// while drain is executing is appended to pending and observed by the
// same drain loop before it decides to stop.
func (s *Strand) drain() {
	for {
		s.mu.Lock()
		if s.pending.Length() == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		item := s.pending.Remove()
		s.mu.Unlock()

		if task, ok := item.(Task); ok && task != nil {
			task()
		}
	}
}
