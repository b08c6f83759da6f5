// Package concurrency implements the scheduler described in spec.md §4.1:
// a fixed worker pool that executes posted work items, plus a strand
// factory (strand.go) used by connections to serialize their own
// callbacks without blocking other connections.
package concurrency

import (
	"log"
	"sync"

	"github.com/eapache/queue"
)

// Task is a unit of work posted to the scheduler.
type Task func()

// Scheduler owns a fixed pool of worker goroutines draining a shared
// FIFO queue of posted tasks. It generalizes the teacher's
// internal/concurrency.Executor to the post/startup/shutdown contract
// spec.md §4.1 requires, and tracks an active-user count so components
// that must outlive the scheduler (the acceptor) can pin it open across
// a graceful shutdown.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	q       *queue.Queue
	workers int
	running bool
	wg      sync.WaitGroup
	stop    chan struct{}

	usersMu sync.Mutex
	users   int
	usersZero chan struct{}

	Logger *log.Logger
}

// New creates a Scheduler with the given worker count. Workers are not
// started until Startup is called.
func New(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		q:       queue.New(),
		workers: workers,
		stop:    make(chan struct{}),
		Logger:  log.Default(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Startup brings workers up. Idempotent.
func (s *Scheduler) Startup() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}
}

// Post enqueues f for execution on any worker.
func (s *Scheduler) Post(f Task) {
	s.mu.Lock()
	s.q.Add(f)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Scheduler) runWorker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for s.q.Length() == 0 {
			select {
			case <-s.stop:
				s.mu.Unlock()
				return
			default:
			}
			s.cond.Wait()
			select {
			case <-s.stop:
				s.mu.Unlock()
				return
			default:
			}
		}
		item := s.q.Remove()
		s.mu.Unlock()

		task, ok := item.(Task)
		if !ok || task == nil {
			continue
		}
		s.runSafely(task)
	}
}

// runSafely invokes a posted task, recovering from panics so a single
// bad handler or callback never takes a worker goroutine down — spec.md
// §4.1 requires the worker loop to catch and log exceptions without
// terminating.
func (s *Scheduler) runSafely(task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Printf("reqpipe: recovered panic in posted task: %v", r)
		}
	}()
	task()
}

// EnterUser increments the active-user count. Call on acceptor startup.
func (s *Scheduler) EnterUser() {
	s.usersMu.Lock()
	s.users++
	s.usersMu.Unlock()
}

// LeaveUser decrements the active-user count, notifying Shutdown when it
// reaches zero.
func (s *Scheduler) LeaveUser() {
	s.usersMu.Lock()
	s.users--
	n := s.users
	ch := s.usersZero
	s.usersMu.Unlock()
	if n == 0 && ch != nil {
		close(ch)
	}
}

// Shutdown signals workers, waits for the active-user count to reach
// zero, then joins all workers.
func (s *Scheduler) Shutdown() {
	s.usersMu.Lock()
	if s.users > 0 {
		s.usersZero = make(chan struct{})
		wait := s.usersZero
		s.usersMu.Unlock()
		<-wait
	} else {
		s.usersMu.Unlock()
	}

	close(s.stop)
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}
