package overlay

import (
	"sync"

	"github.com/JekaMas/workerpool"
	gometrics "github.com/rcrowley/go-metrics"
)

// TaskClass tags a unit of dispatch work. The scheduler supports at minimum
// normal and droppable; droppable is where load-shedding applies.
type TaskClass int

const (
	ClassNormal TaskClass = iota
	ClassDroppable
)

type scheduledTask struct {
	class TaskClass
	run   func()
}

// Scheduler is the cooperative, single-consumer task queue that stands in
// for a single main engine thread: every dispatched message handler runs
// as a task inside Scheduler.Run, one at a time. The session's reader
// goroutine and its timers also touch FlowController counters, session
// state and AdvertHistory; those guard themselves with their own mutexes.
// Latency-insensitive work that does not touch that state — hashing,
// encoding large batches — is instead handed to the workerpool via
// OffloadCPU and its result fed back in as a new Post.
type Scheduler struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []scheduledTask
	closed    bool
	maxDroppableQueue int

	pool    *workerpool.WorkerPool
	dropped gometrics.Counter
}

func NewScheduler(poolSize, maxDroppableQueue int, dropped gometrics.Counter) *Scheduler {
	s := &Scheduler{
		maxDroppableQueue: maxDroppableQueue,
		pool:              workerpool.New(poolSize),
		dropped:           dropped,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Post enqueues fn for execution by Run, in the order Post was called.
// Droppable tasks are refused (not queued) once maxDroppableQueue droppable
// tasks are already pending — load-shedding applied at the dispatch-queue
// enqueue point rather than only on the outbound send path.
func (s *Scheduler) Post(class TaskClass, fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if class == ClassDroppable && s.maxDroppableQueue > 0 {
		n := 0
		for _, t := range s.queue {
			if t.class == ClassDroppable {
				n++
			}
		}
		if n >= s.maxDroppableQueue {
			s.mu.Unlock()
			if s.dropped != nil {
				s.dropped.Inc(1)
			}
			return false
		}
	}
	s.queue = append(s.queue, scheduledTask{class: class, run: fn})
	s.cond.Signal()
	s.mu.Unlock()
	return true
}

// Run drains the queue in FIFO order until Shutdown is called. It is meant
// to be the body of the session's single dispatch goroutine.
func (s *Scheduler) Run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		task.run()
	}
}

// Shutdown stops accepting new tasks, wakes Run so it can exit once drained,
// and stops the worker pool. Idempotent.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.pool.StopWait()
}

// OffloadCPU hands latency-insensitive work to the shared thread pool. The
// function must not touch any overlay state directly; it should compute a
// result and Post it back for the dispatch goroutine to apply.
func (s *Scheduler) OffloadCPU(fn func()) {
	s.pool.Submit(fn)
}
