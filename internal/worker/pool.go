// Package worker runs background page-count jobs for staged files so
// the upload flow never blocks on document parsing.
package worker

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/example/printkiosk/internal/pagecount"
)

var (
	// ErrQueueFull is returned when the task queue has no room
	ErrQueueFull = errors.New("worker queue is full")
	// ErrStopped is returned when submitting to a stopped pool
	ErrStopped = errors.New("worker pool is stopped")
)

// Task is one page-count job
type Task struct {
	ID        string
	Run       func() (pagecount.Result, error)
	Result    chan pagecount.Result
	Error     chan error
	Submitted time.Time
}

// NewTask wraps a count function for submission
func NewTask(id string, run func() (pagecount.Result, error)) *Task {
	return &Task{
		ID:        id,
		Run:       run,
		Result:    make(chan pagecount.Result, 1),
		Error:     make(chan error, 1),
		Submitted: time.Now(),
	}
}

// Pool fans tasks out over a fixed set of worker goroutines
type Pool struct {
	tasks   chan *Task
	workers int
	wg      sync.WaitGroup
	quit    chan struct{}

	mu      sync.RWMutex
	active  map[string]*Task
	stopped bool
}

// NewPool creates and starts a pool
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	p := &Pool{
		tasks:   make(chan *Task, queueSize),
		workers: workers,
		quit:    make(chan struct{}),
		active:  make(map[string]*Task),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

// Stop shuts the pool down and waits for in-flight tasks. Tasks still
// queued when the workers exit are failed with ErrStopped so nobody
// blocks on a result that will never come.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.quit)
	p.wg.Wait()

	for {
		select {
		case task := <-p.tasks:
			p.mu.Lock()
			delete(p.active, task.ID)
			p.mu.Unlock()
			task.Error <- ErrStopped
		default:
			return
		}
	}
}

// Submit queues a task. The caller reads Task.Result or Task.Error.
// Enqueueing happens under the lock so a task can never slip past a
// concurrent Stop's drain.
func (p *Pool) Submit(task *Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.tasks <- task:
		p.active[task.ID] = task
		return nil
	default:
		return ErrQueueFull
	}
}

// Active returns the number of queued or running tasks
func (p *Pool) Active() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.tasks:
			res, err := task.Run()

			p.mu.Lock()
			delete(p.active, task.ID)
			p.mu.Unlock()

			if err != nil {
				log.Printf("Page count task %s failed: %v", task.ID, err)
				task.Error <- err
			} else {
				task.Result <- res
			}
		case <-p.quit:
			return
		}
	}
}
