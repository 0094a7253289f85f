// Package worker implements a small fixed-size background pool: a buffered
// task channel drained by N worker goroutines, with context-based
// shutdown. The probe-then-register flow and the stop reaper both run
// here, off the request path. Tasks are plain thunks with an injectable
// completion sink so tests can observe background work finishing without
// awaiting the HTTP response.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Task is a unit of background work. It receives a context cancelled when
// the pool is stopped.
type Task func(ctx context.Context)

// Result is delivered to the pool's completion sink (if any) once a task
// finishes.
type Result struct {
	TaskID    string
	Label     string
	Submitted time.Time
	Finished  time.Time
}

// Pool runs a fixed number of worker goroutines draining a buffered task
// channel.
type Pool struct {
	tasksChan chan submittedTask
	sink      chan<- Result
	workers   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type submittedTask struct {
	id        string
	label     string
	fn        Task
	submitted time.Time
}

// New creates a Pool with the given number of workers. sink may be nil;
// when non-nil, every completed task's Result is sent there (tests use
// this to observe fire-and-forget work completing).
func New(workers int, sink chan<- Result) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		tasksChan: make(chan submittedTask, 100),
		sink:      sink,
		workers:   workers,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start spawns the worker goroutines.
func (p *Pool) Start() {
	log.Info().Int("workers", p.workers).Msg("starting worker pool")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop cancels the pool's context and waits for every worker goroutine to
// return. A task already running sees its context cancelled and is waited
// for; tasks still queued may be dropped without running. The task channel is deliberately never closed: workers also select on
// ctx.Done(), and leaving it open means a concurrent Submit can never
// race a send against a closed channel.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Submit enqueues a task for background execution. It blocks only while
// the task buffer is full; the task's completion is never awaited by the
// caller.
func (p *Pool) Submit(label string, fn Task) {
	select {
	case <-p.ctx.Done():
		log.Warn().Str("label", label).Msg("worker pool shutting down, task dropped")
		return
	default:
	}

	task := submittedTask{id: uuid.NewString(), label: label, fn: fn, submitted: time.Now()}
	select {
	case p.tasksChan <- task:
	case <-p.ctx.Done():
		log.Warn().Str("label", label).Msg("worker pool shutting down, task dropped")
	}
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.tasksChan:
			if !ok {
				return
			}
			p.execute(workerID, task)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) execute(workerID int, task submittedTask) {
	log.Debug().Int("worker_id", workerID).Str("task_id", task.id).Str("label", task.label).Msg("running background task")
	task.fn(p.ctx)

	if p.sink != nil {
		select {
		case p.sink <- Result{TaskID: task.id, Label: task.label, Submitted: task.submitted, Finished: time.Now()}:
		default:
			// sink full or unread; never block a worker on it
		}
	}
}
