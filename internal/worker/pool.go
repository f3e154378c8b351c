// Package worker runs fire-and-forget work off the dispatch path
// (spec.md §5). The server uses it only for audit-event publishes;
// historian reads and identity-token validation run inline on the
// dispatching goroutine and do not go through this pool.
//
// Grounded on the teacher's WorkerPool (worker_pool.go), generalized
// from a fixed broadcast-fanout pool to a general task offload pool
// whose completions re-enter the dispatch loop via a result channel
// rather than a shared broadcast call.
package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/nexroute/opcua-server/internal/metrics"
)

// Task is a unit of work with no parameters or return value, for
// fire-and-forget offload (e.g. an audit event publish).
type Task func()

// Pool manages a fixed set of worker goroutines pulling from a bounded
// task queue. A full queue drops the task rather than spawning an
// unbounded number of goroutines (spec.md §5: "must not be able to
// stall the dispatch loop").
type Pool struct {
	workerCount  int
	taskQueue    chan Task
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	droppedTasks int64
	logger       zerolog.Logger
}

// NewPool creates a pool with workerCount goroutines and a queue sized
// queueSize. Call Start before Submit.
func NewPool(workerCount, queueSize int, logger zerolog.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		logger:      logger,
	}
}

// Start launches the worker goroutines. Safe to call only once.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		case <-p.ctx.Done():
			return
		}
	}
}

// run executes task with panic recovery: a wedged or panicking
// functor must not take the whole worker pool down with it, matching
// the teacher's WorkerPool.worker panic-recovery block (spec.md §7).
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("worker: task panicked, pool continues")
			metrics.ServiceErrors.WithLabelValues("worker", "panic").Inc()
		}
	}()
	task()
}

// Submit enqueues task for asynchronous execution. Returns false if the
// queue was full and the task was dropped instead.
func (p *Pool) Submit(task Task) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		atomic.AddInt64(&p.droppedTasks, 1)
		metrics.ServiceErrors.WithLabelValues("worker", "queue_full").Inc()
		return false
	}
}

// SubmitResult offloads fn and delivers its result on the returned
// channel once fn completes, for the dispatch loop to drain on its next
// pass rather than blocking on fn directly. The channel is buffered so
// a worker never blocks on a receiver that never shows up.
func SubmitResult[T any](p *Pool, fn func() T) <-chan T {
	out := make(chan T, 1)
	ok := p.Submit(func() {
		out <- fn()
	})
	if !ok {
		close(out)
	}
	return out
}

// Stop closes the task queue and waits for in-flight tasks to finish.
// Safe to call once; a second call panics like closing any closed
// channel would, matching the teacher's contract.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	close(p.taskQueue)
	p.wg.Wait()
}

// DroppedTasks returns the number of tasks dropped because the queue
// was full when Submit was called.
func (p *Pool) DroppedTasks() int64 { return atomic.LoadInt64(&p.droppedTasks) }

// QueueDepth returns the number of tasks currently waiting in the queue.
func (p *Pool) QueueDepth() int { return len(p.taskQueue) }

// QueueCapacity returns the queue's fixed buffer size.
func (p *Pool) QueueCapacity() int { return cap(p.taskQueue) }
