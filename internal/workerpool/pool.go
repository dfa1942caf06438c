// Package workerpool runs publish tasks on a fixed set of goroutines.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/netmetrics/internal/logging"
)

var log = logging.L("workerpool")

// Task receives the pool context, which is cancelled when Shutdown gives up
// waiting.
type Task func(ctx context.Context)

// Pool is a bounded goroutine pool with a fixed-size queue.
type Pool struct {
	queue     chan Task
	wg        sync.WaitGroup
	mu        sync.RWMutex
	accepting bool
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	rejected  atomic.Uint64
}

// New starts workers goroutines reading from a queue of queueSize tasks.
func New(workers, queueSize int) *Pool {
	workers = max(workers, 1)
	queueSize = max(queueSize, 1)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:     make(chan Task, queueSize),
		accepting: true,
		ctx:       ctx,
		cancel:    cancel,
	}
	for range workers {
		go p.worker()
	}
	log.Debug("worker pool started", "workers", workers, "queueSize", queueSize)
	return p
}

// Submit enqueues task without blocking. It returns false once Shutdown has
// been called or when the queue is full.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.accepting {
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.wg.Done()
		p.rejected.Add(1)
		log.Warn("worker pool queue full, task rejected")
		return false
	}
}

// Rejected returns how many tasks were dropped on a full queue.
func (p *Pool) Rejected() uint64 {
	return p.rejected.Load()
}

// Context is cancelled when Shutdown times out.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Shutdown stops accepting tasks and waits for queued ones until ctx is done.
// On timeout the pool context is cancelled so running tasks can abort.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.queue) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool shutdown timed out")
	}
	p.cancel()
}

func (p *Pool) worker() {
	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
