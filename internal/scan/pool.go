package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Job is one unit of scan work executed on a pool worker.
type Job func(ctx context.Context) error

// ErrQueueFull is returned by Submit when the queue cannot take another job;
// callers fall back to running the job inline for backpressure.
var ErrQueueFull = errors.New("scan pool queue is full")

// WorkerPool bounds how many file scans run concurrently, keeping scanner
// subprocess I/O off the main pipeline.
type WorkerPool struct {
	queue   chan Job
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorkerPool creates a pool with the given worker count and queue depth.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:   make(chan Job, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (p *WorkerPool) Start() {
	slog.Debug("scan pool starting", "workers", p.workers, "queue_size", cap(p.queue))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the queue, drains outstanding jobs and waits for the workers.
func (p *WorkerPool) Stop() {
	close(p.queue)
	p.wg.Wait()
	p.cancel()
	slog.Debug("scan pool stopped")
}

// Submit enqueues a job without blocking.
func (p *WorkerPool) Submit(job Job) error {
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for job := range p.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic in scan worker", "worker_id", id, "panic", r)
				}
			}()

			if err := job(p.ctx); err != nil {
				slog.Error("scan job failed", "worker_id", id, "error", err)
			}
		}()
	}
}
