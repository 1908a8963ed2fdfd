package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrStopped is returned by Submit when the pool is not accepting work.
	ErrStopped = errors.New("worker pool stopped")

	// ErrQueueFull is returned by TrySubmit when no queue slot is free.
	ErrQueueFull = errors.New("worker queue full")
)

// Task is a unit of background work. It receives the pool context.
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
}

// Pool runs submitted tasks on a fixed number of goroutines.
// Stop drains every accepted task before returning.
type Pool struct {
	logger *slog.Logger

	// Configuration
	concurrency int
	queueSize   int

	// Internal state
	mu         sync.RWMutex
	running    bool
	ctx        context.Context
	tasks      chan job
	stopCh     chan struct{}
	doneCh     chan struct{}
	submitters sync.WaitGroup
}

// PoolConfig holds configuration for the pool.
type PoolConfig struct {
	Logger      *slog.Logger
	Concurrency int // Number of concurrent task processors
	QueueSize   int // Tasks buffered before Submit blocks
}

// NewPool creates a new worker pool. Call Start before submitting.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	return &Pool{
		logger:      logger,
		concurrency: concurrency,
		queueSize:   queueSize,
	}
}

// Start launches the worker goroutines.
// Tasks observe ctx; cancelling it does not stop the pool, call Stop for that.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.ctx = ctx
	p.tasks = make(chan job, p.queueSize)
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	tasks := p.tasks
	doneCh := p.doneCh
	p.mu.Unlock()

	p.logger.Debug("worker pool starting",
		"concurrency", p.concurrency,
		"queue_size", p.queueSize,
	)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.processLoop(ctx, workerID, tasks)
		}(i)
	}

	go func() {
		wg.Wait()
		close(doneCh)
	}()

	return nil
}

// Submit queues fn. It blocks while the queue is full and fails once Stop has begun.
func (p *Pool) Submit(name string, fn Task) error {
	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		return ErrStopped
	}
	p.submitters.Add(1)
	tasks, stopCh := p.tasks, p.stopCh
	p.mu.RUnlock()
	defer p.submitters.Done()

	select {
	case <-stopCh:
		return ErrStopped
	default:
	}

	select {
	case tasks <- job{name: name, fn: fn}:
		return nil
	case <-stopCh:
		return ErrStopped
	}
}

// TrySubmit queues fn without waiting. It returns ErrQueueFull when the queue has no free slot.
func (p *Pool) TrySubmit(name string, fn Task) error {
	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		return ErrStopped
	}
	p.submitters.Add(1)
	tasks, stopCh := p.tasks, p.stopCh
	p.mu.RUnlock()
	defer p.submitters.Done()

	select {
	case <-stopCh:
		return ErrStopped
	default:
	}

	select {
	case tasks <- job{name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new work, runs what is already queued and waits for the workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	tasks, doneCh := p.tasks, p.doneCh
	p.mu.Unlock()

	// No Submit can be mid-send once this returns, so closing is safe.
	p.submitters.Wait()
	close(tasks)

	<-doneCh

	p.logger.Debug("worker pool stopped")
}

// Wait blocks until a started pool has stopped.
func (p *Pool) Wait() {
	p.mu.RLock()
	doneCh := p.doneCh
	p.mu.RUnlock()
	if doneCh != nil {
		<-doneCh
	}
}

// processLoop is the main processing loop for a worker goroutine.
func (p *Pool) processLoop(ctx context.Context, workerID int, tasks <-chan job) {
	logger := p.logger.With("worker_id", workerID)

	for j := range tasks {
		p.processTask(ctx, j, logger)
	}
}

// processTask runs a single task, containing panics so one bad task cannot kill the worker.
func (p *Pool) processTask(ctx context.Context, j job, logger *slog.Logger) {
	logger = logger.With("task", j.name)

	startTime := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return j.fn(ctx)
	}()
	duration := time.Since(startTime)

	if err != nil {
		logger.Warn("task failed",
			"duration", duration,
			"error", err,
		)
		return
	}

	logger.Debug("task completed", "duration", duration)
}

// Health describes the pool state.
type Health struct {
	Running     bool `json:"running"`
	Concurrency int  `json:"concurrency"`
	Queued      int  `json:"queued"`
}

// Health returns the health status of the pool.
func (p *Pool) Health() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()

	health := Health{
		Running:     p.running,
		Concurrency: p.concurrency,
	}
	if p.running {
		health.Queued = len(p.tasks)
	}
	return health
}
