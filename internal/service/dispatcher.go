package service

import (
	"context"
	"errors"
	"sync"

	"github.com/kasper/vidmeta/internal/logger"
)

// ErrQueueFull is returned when no worker is free and the wait queue is at
// capacity.
var ErrQueueFull = errors.New("import queue is full")

// Runner executes one import run to completion.
type Runner interface {
	Run(ctx context.Context, submissionID string)
}

type dispatchJob struct {
	submissionID string
	done         chan struct{}
}

// Dispatcher hands submissions to a bounded worker pool. Submit returns a
// completion channel so callers (and tests) can await the run; there is no
// fire-and-forget path.
type Dispatcher struct {
	runner   Runner
	jobs     chan dispatchJob
	log      *logger.Logger
	wg       sync.WaitGroup
	capacity int // workers + maxQueued

	mu       sync.Mutex
	inFlight int // accepted submissions not yet finished
	closed   bool
}

// NewDispatcher starts workers goroutines draining a queue of maxQueued
// waiting submissions. With maxQueued zero there is no wait queue: up to
// workers submissions run at once and any further submission is rejected
// until one finishes.
func NewDispatcher(runner Runner, workers, maxQueued int, log *logger.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if maxQueued < 0 {
		maxQueued = 0
	}

	d := &Dispatcher{
		runner: runner,
		// Sized so an admitted job can always be handed over without
		// blocking; admission itself is bounded by inFlight.
		jobs:     make(chan dispatchJob, workers+maxQueued),
		log:      log,
		capacity: workers + maxQueued,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.runner.Run(context.Background(), job.submissionID)
		close(job.done)
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}
}

// Submit enqueues a run and returns a channel closed when the run finishes.
// It never blocks: when every worker is busy and the wait queue is full it
// yields ErrQueueFull. An idle pool always accepts.
func (d *Dispatcher) Submit(submissionID string) (<-chan struct{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("dispatcher is shut down")
	}
	if d.inFlight >= d.capacity {
		d.log.WithField(logger.FieldSubmissionID, submissionID).Warn("Import queue full, rejecting submission")
		return nil, ErrQueueFull
	}

	job := dispatchJob{submissionID: submissionID, done: make(chan struct{})}
	d.inFlight++
	d.jobs <- job
	return job.done, nil
}

// Shutdown stops accepting submissions and waits for in-flight runs, up to
// the context deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
