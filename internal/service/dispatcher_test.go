package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kasper/vidmeta/internal/logger"
)

// blockingRunner holds each run until released so tests can fill the pool.
type blockingRunner struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, submissionID string) {
	r.mu.Lock()
	r.started = append(r.started, submissionID)
	r.mu.Unlock()
	<-r.release
}

func (r *blockingRunner) startedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

func TestDispatcherCompletionSignal(t *testing.T) {
	runner := newBlockingRunner()
	d := NewDispatcher(runner, 1, 0, logger.New(nil))
	defer d.Shutdown(context.Background())

	done, err := d.Submit("sub-1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case <-done:
		t.Fatal("completion signaled before the run finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(runner.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion never signaled")
	}
}

func TestDispatcherRejectsWhenFull(t *testing.T) {
	runner := newBlockingRunner()
	d := NewDispatcher(runner, 1, 1, logger.New(nil))
	defer func() {
		close(runner.release)
		d.Shutdown(context.Background())
	}()

	// Occupy the single worker.
	if _, err := d.Submit("busy"); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	waitFor(t, func() bool { return runner.startedCount() == 1 })

	// One slot waits in the queue.
	if _, err := d.Submit("queued"); err != nil {
		t.Fatalf("queued submit failed: %v", err)
	}

	// The next submission has nowhere to go.
	if _, err := d.Submit("overflow"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestDispatcherIdleWorkersAcceptWithoutQueue(t *testing.T) {
	runner := newBlockingRunner()
	d := NewDispatcher(runner, 2, 0, logger.New(nil))
	defer d.Shutdown(context.Background())

	// With no wait queue, an idle pool still accepts one submission per
	// worker; only submissions beyond the worker count are excess.
	done1, err := d.Submit("first")
	if err != nil {
		t.Fatalf("first submit on an idle pool failed: %v", err)
	}
	done2, err := d.Submit("second")
	if err != nil {
		t.Fatalf("second submit on an idle pool failed: %v", err)
	}
	waitFor(t, func() bool { return runner.startedCount() == 2 })

	if _, err := d.Submit("excess"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull with every worker busy, got %v", err)
	}

	close(runner.release)
	for _, done := range []<-chan struct{}{done1, done2} {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("run never completed")
		}
	}
}

func TestDispatcherRunsQueuedJobs(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release) // runs finish immediately
	d := NewDispatcher(runner, 2, 4, logger.New(nil))
	defer d.Shutdown(context.Background())

	var dones []<-chan struct{}
	for _, id := range []string{"a", "b", "c", "d"} {
		done, err := d.Submit(id)
		if err != nil {
			t.Fatalf("submit %s failed: %v", id, err)
		}
		dones = append(dones, done)
	}
	for i, done := range dones {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("run %d never completed", i)
		}
	}
	if runner.startedCount() != 4 {
		t.Errorf("expected 4 runs, got %d", runner.startedCount())
	}
}

func TestDispatcherRejectsAfterShutdown(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	d := NewDispatcher(runner, 1, 0, logger.New(nil))

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if _, err := d.Submit("late"); err == nil {
		t.Fatal("expected submissions after shutdown to be rejected")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
