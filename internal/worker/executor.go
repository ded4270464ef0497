// Package worker provides the single background execution context that owns every
// asynchronous BLE operation of a session.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/surronlog/internal/groutine"
)

var (
	// ErrStopped is returned by Submit after Stop has been called
	ErrStopped = errors.New("executor stopped")
	// ErrQueueFull is returned by Submit when the dispatcher is not keeping up
	ErrQueueFull = errors.New("executor queue full")
)

// DefaultQueueSize is the number of submitted tasks that may wait for dispatch
const DefaultQueueSize = 64

// Func is the body of a task. It must return promptly once ctx is done.
type Func func(ctx context.Context)

// PanicFunc is called with the task name and the recovered panic converted to an error
type PanicFunc func(name string, err error)

// Task is a handle to a submitted unit of work
type Task struct {
	name   string
	fn     Func
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Name returns the task name given at submission
func (t *Task) Name() string { return t.name }

// Cancel cancels the task context. Waiting tasks are dropped at dispatch.
func (t *Task) Cancel() { t.cancel() }

// Done is closed when the task body has returned, or when the task was discarded
// without running.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task is done or the timeout elapses. Returns true if done.
func (t *Task) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// Executor runs submitted tasks on tracked goroutines that share one cancellable
// context. Submit starts tasks in FIFO dispatch order and lets them run side by side.
// SubmitOrdered tasks run one at a time, each starting after the previous one returned.
// Panics in task bodies are recovered and reported.
type Executor struct {
	logger  *logrus.Logger
	onPanic PanicFunc

	ctx     context.Context
	cancel  context.CancelFunc
	queue   chan *Task
	ordered chan *Task

	wg             sync.WaitGroup
	dispatcherDone chan struct{}
	orderedDone    chan struct{}
	submitMu       sync.RWMutex
	stopped        atomic.Bool
	stopOnce       sync.Once

	mu      sync.Mutex
	running map[*Task]struct{}
}

// Option configures an Executor
type Option func(*Executor)

// WithPanicHandler sets the callback for recovered task panics
func WithPanicHandler(fn PanicFunc) Option {
	return func(e *Executor) { e.onPanic = fn }
}

// WithQueueSize overrides DefaultQueueSize for both queues
func WithQueueSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.queue = make(chan *Task, n)
			e.ordered = make(chan *Task, n)
		}
	}
}

// New creates and starts an executor. If the logger is nil, a default logger is used.
func New(logger *logrus.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		queue:          make(chan *Task, DefaultQueueSize),
		ordered:        make(chan *Task, DefaultQueueSize),
		dispatcherDone: make(chan struct{}),
		orderedDone:    make(chan struct{}),
		running:        make(map[*Task]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	groutine.Go(ctx, "executor-dispatcher", e.dispatch)
	groutine.Go(ctx, "executor-ordered", e.runOrdered)
	return e
}

// Context returns the executor context; it is cancelled by Stop
func (e *Executor) Context() context.Context {
	return e.ctx
}

// Stopped reports whether Stop has been called
func (e *Executor) Stopped() bool {
	return e.stopped.Load()
}

// Submit queues fn for execution and returns without waiting for it to start
func (e *Executor) Submit(name string, fn Func) (*Task, error) {
	return e.enqueue(e.queue, name, fn)
}

// SubmitOrdered queues fn behind every earlier SubmitOrdered task. It starts once
// the previous ordered task has returned.
func (e *Executor) SubmitOrdered(name string, fn Func) (*Task, error) {
	return e.enqueue(e.ordered, name, fn)
}

func (e *Executor) enqueue(queue chan *Task, name string, fn Func) (*Task, error) {
	e.submitMu.RLock()
	defer e.submitMu.RUnlock()

	if e.stopped.Load() {
		return nil, ErrStopped
	}

	ctx, cancel := context.WithCancel(e.ctx)
	t := &Task{
		name:   name,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	select {
	case queue <- t:
		return t, nil
	default:
		cancel()
		e.logger.WithField("task", name).Warn("Executor queue full, task rejected")
		return nil, ErrQueueFull
	}
}

func (e *Executor) dispatch(ctx context.Context) {
	defer close(e.dispatcherDone)

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.queue:
			if t.ctx.Err() != nil {
				e.discard(t)
				continue
			}
			e.launch(t)
		}
	}
}

func (e *Executor) runOrdered(ctx context.Context) {
	defer close(e.orderedDone)

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.ordered:
			if t.ctx.Err() != nil {
				e.discard(t)
				continue
			}
			e.launch(t)

			select {
			case <-t.done:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Executor) launch(t *Task) {
	e.mu.Lock()
	e.running[t] = struct{}{}
	e.mu.Unlock()

	e.wg.Add(1)

	groutine.GoSafe(t.ctx, t.name, func(ctx context.Context) {
		defer e.finish(t)
		t.fn(ctx)
	}, e.reportPanic)
}

func (e *Executor) finish(t *Task) {
	t.cancel()

	e.mu.Lock()
	delete(e.running, t)
	e.mu.Unlock()

	close(t.done)
	e.wg.Done()
}

func (e *Executor) discard(t *Task) {
	t.cancel()
	close(t.done)
	e.logger.WithField("task", t.name).Debug("Discarded task cancelled before dispatch")
}

func (e *Executor) reportPanic(name string, recovered any, stack []byte) {
	err := groutine.PanicError(name, recovered)
	e.logger.WithFields(logrus.Fields{
		"task":  name,
		"error": err,
		"stack": string(stack),
	}).Error("Task panicked")

	if e.onPanic != nil {
		e.onPanic(name, err)
	}
}

func (e *Executor) drain(queue chan *Task) {
	for {
		select {
		case t := <-queue:
			e.discard(t)
		default:
			return
		}
	}
}

// Running returns the number of tasks whose body is currently executing
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Stop cancels every task, discards queued ones and waits up to timeout for running
// task bodies to return. Returns true if all of them returned in time. Stop is
// idempotent; later calls only wait.
func (e *Executor) Stop(timeout time.Duration) bool {
	e.stopOnce.Do(func() {
		e.submitMu.Lock()
		e.stopped.Store(true)
		e.submitMu.Unlock()

		e.cancel()
		<-e.dispatcherDone
		<-e.orderedDone

		e.drain(e.queue)
		e.drain(e.ordered)
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		e.logger.WithFields(logrus.Fields{
			"timeout": timeout,
			"running": e.Running(),
		}).Warn("Executor stop timed out, abandoning running tasks")
		return false
	}
}
