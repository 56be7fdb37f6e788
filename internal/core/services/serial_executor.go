package services

import (
	"context"
	"sync"

	"callcore/internal/core/domain"

	"go.uber.org/zap"
)

// serialExecutor runs submitted tasks one at a time, in submission order, on a
// single goroutine. Submit never blocks, so engine callbacks can enqueue from
// their own goroutines while a task is running.
type serialExecutor struct {
	name    string
	logger  *zap.SugaredLogger
	onDepth func(depth int)

	mu      sync.Mutex
	queue   []func()
	running bool
	closed  bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func newSerialExecutor(name string, logger *zap.SugaredLogger, onDepth func(int)) *serialExecutor {
	e := &serialExecutor{
		name:    name,
		logger:  logger.With("executor", name),
		onDepth: onDepth,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *serialExecutor) Submit(task func()) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.ErrManagerStopped
	}
	e.queue = append(e.queue, task)
	depth := len(e.queue)
	e.mu.Unlock()

	if e.onDepth != nil {
		e.onDepth(depth)
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Sync waits until every task submitted before it has run.
func (e *serialExecutor) Sync(ctx context.Context) error {
	ran := make(chan struct{})
	if err := e.Submit(func() { close(ran) }); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop discards queued tasks and waits for the running one to return.
// It must not be called from a task.
func (e *serialExecutor) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.stopped
		return
	}
	e.closed = true
	e.queue = nil
	e.mu.Unlock()

	close(e.done)
	<-e.stopped
}

func (e *serialExecutor) run() {
	defer close(e.stopped)

	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
		}

		for {
			task, ok := e.next()
			if !ok {
				break
			}
			e.runTask(task)

			select {
			case <-e.done:
				return
			default:
			}
		}
	}
}

func (e *serialExecutor) next() (func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil, false
	}
	task := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	e.running = true
	return task, true
}

// Idle reports whether nothing is queued or running.
func (e *serialExecutor) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) == 0 && !e.running
}

func (e *serialExecutor) runTask(task func()) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		if r := recover(); r != nil {
			e.logger.Errorw("task panicked", "panic", r)
		}
	}()
	task()
}
