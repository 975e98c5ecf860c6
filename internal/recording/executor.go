package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// executor runs submitted functions one at a time, in submission order, on a
// single goroutine. State touched only from executor tasks needs no locking.
type executor struct {
	tasks chan func()
	log   *slog.Logger
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newExecutor(log *slog.Logger, depth int) *executor {
	if depth <= 0 {
		depth = 1
	}
	e := &executor{tasks: make(chan func(), depth), log: log}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *executor) loop() {
	defer e.wg.Done()
	for fn := range e.tasks {
		e.run(fn)
	}
}

func (e *executor) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("executor task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Go enqueues fn. It blocks while the queue is full and returns false once
// the executor is closed.
func (e *executor) Go(fn func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	e.tasks <- fn
	return true
}

// Run enqueues fn and waits for it to finish or for ctx to end. When ctx ends
// first, fn still runs later.
func (e *executor) Run(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !e.Go(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, drains queued tasks and waits for the loop to exit.
func (e *executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.tasks)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
