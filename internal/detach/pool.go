// Package detach runs fire-and-forget work off the caller's path.
//
// Matching passes and broker publishes are started from request handlers and
// WebSocket broadcasts; the caller must not wait for them, but the number in
// flight is bounded and tests need a way to wait for them to settle.
package detach

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrently running detached tasks using a weighted semaphore.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
	log *slog.Logger
}

// NewPool creates a Pool that runs at most limit tasks at once.
func NewPool(limit int, log *slog.Logger) *Pool {
	if limit < 1 {
		limit = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), log: log}
}

// Go starts fn in the background and returns immediately. The task waits for
// a free slot; if ctx ends first the task is dropped and logged. Panics in fn
// are recovered and logged. A nil pool runs fn on a plain goroutine.
func (p *Pool) Go(ctx context.Context, name string, fn func(context.Context) error) {
	if p == nil {
		go func() { _ = fn(ctx) }()
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.log.WarnContext(ctx, "detached task dropped", "task", name, "error", err)
			return
		}
		defer p.sem.Release(1)

		if err := p.run(ctx, fn); err != nil {
			p.log.ErrorContext(ctx, "detached task failed", "task", name, "error", err)
		}
	}()
}

func (p *Pool) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every task started with Go has finished.
func (p *Pool) Wait() {
	if p != nil {
		p.wg.Wait()
	}
}
