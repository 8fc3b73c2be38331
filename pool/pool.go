// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pool implements the bounded thread pool used by stages
// for intra-rank parallelism: parallel I/O in the reader and
// map-reduce fan-in. Tasks are pure functions of their arguments;
// results and failures are carried by futures, never across
// goroutine boundaries as panics.
package pool

import (
	"context"
	"runtime"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
)

// A Pool runs submitted tasks with bounded concurrency.
type Pool struct {
	lim  *limiter.Limiter
	size int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns a pool that runs at most size tasks concurrently.
// Size -1 (or 0) selects the hardware concurrency.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	lim := limiter.New()
	lim.Release(size)
	return &Pool{lim: lim, size: size}
}

// Size returns the pool's concurrency bound.
func (p *Pool) Size() int { return p.size }

// A Future carries the eventual result of a submitted task.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the task completes or the context is done, and
// returns the task's result.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Err blocks until the task completes and returns its error.
func (f *Future[T]) Err(ctx context.Context) error {
	_, err := f.Wait(ctx)
	return err
}

// Submit schedules f on the pool and returns its future. Submission
// never blocks; admission is gated by the pool's bound. A panicking
// task resolves its future with an error.
func Submit[T any](ctx context.Context, p *Pool, f func(ctx context.Context) (T, error)) *Future[T] {
	fut := &Future[T]{done: make(chan struct{})}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fut.err = errors.E(errors.Unavailable, "pool: submit on a shut down pool")
		close(fut.done)
		return fut
	}
	p.wg.Add(1)
	p.mu.Unlock()
	go func() {
		defer p.wg.Done()
		defer close(fut.done)
		if err := p.lim.Acquire(ctx, 1); err != nil {
			fut.err = err
			return
		}
		defer p.lim.Release(1)
		defer func() {
			if r := recover(); r != nil {
				fut.err = errors.E(errors.Fatal, "pool: task panicked", errors.New(panicString(r)))
			}
		}()
		fut.val, fut.err = f(ctx)
	}()
	return fut
}

// WaitAll waits for every future and returns their results in
// submission order alongside the first error observed.
func WaitAll[T any](ctx context.Context, futures []*Future[T]) ([]T, error) {
	vals := make([]T, len(futures))
	var first error
	for i, f := range futures {
		v, err := f.Wait(ctx)
		if err != nil && first == nil {
			first = err
		}
		vals[i] = v
	}
	return vals, first
}

// Shutdown waits for in-flight tasks to complete and rejects
// further submissions. There is no forced termination; workers run
// to completion.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

func panicString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "unknown panic"
}
