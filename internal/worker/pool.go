// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package worker bounds concurrent work with a counting semaphore. Blocking
// calls such as browser automation and process spawning run on a Pool so
// the caller can stop waiting when its context ends.
package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs at most n functions at once.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewPool returns a Pool of size n. n < 1 is treated as 1.
func NewPool(n int) *Pool {
	return &Pool{sem: semaphore.NewWeighted(int64(max(n, 1)))}
}

// Do waits for a free slot, runs fn on its own goroutine, and returns its
// error. When ctx ends first Do returns ctx.Err() and fn keeps its slot
// until it returns.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	done := make(chan error, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		done <- run(ctx, fn)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go waits for a free slot and runs fn in the background.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		run(ctx, func(ctx context.Context) error { fn(ctx); return nil })
	}()
	return nil
}

// Wait blocks until every started function returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// run converts a panic in fn into an error.
func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
