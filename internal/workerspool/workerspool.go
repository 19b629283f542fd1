// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs independent tasks, like the fusion of separate graphs, with bounded parallelism.
package workerspool

import (
	"runtime"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Pool of workers. Each task runs in its own goroutine, at most MaxParallelism at a time.
type Pool struct {
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
	errs           []error
}

// New returns a new Pool. If maxParallelism <= 0, runtime.NumCPU() is used.
func New(maxParallelism int) *Pool {
	if maxParallelism <= 0 {
		maxParallelism = runtime.NumCPU()
	}
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// MaxParallelism is the maximum number of tasks running at the same time.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// Go waits until there is a worker available and runs the task in a separate goroutine.
//
// An error returned by the task, or a panic in it, is collected and returned by Wait.
func (w *Pool) Go(task func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning >= w.maxParallelism {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		var err error
		if exception := exceptions.Try(func() { err = task() }); exception != nil {
			err = errors.Errorf("task panicked: %v", exception)
		}
		w.mu.Lock()
		if err != nil {
			w.errs = append(w.errs, err)
		}
		w.numRunning--
		w.cond.Broadcast()
		w.mu.Unlock()
	}()
}

// Wait until all tasks started with Go are finished. It returns the first error collected, and the number
// of tasks that failed.
//
// The pool can be reused after Wait returns: the collected errors are reset.
func (w *Pool) Wait() (firstErr error, numFailed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning > 0 {
		w.cond.Wait()
	}
	if len(w.errs) > 0 {
		firstErr, numFailed = w.errs[0], len(w.errs)
	}
	w.errs = nil
	return
}
