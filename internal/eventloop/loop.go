// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package eventloop serializes every handler of the vault plugin onto one
// goroutine. Requests to the secret-storage service run off-loop and deliver
// their completion back onto the loop, so handlers never need locks of their
// own.
package eventloop

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Loop runs posted handlers one at a time in FIFO order.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	pending int
	waiters []chan struct{}
	closed  bool
}

// New creates a loop. Call Run to start dispatching.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn for execution on the loop.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return vaulterr.New(vaulterr.CodeOperationLoopClosed, "event loop is closed")
	}
	l.queue = append(l.queue, fn)
	l.pending++
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do runs fn on the loop and blocks until it has returned.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return vaulterr.Wrap(ctx.Err(), vaulterr.CodeOperationTimeout, "waiting for event loop")
	}
}

// Run dispatches handlers until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		fn, ok := l.next()
		if ok {
			l.dispatch(fn)
			continue
		}

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Close stops accepting new handlers. Already queued handlers still run.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued handlers plus in-flight requests.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// Wait blocks until no handler is queued and no request is in flight.
func (l *Loop) Wait(ctx context.Context) error {
	l.mu.Lock()
	if l.pending == 0 {
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return vaulterr.Wrap(ctx.Err(), vaulterr.CodeOperationTimeout, "waiting for pending operations")
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) dispatch(fn func()) {
	defer l.release()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event loop handler panicked", "panic", r)
		}
	}()
	fn()
}

func (l *Loop) acquire() {
	l.mu.Lock()
	l.pending++
	l.mu.Unlock()
}

func (l *Loop) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending--
	if l.pending > 0 {
		return
	}
	for _, ch := range l.waiters {
		close(ch)
	}
	l.waiters = nil
}

// Request runs work off the loop and delivers exactly one completion to done
// on the loop. It returns the request id used in logs.
func Request[T any](l *Loop, ctx context.Context, name string, work func(context.Context) (T, error), done func(T, error)) string {
	id := uuid.NewString()
	l.acquire()

	go func() {
		defer l.release()

		res, err := work(ctx)
		if postErr := l.Post(func() { done(res, err) }); postErr != nil {
			slog.Warn("dropping completion, event loop closed", "request", name, "request_id", id)
		}
	}()

	return id
}

// Await posts start onto the loop and blocks the caller until the completion
// start was handed is invoked. It must not be called on the loop.
func Await[T any](ctx context.Context, l *Loop, start func(done func(T, error))) (T, error) {
	type result struct {
		v   T
		err error
	}
	var zero T
	ch := make(chan result, 1)
	if err := l.Post(func() {
		start(func(v T, err error) { ch <- result{v, err} })
	}); err != nil {
		return zero, err
	}

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, vaulterr.Wrap(ctx.Err(), vaulterr.CodeOperationTimeout, "waiting for completion")
	}
}
